package gateway

import (
	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/bridges/shdr"
	"github.com/nerrad567/gray-logic-gateway/internal/production"
)

// handleLineEvent is the registry callback. It runs on the emitting client's
// dispatcher, after the registry has applied the record to its snapshot.
func (g *Gateway) handleLineEvent(ev shdr.Event) {
	m := g.deps.Metrics

	switch ev.Type {
	case shdr.EventRecord:
		m.LineRecord(ev.DeviceID)
		g.observeLine(ev)

	case shdr.EventConnected:
		m.LineEvent(ev.DeviceID, string(ev.Type))
		m.SetMachineConnected(ev.DeviceID, true)
		g.publishLineState(ev.DeviceID)

	case shdr.EventDisconnected:
		m.LineEvent(ev.DeviceID, string(ev.Type))
		m.SetMachineConnected(ev.DeviceID, false)
		g.publishLineState(ev.DeviceID)

	case shdr.EventMaxAttemptsReached:
		m.LineEvent(ev.DeviceID, string(ev.Type))
		g.logger.Warn("machine gave up reconnecting", "machine_id", ev.DeviceID, "error", ev.Err)

	case shdr.EventError:
		m.LineEvent(ev.DeviceID, string(ev.Type))
		g.logger.Debug("line client error", "machine_id", ev.DeviceID, "error", ev.Err)
	}
}

// observeLine turns a record into a stored sample and a state publication
// when the machine's execution status or part count changed.
func (g *Gateway) observeLine(ev shdr.Event) {
	state, ok := g.deps.Registry.MachineState(ev.DeviceID)
	if !ok {
		return
	}

	g.mu.Lock()
	prev, seen := g.lastLine[ev.DeviceID]
	changed := !seen || prev.differs(state.Execution, state.PartCount)
	if changed {
		g.lastLine[ev.DeviceID] = observed{execution: state.Execution, partCount: state.PartCount}
	}
	g.mu.Unlock()

	if !changed {
		return
	}

	if state.PartCount != nil && *state.PartCount >= 0 {
		g.deps.Estimator.Update(ev.DeviceID, uint64(*state.PartCount), ev.Time)
	}

	g.recordSample(production.Sample{
		MachineID:       ev.DeviceID,
		Timestamp:       ev.Time,
		ExecutionStatus: state.Execution,
		PartCount:       state.PartCount,
		Source:          production.SourceLine,
	})
	g.emitState(state)
}

// publishLineState publishes the current state after a connection change.
// Devices that never produced data have no state to publish.
func (g *Gateway) publishLineState(deviceID string) {
	state, ok := g.deps.Registry.MachineState(deviceID)
	if !ok {
		return
	}
	g.emitState(state)
}

func (g *Gateway) emitState(state shdr.MachineState) {
	if p := g.deps.Publisher; p != nil && p.IsConnected() {
		if err := p.PublishMachineState(state.DeviceID, state); err != nil {
			g.logger.Debug("publishing machine state failed", "machine_id", state.DeviceID, "error", err)
		}
	}
	if s := g.deps.Series; s != nil {
		at := state.LastUpdate
		if at.IsZero() {
			at = g.now()
		}
		s.WriteMachineState(state.DeviceID, state.Execution, state.Availability, state.PartCount, at)
	}
	g.broadcast(api.ChannelMachineState, state)
}
