package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/bridges/shdr"
	"github.com/nerrad567/gray-logic-gateway/internal/cycletime"
	"github.com/nerrad567/gray-logic-gateway/internal/uplink"
)

// unavailable is the line-protocol marker for an unknown value.
const unavailable = "UNAVAILABLE"

// AcquisitionEvent reports which strategy produced a machine's snapshot.
type AcquisitionEvent struct {
	MachineID string    `json:"machineId"`
	Strategy  string    `json:"strategy"`
	At        time.Time `json:"at"`
}

// snapshotData builds the uplink payload for one line-protocol machine.
// Unknown values are omitted. It returns nil when the state carries none of
// part count, program or execution status.
func snapshotData(state shdr.MachineState, est cycletime.Estimate) map[string]any {
	data := make(map[string]any, 6)

	if state.PartCount != nil {
		data["partCount"] = *state.PartCount
	}
	if state.Program != "" && state.Program != unavailable {
		data["program"] = state.Program
	}
	if state.Execution != "" && state.Execution != unavailable {
		data["executionStatus"] = state.Execution
	}
	if len(data) == 0 {
		return nil
	}

	if s := secondsRounded(est.CycleTimeMs); s != nil {
		data["cycleTime"] = *s
		data["cycleTimeConfidence"] = string(est.Confidence)
	}
	if mins := int(est.IdleTime.Minutes()); mins > 0 {
		data["idleTimeMinutes"] = mins
	}
	return data
}

// forwardSnapshots acquires every machine concurrently and submits one
// uplink record per machine that produced data.
func (g *Gateway) forwardSnapshots(ctx context.Context) {
	var wg sync.WaitGroup
	for _, m := range g.machines {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.forwardMachine(ctx, m)
		}()
	}
	wg.Wait()
}

func (g *Gateway) forwardMachine(ctx context.Context, m *machineInfo) {
	actx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	res, err := m.chain.Attempt(actx)
	g.deps.Metrics.Acquisition(m.id, res.Strategy, err)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			g.logger.Debug("no snapshot for machine", "machine_id", m.id, "error", err)
		}
		return
	}

	est := g.deps.Estimator.Evaluate(m.id, true, g.now())
	data := snapshotData(res.State, est)
	if data == nil {
		return
	}

	g.submit(uplink.Record{
		MachineID:   m.id,
		MachineName: m.name,
		Timestamp:   res.At,
		Data:        data,
	})

	if res.Strategy != "line" {
		// Line-protocol state is already published as records arrive.
		g.emitState(res.State)
	}
	g.broadcast(api.ChannelAcquisition, AcquisitionEvent{
		MachineID: m.id,
		Strategy:  res.Strategy,
		At:        res.At,
	})
}
