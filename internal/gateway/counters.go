package gateway

import (
	"math"
	"strings"

	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/bridges/adam"
	"github.com/nerrad567/gray-logic-gateway/internal/cycletime"
	"github.com/nerrad567/gray-logic-gateway/internal/production"
	"github.com/nerrad567/gray-logic-gateway/internal/uplink"
)

// CounterUpdate is the live view of one counter channel, published over MQTT
// and WebSocket. Discrete presence channels carry no estimate.
type CounterUpdate struct {
	Reading  adam.CounterReading `json:"reading"`
	Estimate *cycletime.Estimate `json:"estimate,omitempty"`
}

// executionFor maps an estimator status to the execution vocabulary used by
// line-protocol machines, so counter machines feed the same OEE logic.
func executionFor(status cycletime.MachineStatus) string {
	switch status {
	case cycletime.StatusActive:
		return production.ExecutionActive
	case cycletime.StatusIdle:
		return production.ExecutionReady
	default:
		return production.ExecutionUnavailable
	}
}

// presenceStatus maps a discrete channel to execution and machine status.
// An unreachable module reads as unavailable whatever the last input was.
func presenceStatus(present, reachable bool) (string, cycletime.MachineStatus) {
	switch {
	case !reachable:
		return production.ExecutionUnavailable, cycletime.StatusOffline
	case present:
		return production.ExecutionActive, cycletime.StatusActive
	default:
		return production.ExecutionReady, cycletime.StatusIdle
	}
}

// secondsRounded converts a millisecond estimate to seconds with two
// decimals. Nil stays nil.
func secondsRounded(ms *float64) *float64 {
	if ms == nil {
		return nil
	}
	s := math.Round(*ms/10) / 100
	return &s
}

// counterData builds the uplink payload for one counter reading.
func counterData(r adam.CounterReading, est cycletime.Estimate) map[string]any {
	data := map[string]any{
		"partCount":       r.Count,
		"channel":         r.Channel,
		"executionStatus": executionFor(est.Status),
		"isAnomalous":     est.IsAnomalous,
		"machineStatus":   strings.ToUpper(string(est.Status)),
		"idleTimeMinutes": int(est.IdleTime.Minutes()),
	}
	if s := secondsRounded(est.CycleTimeMs); s != nil {
		data["cycleTime"] = *s
	}
	return data
}

// handleReadings is the poller callback for a successful poll.
func (g *Gateway) handleReadings(readings []adam.CounterReading) {
	g.deps.Metrics.ADAMPoll(nil)
	now := g.now()

	for _, r := range readings {
		if r.MachineID == "" {
			continue
		}
		if r.Mode == adam.ModeDiscrete {
			g.emitPresence(r, true)
			continue
		}
		g.deps.Estimator.Update(r.MachineID, r.Count, r.Timestamp)
		est := g.deps.Estimator.Evaluate(r.MachineID, true, now)
		g.emitCounter(r, est)
	}
}

// handleCounterError is the poller callback for a failed poll. Every mapped
// machine is reported offline with its last known count.
func (g *Gateway) handleCounterError(err error) {
	g.deps.Metrics.ADAMPoll(err)
	g.adamWarn.Warn("counter poll failed", "error", err)

	now := g.now()
	latest, _ := g.deps.Counters.Latest()
	for _, r := range latest {
		if r.MachineID == "" {
			continue
		}
		r.Timestamp = now
		if r.Mode == adam.ModeDiscrete {
			g.emitPresence(r, false)
			continue
		}
		est := g.deps.Estimator.Evaluate(r.MachineID, false, now)
		g.emitCounter(r, est)
	}
}

func (g *Gateway) counterName(r adam.CounterReading) string {
	if configured, ok := g.counterMachines[r.MachineID]; ok && configured != "" {
		return configured
	}
	return r.MachineName
}

// observeCounter records a sample when the machine's execution status or
// part count differs from the last one seen. partCount is nil for presence
// channels.
func (g *Gateway) observeCounter(r adam.CounterReading, execution string, partCount *int64) {
	g.mu.Lock()
	prev, seen := g.lastCounter[r.MachineID]
	changed := !seen || prev.differs(execution, partCount)
	if changed {
		g.lastCounter[r.MachineID] = observed{execution: execution, partCount: partCount}
	}
	g.mu.Unlock()

	if changed {
		g.recordSample(production.Sample{
			MachineID:       r.MachineID,
			Timestamp:       r.Timestamp,
			ExecutionStatus: execution,
			PartCount:       partCount,
			Source:          production.SourceADAM,
		})
	}
}

func (g *Gateway) publishCounter(update CounterUpdate) {
	if p := g.deps.Publisher; p != nil && p.IsConnected() {
		if err := p.PublishCounter(update.Reading.MachineID, update); err != nil {
			g.logger.Debug("publishing counter failed", "machine_id", update.Reading.MachineID, "error", err)
		}
	}
}

// emitPresence forwards a discrete channel. Presence is not a quantity, so
// it never reaches the estimator and its samples carry no part count.
func (g *Gateway) emitPresence(r adam.CounterReading, reachable bool) {
	execution, status := presenceStatus(r.Present, reachable)

	g.submit(uplink.Record{
		MachineID:   r.MachineID,
		MachineName: g.counterName(r),
		Timestamp:   r.Timestamp,
		Data: map[string]any{
			"present":         r.Present,
			"channel":         r.Channel,
			"executionStatus": execution,
			"machineStatus":   strings.ToUpper(string(status)),
		},
	})

	g.observeCounter(r, execution, nil)
	g.publishCounter(CounterUpdate{Reading: r})
	g.broadcast(api.ChannelCounter, r)
}

func (g *Gateway) emitCounter(r adam.CounterReading, est cycletime.Estimate) {
	g.submit(uplink.Record{
		MachineID:   r.MachineID,
		MachineName: g.counterName(r),
		Timestamp:   r.Timestamp,
		Data:        counterData(r, est),
	})

	count := int64(r.Count)
	g.observeCounter(r, executionFor(est.Status), &count)
	g.publishCounter(CounterUpdate{Reading: r, Estimate: &est})

	if s := g.deps.Series; s != nil {
		s.WriteCounter(r.MachineID, r.Channel, r.Count, r.Timestamp)
		s.WriteEstimate(r.MachineID, secondsRounded(est.CycleTimeMs), string(est.Confidence),
			string(est.Status), est.IsAnomalous, r.Timestamp)
	}
	g.broadcast(api.ChannelCounter, r)
	g.broadcast(api.ChannelEstimate, est)
}
