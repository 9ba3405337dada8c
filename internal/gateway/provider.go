package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/bridges/adam"
	"github.com/nerrad567/gray-logic-gateway/internal/bridges/shdr"
	"github.com/nerrad567/gray-logic-gateway/internal/cycletime"
	"github.com/nerrad567/gray-logic-gateway/internal/production"
	"github.com/nerrad567/gray-logic-gateway/internal/uplink"
)

var _ api.Provider = (*Gateway)(nil)

// Machines returns every line-protocol machine in configuration order.
func (g *Gateway) Machines() []api.MachineView {
	out := make([]api.MachineView, 0, len(g.machines))
	for _, m := range g.machines {
		out = append(out, g.view(m))
	}
	return out
}

// Machine returns one line-protocol machine.
func (g *Gateway) Machine(id string) (api.MachineView, error) {
	m, ok := g.byID[id]
	if !ok {
		return api.MachineView{}, fmt.Errorf("%w: %s", shdr.ErrUnknownDevice, id)
	}
	return g.view(m), nil
}

func (g *Gateway) view(m *machineInfo) api.MachineView {
	v := api.MachineView{
		ID:        m.id,
		Name:      m.name,
		Connected: g.deps.Registry.ConnectionState(m.id),
		Strategy:  m.chain.LastStrategy(),
	}
	if state, ok := g.deps.Registry.MachineState(m.id); ok {
		v.State = &state
	}
	if m.agent != nil {
		v.Agent = &api.AgentView{
			Running:  m.agent.IsRunning(),
			PID:      m.agent.PID(),
			Restarts: m.agent.RestartCount(),
			Status:   string(m.agent.Status()),
		}
	}
	return v
}

// Counters returns the last successful counter poll.
func (g *Gateway) Counters() []adam.CounterReading {
	if g.deps.Counters == nil {
		return []adam.CounterReading{}
	}
	readings, _ := g.deps.Counters.Latest()
	return readings
}

// reachable reports whether the source of a machine's counts is up.
func (g *Gateway) reachable(id string) bool {
	if _, ok := g.byID[id]; ok {
		return g.deps.Registry.ConnectionState(id)
	}
	if _, ok := g.counterMachines[id]; ok && g.deps.Counters != nil {
		return g.deps.Counters.IsOnline()
	}
	return false
}

// Estimates returns the current estimate of every machine with history,
// sorted by machine id.
func (g *Gateway) Estimates() []cycletime.Estimate {
	ids := g.deps.Estimator.Machines()

	now := g.now()
	out := make([]cycletime.Estimate, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.deps.Estimator.Evaluate(id, g.reachable(id), now))
	}
	return out
}

// Estimate returns the current estimate of one machine.
func (g *Gateway) Estimate(id string) (cycletime.Estimate, error) {
	if _, ok := g.deps.Estimator.Stats(id); !ok {
		return cycletime.Estimate{}, fmt.Errorf("%w: %s", shdr.ErrUnknownDevice, id)
	}
	return g.deps.Estimator.Evaluate(id, g.reachable(id), g.now()), nil
}

// Cycles returns the stored cycles of a machine in [from, to].
func (g *Gateway) Cycles(ctx context.Context, id string, from, to time.Time) ([]production.Cycle, error) {
	if g.deps.Store == nil {
		return nil, ErrNoAnalyzer
	}
	return g.deps.Store.ListCycles(ctx, id, from, to)
}

// Analyze computes OEE for a machine over [from, to] and forwards the result
// and any cycles not seen before to InfluxDB, MQTT and WebSocket clients.
func (g *Gateway) Analyze(ctx context.Context, id string, from, to time.Time) (production.Result, error) {
	if g.deps.Analyzer == nil {
		return production.Result{}, ErrNoAnalyzer
	}
	res, err := g.deps.Analyzer.Analyze(ctx, id, from, to)
	if err != nil {
		return production.Result{}, err
	}

	if s := g.deps.Series; s != nil {
		s.WriteOEE(id, res.Availability, res.Performance, res.Quality, res.OEE, res.To)
	}
	g.emitCycles(id, res.Cycles)
	return res, nil
}

// emitCycles forwards cycles that end after the last one forwarded.
func (g *Gateway) emitCycles(id string, cycles []production.Cycle) {
	g.mu.Lock()
	last := g.lastCycleEnd[id]
	fresh := make([]production.Cycle, 0, len(cycles))
	for _, c := range cycles {
		if c.EndTime.After(last) {
			fresh = append(fresh, c)
		}
	}
	if n := len(fresh); n > 0 {
		g.lastCycleEnd[id] = fresh[n-1].EndTime
	}
	g.mu.Unlock()

	if len(fresh) == 0 {
		return
	}
	g.deps.Metrics.CyclesRecorded(id, len(fresh))

	for _, c := range fresh {
		if s := g.deps.Series; s != nil {
			s.WriteCycle(c.MachineID, c.StartTime, c.EndTime, c.DurationSeconds)
		}
		if p := g.deps.Publisher; p != nil && p.IsConnected() {
			if err := p.PublishCycle(id, c); err != nil {
				g.logger.Debug("publishing cycle failed", "machine_id", id, "error", err)
			}
		}
		g.broadcast(api.ChannelCycle, c)
	}
}

// UplinkStatus returns the collector delivery state.
func (g *Gateway) UplinkStatus() uplink.Status {
	if g.deps.Uplink == nil {
		return uplink.Status{}
	}
	return g.deps.Uplink.Status()
}
