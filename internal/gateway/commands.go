package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/bridges/shdr"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gateway/internal/production"
	"github.com/nerrad567/gray-logic-gateway/internal/uplink"
)

// FlushEvent is the live view of one uplink delivery attempt.
type FlushEvent struct {
	BatchID    string  `json:"batchId"`
	Records    int     `json:"records"`
	DurationMs float64 `json:"durationMs"`
	Error      string  `json:"error,omitempty"`
	Dropped    bool    `json:"dropped,omitempty"`
}

// handleCommand is the MQTT command callback.
func (g *Gateway) handleCommand(cmd mqtt.Command) error {
	g.logger.Info("machine command received", "machine_id", cmd.MachineID, "action", cmd.Action)
	return g.RestartMachine(g.runContext(), cmd.MachineID)
}

// RestartMachine reconnects a line-protocol machine, clearing its reconnect
// cap, and starts its helper agent if it is configured but not running.
func (g *Gateway) RestartMachine(ctx context.Context, id string) error {
	m, ok := g.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", shdr.ErrUnknownDevice, id)
	}

	if err := g.deps.Registry.Restart(ctx, id); err != nil {
		return fmt.Errorf("restarting %s: %w", id, err)
	}

	if m.agent != nil && !m.agent.IsRunning() {
		if err := m.agent.Start(g.runContext()); err != nil {
			return fmt.Errorf("starting helper agent for %s: %w", id, err)
		}
		g.deps.Metrics.AgentRestart(id)
	}

	g.logger.Info("machine restarted", "machine_id", id)
	return nil
}

// handleFlush is the uplink flush callback.
func (g *Gateway) handleFlush(res uplink.FlushResult) {
	g.deps.Metrics.UplinkFlush(res.Records, res.Duration, res.Err, res.Dropped)

	ev := FlushEvent{
		BatchID:    res.BatchID,
		Records:    res.Records,
		DurationMs: float64(res.Duration) / float64(time.Millisecond),
		Dropped:    res.Dropped,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	g.broadcast(api.ChannelUplink, ev)
}

// meteredPruner counts pruned rows.
type meteredPruner struct {
	pruner  production.Pruner
	metrics *metrics.Metrics
}

// NewMeteredPruner wraps pruner so every successful prune is counted in m.
func NewMeteredPruner(pruner production.Pruner, m *metrics.Metrics) production.Pruner {
	return &meteredPruner{pruner: pruner, metrics: m}
}

// Prune implements production.Pruner.
func (p *meteredPruner) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := p.pruner.Prune(ctx, olderThan)
	if err == nil {
		p.metrics.Pruned(n)
	}
	return n, err
}
