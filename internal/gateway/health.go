package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
)

// Health component names.
const (
	ComponentLine     = "line"
	ComponentCounters = "counters"
	ComponentUplink   = "uplink"
	ComponentMQTT     = "mqtt"
	ComponentInfluxDB = "influxdb"
	ComponentDatabase = "database"
)

const healthCheckTimeout = 3 * time.Second

// Health reports every subsystem. The gateway is degraded when any enabled
// component is unhealthy. The line component is healthy while at least one
// configured machine is connected.
func (g *Gateway) Health(ctx context.Context) api.Health {
	components := make(map[string]api.ComponentHealth, 6)

	total, connected := len(g.machines), g.deps.Registry.ConnectedCount()
	components[ComponentLine] = api.ComponentHealth{
		Enabled: total > 0,
		Healthy: total == 0 || connected > 0,
		Detail:  fmt.Sprintf("%d/%d connected", connected, total),
	}

	if p := g.deps.Counters; p != nil {
		components[ComponentCounters] = api.ComponentHealth{
			Enabled: true,
			Healthy: p.IsOnline(),
			Detail:  fmt.Sprintf("%d machines mapped", len(g.counterMachines)),
		}
	} else {
		components[ComponentCounters] = api.ComponentHealth{}
	}

	if u := g.deps.Uplink; u != nil {
		st := u.Status()
		components[ComponentUplink] = api.ComponentHealth{
			Enabled: true,
			Healthy: st.IsOnline,
			Detail:  fmt.Sprintf("%d pending, %d retries", st.BufferSize, st.RetryCount),
		}
	} else {
		components[ComponentUplink] = api.ComponentHealth{}
	}

	if p := g.deps.Publisher; p != nil {
		components[ComponentMQTT] = api.ComponentHealth{Enabled: true, Healthy: p.IsConnected()}
	} else {
		components[ComponentMQTT] = api.ComponentHealth{}
	}

	if s := g.deps.Series; s != nil {
		components[ComponentInfluxDB] = api.ComponentHealth{Enabled: true, Healthy: s.IsConnected()}
	} else {
		components[ComponentInfluxDB] = api.ComponentHealth{}
	}

	if db := g.deps.Database; db != nil {
		cctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := db.HealthCheck(cctx)
		cancel()
		c := api.ComponentHealth{Enabled: true, Healthy: err == nil}
		if err != nil {
			c.Detail = err.Error()
		}
		components[ComponentDatabase] = c
	} else {
		components[ComponentDatabase] = api.ComponentHealth{}
	}

	status := api.HealthOK
	for _, c := range components {
		if c.Enabled && !c.Healthy {
			status = api.HealthDegraded
			break
		}
	}

	g.runMu.Lock()
	started := g.started
	g.runMu.Unlock()
	var uptime float64
	if !started.IsZero() {
		uptime = g.now().Sub(started).Seconds()
	}

	return api.Health{
		Status:     status,
		GatewayID:  g.gatewayID,
		Version:    g.deps.Version,
		Uptime:     uptime,
		Components: components,
	}
}

// reportHealth publishes the health summary and refreshes status gauges.
func (g *Gateway) reportHealth(context.Context) {
	msg := mqtt.HealthMessage{
		GatewayID: g.gatewayID,
		Timestamp: g.now().UTC(),
		Machines:  g.deps.Registry.AllConnectionStates(),
	}

	if u := g.deps.Uplink; u != nil {
		st := u.Status()
		msg.UplinkOnline = st.IsOnline
		msg.UplinkPending = st.BufferSize
		g.deps.Metrics.SetUplinkStatus(st.BufferSize, st.IsOnline)
	}
	if p := g.deps.Counters; p != nil {
		online := p.IsOnline()
		msg.ADAMOnline = &online
	}

	if p := g.deps.Publisher; p != nil && p.IsConnected() {
		if err := p.PublishHealth(msg); err != nil {
			g.logger.Warn("publishing health failed", "error", err)
		}
	}
}
