// Package api implements the gateway's local HTTP status API and live
// WebSocket feed.
//
// This package provides:
//   - Read-only REST endpoints for machine state, counter readings,
//     cycle-time estimates, cycles, OEE and uplink status
//   - A restart action per machine
//   - A WebSocket hub broadcasting live events to subscribed clients
//   - The Prometheus /metrics endpoint
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server reads everything through the Provider interface, which the
// gateway orchestrator implements. Live events are pushed into the Hub by
// the orchestrator; the API never polls the bridges itself.
//
// # Graceful Degradation
//
// Endpoints for disabled subsystems return empty collections rather than
// errors, so dashboards keep working on partial deployments.
package api
