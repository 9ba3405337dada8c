// Package gateway wires the acquisition bridges to the gateway's outputs.
//
// A Gateway owns the runtime flow between components that otherwise know
// nothing of each other:
//
//	shdr.Registry events ──► samples (SQLite), MQTT state, InfluxDB, WebSocket
//	adam.Poller readings ──► cycletime.Estimator ──► uplink, samples, MQTT, InfluxDB
//	every SnapshotInterval ──► acquire.Chain per machine ──► uplink
//	MQTT commands ──► registry restart and helper agent start
//
// It also implements api.Provider, so the HTTP API reads everything through
// the gateway rather than reaching into individual components.
//
// Optional outputs (MQTT, InfluxDB, uplink, WebSocket, counter poller) may be
// left nil in Deps; the corresponding fan-out is skipped.
//
// Usage:
//
//	gw, err := gateway.New(gateway.Deps{Config: cfg, Logger: log, Registry: reg, ...})
//	if err != nil {
//	    return err
//	}
//	if err := gw.Start(ctx); err != nil {
//	    return err
//	}
//	defer gw.Stop()
package gateway
