// Package metrics exposes gateway Prometheus metrics.
//
// All collectors live on a private registry so tests and multiple
// instances never collide with the default registerer. Every recording
// method is safe on a nil *Metrics, which lets components run without
// metrics wired.
//
// Usage:
//
//	m := metrics.New()
//	m.SetMachineConnected("M01", true)
//	mux.Handle("/metrics", m.Handler())
package metrics
