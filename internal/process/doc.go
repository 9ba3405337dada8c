// Package process supervises helper processes the gateway depends on.
//
// The main user is the machine agent fallback: a vendor adapter binary that
// talks to a controller and serves its latest data over HTTP. When the
// in-process line protocol client cannot reach a machine, the gateway
// queries that agent instead and keeps it alive with a Manager.
//
// Features:
//   - Start/stop with graceful SIGTERM then SIGKILL of the process group
//   - Restart on unexpected exit with exponential backoff, a cap on
//     attempts, and a reset once the process has run stably
//   - Watchdog health checks that kill a hung process
//   - Line-based capture of stdout/stderr with a bounded tail for diagnostics
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:        "agent-M01",
//	    Binary:      "/opt/adapter/agent",
//	    Args:        []string{"--port", "5000"},
//	    HealthCheck: process.HTTPHealthCheck("http://127.0.0.1:5000/current", nil),
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
