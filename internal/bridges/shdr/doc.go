// Package shdr connects the gateway to machine tool adapters that stream
// SHDR, the pipe-delimited line protocol used by MTConnect adapters.
//
// Each line has the form
//
//	2026-03-01T08:00:00.000Z|avail|AVAILABLE|execution|ACTIVE|part_count|42
//
// where field 0 is the adapter timestamp and the remaining fields are
// item/value pairs.
//
// # Components
//
//   - Client owns one TCP connection per adapter. It frames lines, parses
//     records, applies a per-device Transform and allow-list, and reconnects
//     at a fixed interval up to a consecutive failure cap.
//   - Registry supervises one Client per device and keeps the latest record
//     per item, exposing copies through Snapshot and MachineState.
//
// # Connection lifecycle
//
//	disconnected -> connecting -> connected -> disconnected (error, EOF or idle)
//	                    ^                           |
//	                    +------ reconnect timer ----+
//
// After MaxReconnectAttempts consecutive failures the client stops and emits
// EventMaxAttemptsReached. Restart re-arms it.
//
// # Usage
//
//	reg, err := shdr.NewRegistry([]shdr.Config{{DeviceID: "M01", Host: "10.0.0.5", Port: 7878}})
//	if err != nil {
//	    return err
//	}
//	reg.SetLogger(logger)
//	reg.Start(ctx)
//	defer reg.Close()
//
//	if ms, ok := reg.MachineState("M01"); ok {
//	    fmt.Println(ms.Execution, ms.PartCount)
//	}
package shdr
