// Package influxdb provides InfluxDB connectivity for the Gray Logic gateway.
//
// It wraps the official influxdb-client-go v2 library and records
// production telemetry as time series:
//   - production_counter: raw counter channel readings
//   - cycle_estimate: rolling cycle-time estimates and machine status
//   - machine_state: line-protocol execution state and part count
//   - production_cycle: reconstructed cycles
//   - oee: OEE calculations per window
//
// Every point carries gateway_id and machine_id tags.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Gateway.ID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteCounter("SR-22", 0, 1042, time.Now())
//
// # Error Handling
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch errors are delivered via SetOnError.
package influxdb
