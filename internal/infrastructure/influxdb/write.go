package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementCounter  = "production_counter"
	MeasurementEstimate = "cycle_estimate"
	MeasurementState    = "machine_state"
	MeasurementCycle    = "production_cycle"
	MeasurementOEE      = "oee"
)

func (c *Client) tags(machineID string, extra map[string]string) map[string]string {
	tags := map[string]string{
		"gateway_id": c.gatewayID,
		"machine_id": machineID,
	}
	for k, v := range extra {
		tags[k] = v
	}
	return tags
}

func (c *Client) write(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

// WriteCounter records one counter channel reading.
//
// Parameters:
//   - machineID: Machine the channel is mapped to
//   - channel: Counter channel index
//   - count: Raw counter value
//   - at: Read time
func (c *Client) WriteCounter(machineID string, channel int, count uint64, at time.Time) {
	// #nosec G115 -- counters are 32-bit on the wire
	c.write(MeasurementCounter,
		c.tags(machineID, map[string]string{"channel": strconv.Itoa(channel)}),
		map[string]any{"count": int64(count)},
		at,
	)
}

// WriteEstimate records a cycle-time estimate. A nil cycle time means the
// estimator had too little history and only status fields are written.
func (c *Client) WriteEstimate(machineID string, cycleTimeSeconds *float64, confidence, status string, anomalous bool, at time.Time) {
	fields := map[string]any{
		"status":       status,
		"confidence":   confidence,
		"is_anomalous": anomalous,
	}
	if cycleTimeSeconds != nil {
		fields["cycle_time_seconds"] = *cycleTimeSeconds
	}
	c.write(MeasurementEstimate, c.tags(machineID, nil), fields, at)
}

// WriteMachineState records a line-protocol machine state snapshot.
func (c *Client) WriteMachineState(machineID, execution, availability string, partCount *int64, at time.Time) {
	fields := map[string]any{
		"execution":    execution,
		"availability": availability,
	}
	if partCount != nil {
		fields["part_count"] = *partCount
	}
	c.write(MeasurementState, c.tags(machineID, nil), fields, at)
}

// WriteCycle records one reconstructed production cycle at its end time.
func (c *Client) WriteCycle(machineID string, start, end time.Time, durationSeconds float64) {
	c.write(MeasurementCycle,
		c.tags(machineID, nil),
		map[string]any{
			"duration_seconds": durationSeconds,
			"start_ms":         start.UnixMilli(),
		},
		end,
	)
}

// WriteOEE records an OEE calculation for a window ending at to.
func (c *Client) WriteOEE(machineID string, availability, performance, quality, oee float64, to time.Time) {
	c.write(MeasurementOEE,
		c.tags(machineID, nil),
		map[string]any{
			"availability": availability,
			"performance":  performance,
			"quality":      quality,
			"oee":          oee,
		},
		to,
	)
}

// WritePointWithTime writes a custom point with a specific timestamp.
// The gateway_id tag is added unless tags already sets it.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	all := map[string]string{"gateway_id": c.gatewayID}
	for k, v := range tags {
		all[k] = v
	}
	c.write(measurement, all, fields, timestamp)
}
