package uplink

import "time"

// Record is one machine update sent to the collector.
type Record struct {
	MachineID   string         `json:"machineId"`
	MachineName string         `json:"machineName"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data"`
}

// Batch is the request body of one delivery.
type Batch struct {
	Source        string    `json:"source"`
	EdgeGatewayID string    `json:"edgeGatewayId"`
	Timestamp     time.Time `json:"timestamp"`
	Updates       []Record  `json:"updates"`
}

// Status is the delivery state reported to operators.
type Status struct {
	IsOnline   bool      `json:"isOnline"`
	BufferSize int       `json:"bufferSize"`
	RetryCount int       `json:"retryCount"`
	LastSent   time.Time `json:"lastSent"`

	// Dropped counts records discarded after the retry cap or a full queue.
	Dropped uint64 `json:"dropped"`

	// Sent counts records acknowledged by the collector.
	Sent uint64 `json:"sent"`

	// Batches counts acknowledged deliveries.
	Batches uint64 `json:"batches"`
}
