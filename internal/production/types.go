package production

import "time"

// Execution status values reported by machine controllers.
const (
	ExecutionActive      = "ACTIVE"
	ExecutionReady       = "READY"
	ExecutionStopped     = "STOPPED"
	ExecutionFeedHold    = "FEED_HOLD"
	ExecutionInterrupted = "INTERRUPTED"
	ExecutionUnavailable = "UNAVAILABLE"
)

// Sample source values.
const (
	SourceLine  = "line"
	SourceADAM  = "adam"
	SourceAgent = "agent"
)

// Sample is one observation of a machine's execution status and part count.
type Sample struct {
	MachineID       string    `json:"machineId"`
	Timestamp       time.Time `json:"timestamp"`
	ExecutionStatus string    `json:"executionStatus"`

	// PartCount is nil when the observation carried no count.
	PartCount *int64 `json:"partCount,omitempty"`

	Source string `json:"source"`
}

// Cycle is one completed production unit.
type Cycle struct {
	MachineID       string    `json:"machineId"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	DurationSeconds float64   `json:"durationSeconds"`
}

// Status is the current machine status derived from the latest sample.
type Status string

const (
	StatusWorking Status = "working"
	StatusIdle    Status = "idle"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// Detail carries the inputs behind an OEE result.
type Detail struct {
	TotalProductionSeconds float64 `json:"totalProductionSeconds"`
	PartCount              int     `json:"partCount"`
	CyclesFound            int     `json:"cyclesFound"`
	PlannedTimeSeconds     float64 `json:"plannedTimeSeconds"`
	IdealCycleTimeSeconds  float64 `json:"idealCycleTimeSeconds"`
}

// Result is the OEE breakdown for one machine over one window.
// All percentages are finite.
type Result struct {
	MachineID     string    `json:"machineId"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	Availability  float64   `json:"availability"`
	Performance   float64   `json:"performance"`
	Quality       float64   `json:"quality"`
	OEE           float64   `json:"oee"`
	CurrentStatus Status    `json:"currentStatus"`
	Detail        Detail    `json:"detail"`
	Cycles        []Cycle   `json:"cycles,omitempty"`
}
