package production

import (
	"math"
	"time"
)

// Defaults for OEE calculation.
const (
	// DefaultPlannedTimeSeconds is one eight hour shift.
	DefaultPlannedTimeSeconds = 8 * 60 * 60

	// DefaultIdealCycleTimeSeconds is the reference cycle of 25 minutes.
	DefaultIdealCycleTimeSeconds = 25 * 60

	// DefaultQualityPercent assumes no scrap.
	DefaultQualityPercent = 100.0

	// DefaultFreshnessWindow is how old the latest sample may be before a
	// machine reads as offline.
	DefaultFreshnessWindow = 5 * time.Minute
)

// OEEConfig holds the window constants for CalculateOEE.
type OEEConfig struct {
	PlannedTimeSeconds    float64
	IdealCycleTimeSeconds float64
	QualityPercent        float64
}

// CalculateOEE computes availability, performance, quality and OEE for a
// set of cycles. Division by zero yields 0 rather than NaN or Inf.
//
// CurrentStatus is left empty; set it from CurrentStatus.
func CalculateOEE(cycles []Cycle, cfg OEEConfig) Result {
	var total float64
	for _, c := range cycles {
		total += c.DurationSeconds
	}
	parts := len(cycles)

	availability := finite(total / cfg.PlannedTimeSeconds * 100)
	performance := 0.0
	if total > 0 {
		performance = finite(float64(parts) * cfg.IdealCycleTimeSeconds / total * 100)
	}
	quality := finite(cfg.QualityPercent)
	oee := finite(availability / 100 * performance / 100 * quality / 100 * 100)

	return Result{
		Availability: availability,
		Performance:  performance,
		Quality:      quality,
		OEE:          oee,
		Detail: Detail{
			TotalProductionSeconds: total,
			PartCount:              parts,
			CyclesFound:            parts,
			PlannedTimeSeconds:     cfg.PlannedTimeSeconds,
			IdealCycleTimeSeconds:  cfg.IdealCycleTimeSeconds,
		},
	}
}

// CurrentStatus maps the most recent sample to a machine status. A missing
// sample, or one older than freshness, reads as offline.
func CurrentStatus(latest *Sample, now time.Time, freshness time.Duration) Status {
	if latest == nil {
		return StatusOffline
	}
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	if now.Sub(latest.Timestamp) > freshness {
		return StatusOffline
	}

	switch latest.ExecutionStatus {
	case ExecutionActive:
		return StatusWorking
	case ExecutionReady, ExecutionStopped, ExecutionFeedHold:
		return StatusIdle
	case ExecutionUnavailable, ExecutionInterrupted:
		return StatusError
	default:
		return StatusOffline
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
