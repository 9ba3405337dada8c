package production

import (
	"context"
	"fmt"
	"time"
)

// Logger is the logging interface used by this package.
// It is satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AnalyzerConfig holds the constants for windowed analysis.
type AnalyzerConfig struct {
	OEE OEEConfig

	// Freshness is how old the latest sample may be before the machine
	// reads as offline.
	Freshness time.Duration

	// RecordCycles stores reconstructed cycles in the repository.
	RecordCycles bool
}

// Analyzer answers "how did this machine do between from and to" from the
// persisted samples.
type Analyzer struct {
	repo   SampleRepository
	cfg    AnalyzerConfig
	logger Logger
	now    func() time.Time
}

// NewAnalyzer creates an analyzer over repo.
//
// A non-positive planned time means "use the window length". Quality is
// used as given, so 0% is valid; a negative quality falls back to 100%.
// Freshness defaults to five minutes.
func NewAnalyzer(repo SampleRepository, cfg AnalyzerConfig) *Analyzer {
	if cfg.OEE.QualityPercent < 0 {
		cfg.OEE.QualityPercent = DefaultQualityPercent
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = DefaultFreshnessWindow
	}
	return &Analyzer{
		repo:   repo,
		cfg:    cfg,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the analyzer logger.
func (a *Analyzer) SetLogger(logger Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// Analyze reconstructs the machine's cycles in [from, to] and computes OEE.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - machineID: Machine to analyse
//   - from, to: Inclusive window bounds
//
// Returns:
//   - Result: OEE breakdown including the cycles found
//   - error: ErrMachineIDRequired, ErrInvalidWindow, or a repository error
func (a *Analyzer) Analyze(ctx context.Context, machineID string, from, to time.Time) (Result, error) {
	if machineID == "" {
		return Result{}, ErrMachineIDRequired
	}
	if to.Before(from) {
		return Result{}, ErrInvalidWindow
	}

	samples, err := a.repo.ListSamples(ctx, machineID, from, to)
	if err != nil {
		return Result{}, fmt.Errorf("loading samples for %s: %w", machineID, err)
	}

	cycles := Reconstruct(machineID, samples)
	a.logger.Debug("cycles reconstructed",
		"machine_id", machineID,
		"samples", len(samples),
		"cycles", len(cycles),
	)

	if a.cfg.RecordCycles && len(cycles) > 0 {
		if err := a.repo.RecordCycles(ctx, cycles); err != nil {
			a.logger.Warn("recording cycles failed", "machine_id", machineID, "error", err)
		}
	}

	oeeCfg := a.cfg.OEE
	if oeeCfg.PlannedTimeSeconds <= 0 {
		oeeCfg.PlannedTimeSeconds = to.Sub(from).Seconds()
	}

	result := CalculateOEE(cycles, oeeCfg)
	result.MachineID = machineID
	result.From = from
	result.To = to
	result.Cycles = cycles

	latest, err := a.repo.LatestSample(ctx, machineID)
	if err != nil {
		return Result{}, fmt.Errorf("loading latest sample for %s: %w", machineID, err)
	}
	result.CurrentStatus = CurrentStatus(latest, a.now(), a.cfg.Freshness)

	return result, nil
}
