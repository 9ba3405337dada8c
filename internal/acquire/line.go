package acquire

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/bridges/shdr"
)

// StateSource is the part of shdr.Registry the line strategy needs.
type StateSource interface {
	ConnectionState(deviceID string) bool
	MachineState(deviceID string) (shdr.MachineState, bool)
}

// LineStrategy reads the live snapshot kept by the line protocol registry.
type LineStrategy struct {
	machineID string
	source    StateSource
	now       func() time.Time
}

// NewLineStrategy creates a strategy over the registry's snapshot.
func NewLineStrategy(machineID string, source StateSource) *LineStrategy {
	return &LineStrategy{machineID: machineID, source: source, now: time.Now}
}

// Name returns "line".
func (s *LineStrategy) Name() string { return "line" }

// Attempt succeeds while the device is connected and has produced data.
func (s *LineStrategy) Attempt(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if !s.source.ConnectionState(s.machineID) {
		return Result{}, fmt.Errorf("%w: %s not connected", ErrUnavailable, s.machineID)
	}
	state, ok := s.source.MachineState(s.machineID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s has not reported", ErrNoData, s.machineID)
	}
	return Result{
		MachineID: s.machineID,
		Strategy:  s.Name(),
		State:     state,
		At:        s.now(),
	}, nil
}

var _ Strategy = (*LineStrategy)(nil)
