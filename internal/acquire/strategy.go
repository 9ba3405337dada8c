package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/bridges/shdr"
)

// Result is one successful acquisition.
type Result struct {
	MachineID string            `json:"machineId"`
	Strategy  string            `json:"strategy"`
	State     shdr.MachineState `json:"state"`
	At        time.Time         `json:"at"`
}

// Strategy is one way of reading a machine's current state.
type Strategy interface {
	// Name identifies the strategy in results, logs and stats.
	Name() string

	// Attempt reads the machine once. It must honour ctx.
	Attempt(ctx context.Context) (Result, error)
}

// Logger is the logging interface used by this package.
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

// StrategyStats counts outcomes for one strategy in a chain.
type StrategyStats struct {
	Name      string    `json:"name"`
	Attempts  uint64    `json:"attempts"`
	Successes uint64    `json:"successes"`
	Failures  uint64    `json:"failures"`
	LastError string    `json:"lastError,omitempty"`
	LastOK    time.Time `json:"lastOk,omitempty"`
}

// Chain tries strategies in priority order until one succeeds.
//
// A Chain is itself a Strategy, so chains can nest.
//
// Thread Safety: Attempt may be called concurrently; stats are guarded.
type Chain struct {
	machineID  string
	strategies []Strategy
	logger     Logger

	mu    sync.Mutex
	stats []StrategyStats
	last  string
}

// NewChain creates a chain for one machine.
//
// Returns:
//   - *Chain: Chain trying strategies in the given order
//   - error: ErrNoStrategies if none are given
func NewChain(machineID string, strategies ...Strategy) (*Chain, error) {
	filtered := make([]Strategy, 0, len(strategies))
	for _, s := range strategies {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("%w: machine %s", ErrNoStrategies, machineID)
	}

	stats := make([]StrategyStats, len(filtered))
	for i, s := range filtered {
		stats[i].Name = s.Name()
	}
	return &Chain{
		machineID:  machineID,
		strategies: filtered,
		logger:     noopLogger{},
		stats:      stats,
	}, nil
}

// SetLogger sets the chain logger.
func (c *Chain) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Name returns "chain".
func (c *Chain) Name() string { return "chain" }

// MachineID returns the machine the chain reads.
func (c *Chain) MachineID() string { return c.machineID }

// Attempt tries each strategy in order and returns the first success.
//
// Returns:
//   - Result: From the first strategy that succeeded
//   - error: ErrAllFailed joined with every strategy error, or ctx.Err()
func (c *Chain) Attempt(ctx context.Context) (Result, error) {
	var errs []error
	for i, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		res, err := s.Attempt(ctx)
		c.record(i, err)
		if err == nil {
			if res.Strategy == "" {
				res.Strategy = s.Name()
			}
			c.setLast(res.Strategy, i)
			return res, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		c.logger.Debug("acquisition strategy failed",
			"machine_id", c.machineID,
			"strategy", s.Name(),
			"error", err,
		)
	}
	return Result{}, fmt.Errorf("%w: %s: %w", ErrAllFailed, c.machineID, errors.Join(errs...))
}

func (c *Chain) record(i int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := &c.stats[i]
	st.Attempts++
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
		return
	}
	st.Successes++
	st.LastOK = time.Now()
}

func (c *Chain) setLast(name string, index int) {
	c.mu.Lock()
	prev := c.last
	c.last = name
	c.mu.Unlock()

	if prev != "" && prev != name {
		if index > 0 {
			c.logger.Warn("machine acquisition fell back", "machine_id", c.machineID, "from", prev, "to", name)
		} else {
			c.logger.Info("machine acquisition restored", "machine_id", c.machineID, "strategy", name)
		}
	}
}

// LastStrategy returns the name of the strategy that last succeeded.
func (c *Chain) LastStrategy() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Stats returns per-strategy counters in priority order.
func (c *Chain) Stats() []StrategyStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StrategyStats, len(c.stats))
	copy(out, c.stats)
	return out
}

var _ Strategy = (*Chain)(nil)
