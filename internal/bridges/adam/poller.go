package adam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// defaultPollInterval matches the gateway forwarding cadence.
const defaultPollInterval = 10 * time.Second

// CounterSource is anything that can produce one poll of readings.
type CounterSource interface {
	ReadCounters(ctx context.Context) ([]CounterReading, error)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// PollerStats holds operational statistics.
type PollerStats struct {
	Polls        uint64    `json:"polls"`
	Failures     uint64    `json:"failures"`
	Online       bool      `json:"online"`
	LastPoll     time.Time `json:"lastPoll"`
	LastError    string    `json:"lastError,omitempty"`
	ChannelCount int       `json:"channelCount"`
}

// Poller runs one serialized poll loop per module and keeps the latest
// readings.
//
// Thread Safety:
//   - Run must be started once. Accessors are safe for concurrent use.
type Poller struct {
	src      CounterSource
	interval time.Duration

	onReadings func([]CounterReading)
	onError    func(error)
	callbackMu sync.RWMutex

	logger Logger

	mu       sync.RWMutex
	latest   []CounterReading
	lastPoll time.Time
	lastErr  error

	online   atomic.Bool
	polls    atomic.Uint64
	failures atomic.Uint64
}

// NewPoller creates a poller. A zero interval uses 10 seconds.
func NewPoller(src CounterSource, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{src: src, interval: interval}
}

// SetLogger sets the logger for this poller.
func (p *Poller) SetLogger(logger Logger) {
	p.logger = logger
}

// SetOnReadings sets the callback invoked after every successful poll.
func (p *Poller) SetOnReadings(fn func([]CounterReading)) {
	p.callbackMu.Lock()
	p.onReadings = fn
	p.callbackMu.Unlock()
}

// SetOnError sets the callback invoked after every failed poll.
func (p *Poller) SetOnError(fn func(error)) {
	p.callbackMu.Lock()
	p.onError = fn
	p.callbackMu.Unlock()
}

// Run polls immediately and then every interval until ctx is cancelled.
// Polls never overlap.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx) //nolint:errcheck // failures are recorded and reported via callback

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.PollOnce(ctx) //nolint:errcheck // as above
		}
	}
}

// PollOnce performs a single bounded poll and records the outcome.
func (p *Poller) PollOnce(ctx context.Context) ([]CounterReading, error) {
	pollCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	p.polls.Add(1)
	readings, err := p.src.ReadCounters(pollCtx)

	p.mu.Lock()
	p.lastPoll = time.Now()
	p.lastErr = err
	if err == nil {
		p.latest = readings
	}
	p.mu.Unlock()

	p.callbackMu.RLock()
	onReadings, onError := p.onReadings, p.onError
	p.callbackMu.RUnlock()

	if err != nil {
		p.failures.Add(1)
		if p.online.Swap(false) && p.logger != nil {
			p.logger.Warn("counter module went offline", "error", err)
		}
		if onError != nil && !errors.Is(err, context.Canceled) {
			onError(err)
		}
		return nil, fmt.Errorf("poll: %w", err)
	}

	if !p.online.Swap(true) && p.logger != nil {
		p.logger.Info("counter module online", "channels", len(readings))
	}
	if onReadings != nil {
		onReadings(readings)
	}
	return readings, nil
}

// Latest returns a copy of the last successful readings and the poll time.
func (p *Poller) Latest() ([]CounterReading, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]CounterReading, len(p.latest))
	copy(out, p.latest)
	return out, p.lastPoll
}

// IsOnline reports whether the last poll succeeded.
func (p *Poller) IsOnline() bool {
	return p.online.Load()
}

// Stats returns current operational statistics.
func (p *Poller) Stats() PollerStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := PollerStats{
		Polls:        p.polls.Load(),
		Failures:     p.failures.Load(),
		Online:       p.online.Load(),
		LastPoll:     p.lastPoll,
		ChannelCount: len(p.latest),
	}
	if p.lastErr != nil {
		s.LastError = p.lastErr.Error()
	}
	return s
}
