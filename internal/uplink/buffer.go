package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Defaults applied by New.
const (
	DefaultPath           = "/api/machine-data/batch"
	DefaultHealthPath     = "/api/health"
	DefaultSource         = "edge-gateway"
	DefaultBatchSize      = 10
	DefaultMaxInterval    = 30 * time.Second
	DefaultRetryAttempts  = 3
	DefaultTimeout        = 10 * time.Second
	DefaultHealthInterval = 2 * time.Minute
	DefaultQueueSize      = 1024

	healthTimeout = 5 * time.Second
)

// Header names sent with every batch.
const (
	HeaderAPIKey  = "X-API-Key"
	HeaderBatchID = "X-Batch-ID"
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

// Config holds the buffer settings.
type Config struct {
	BaseURL    string
	Path       string
	HealthPath string
	APIKey     string
	GatewayID  string
	Source     string

	// BatchSize is the queue length that triggers a flush.
	BatchSize int

	// MaxInterval is the longest data waits before a flush.
	MaxInterval time.Duration

	// RetryAttempts is the number of consecutive failed flushes after which
	// the queue is dropped.
	RetryAttempts int

	// Timeout bounds each delivery request.
	Timeout time.Duration

	// HealthInterval is the period of the health probe. Negative disables it.
	HealthInterval time.Duration

	// QueueSize bounds records handed to the worker but not yet queued.
	QueueSize int

	// HTTPClient overrides the default client. Its timeout is left as is.
	HTTPClient *http.Client

	Logger Logger
}

// FlushResult describes one delivery attempt.
type FlushResult struct {
	BatchID  string
	Records  int
	Duration time.Duration
	Err      error

	// Dropped is true when this failure hit the retry cap.
	Dropped bool
}

type flushRequest struct {
	result chan error
}

// Buffer queues records and delivers them in batches.
//
// Thread Safety: All methods are safe for concurrent use. The queue itself
// is touched only by the worker goroutine.
type Buffer struct {
	cfg        Config
	httpClient *http.Client
	logger     Logger
	now        func() time.Time

	submitCh chan Record
	flushCh  chan flushRequest
	done     chan struct{}
	stopped  chan struct{}
	closed   atomic.Bool

	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup

	// Worker-owned.
	queue     []Record
	lastFlush time.Time

	online atomic.Bool

	statusMu   sync.RWMutex
	queued     int
	retryCount int
	lastSent   time.Time
	dropped    uint64
	sent       uint64
	batches    uint64

	callbackMu sync.RWMutex
	onFlush    func(FlushResult)
}

// New creates a buffer and starts its worker and health probe.
//
// Parameters:
//   - cfg: Buffer configuration; zero values take the package defaults
//
// Returns:
//   - *Buffer: Running buffer; call Close to stop it
//   - error: ErrInvalidConfig if BaseURL is missing
func New(cfg Config) (*Buffer, error) {
	return newBuffer(cfg, time.Now)
}

func newBuffer(cfg Config, now func() time.Time) (*Buffer, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	}
	applyDefaults(&cfg)

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	b := &Buffer{
		cfg:        cfg,
		httpClient: client,
		logger:     cfg.Logger,
		now:        now,
		submitCh:   make(chan Record, cfg.QueueSize),
		flushCh:    make(chan flushRequest),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		queue:      make([]Record, 0, cfg.BatchSize),
	}
	b.lastFlush = b.now()

	b.wg.Add(1)
	go b.worker()

	if cfg.HealthInterval > 0 {
		b.wg.Add(1)
		go b.healthLoop()
	}

	return b, nil
}

func applyDefaults(cfg *Config) {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = DefaultHealthPath
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
}

// SetOnFlush sets a callback invoked by the worker after every delivery
// attempt. It must not block.
func (b *Buffer) SetOnFlush(callback func(FlushResult)) {
	b.callbackMu.Lock()
	b.onFlush = callback
	b.callbackMu.Unlock()
}

// Submit hands a record to the worker without blocking.
//
// Returns:
//   - error: ErrClosed after Close, ErrQueueFull if the hand-off queue is
//     full (the record is counted as dropped)
func (b *Buffer) Submit(rec Record) error {
	if b.closed.Load() {
		return ErrClosed
	}
	select {
	case b.submitCh <- rec:
		return nil
	default:
		b.statusMu.Lock()
		b.dropped++
		b.statusMu.Unlock()
		return ErrQueueFull
	}
}

// Flush delivers everything submitted so far and waits for the result.
//
// Returns:
//   - error: nil if the queue was empty or delivered; the delivery error
//     otherwise (wrapping ErrBatchDropped when the retry cap was hit)
func (b *Buffer) Flush(ctx context.Context) error {
	req := flushRequest{result: make(chan error, 1)}
	select {
	case b.flushCh <- req:
	case <-b.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the buffer after a final flush.
//
// Parameters:
//   - ctx: Bounds the wait for the final flush
//
// Returns:
//   - error: The final flush error, or ctx.Err() if the wait was cut short
func (b *Buffer) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)
	})

	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return b.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsOnline reports the result of the most recent health probe.
func (b *Buffer) IsOnline() bool {
	return b.online.Load()
}

// Status returns the current delivery state.
func (b *Buffer) Status() Status {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	return Status{
		IsOnline:   b.online.Load(),
		BufferSize: b.queued + len(b.submitCh),
		RetryCount: b.retryCount,
		LastSent:   b.lastSent,
		Dropped:    b.dropped,
		Sent:       b.sent,
		Batches:    b.batches,
	}
}

func (b *Buffer) worker() {
	defer b.wg.Done()
	defer close(b.stopped)

	ticker := time.NewTicker(b.cfg.MaxInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-b.submitCh:
			b.enqueue(rec)
			if b.flushDue() {
				_ = b.flush() //nolint:errcheck // Reported via log and onFlush
			}

		case req := <-b.flushCh:
			b.drainSubmitted()
			req.result <- b.flush()

		case <-ticker.C:
			if len(b.queue) > 0 && b.now().Sub(b.lastFlush) >= b.cfg.MaxInterval {
				_ = b.flush() //nolint:errcheck // Reported via log and onFlush
			}

		case <-b.done:
			b.drainSubmitted()
			b.closeErr = b.flush()
			return
		}
	}
}

func (b *Buffer) enqueue(rec Record) {
	b.queue = append(b.queue, rec)
	b.setQueued()
}

func (b *Buffer) drainSubmitted() {
	for {
		select {
		case rec := <-b.submitCh:
			b.enqueue(rec)
		default:
			return
		}
	}
}

func (b *Buffer) flushDue() bool {
	return len(b.queue) >= b.cfg.BatchSize || b.now().Sub(b.lastFlush) >= b.cfg.MaxInterval
}

func (b *Buffer) setQueued() {
	b.statusMu.Lock()
	b.queued = len(b.queue)
	b.statusMu.Unlock()
}

// flush sends the whole queue as one batch. Called only by the worker.
func (b *Buffer) flush() error {
	if len(b.queue) == 0 {
		return nil
	}
	b.lastFlush = b.now()

	batchID := uuid.NewString()
	records := len(b.queue)
	start := time.Now()
	err := b.send(batchID, b.queue)
	result := FlushResult{BatchID: batchID, Records: records, Duration: time.Since(start), Err: err}

	b.statusMu.Lock()
	if err == nil {
		b.retryCount = 0
		b.lastSent = b.now()
		b.sent += uint64(records)
		b.batches++
		b.statusMu.Unlock()

		b.queue = make([]Record, 0, b.cfg.BatchSize)
		b.setQueued()
		b.logger.Debug("uplink batch delivered", "batch_id", batchID, "records", records)
		b.notify(result)
		return nil
	}

	b.retryCount++
	attempts := b.retryCount
	if attempts < b.cfg.RetryAttempts {
		b.statusMu.Unlock()
		b.logger.Warn("uplink delivery failed, will retry",
			"batch_id", batchID,
			"records", records,
			"attempt", attempts,
			"max_attempts", b.cfg.RetryAttempts,
			"error", err,
		)
		b.notify(result)
		return err
	}

	b.retryCount = 0
	b.dropped += uint64(records)
	b.statusMu.Unlock()

	b.queue = make([]Record, 0, b.cfg.BatchSize)
	b.setQueued()
	b.logger.Error("uplink retry limit reached, dropping buffered records",
		"batch_id", batchID,
		"records", records,
		"attempts", attempts,
		"error", err,
	)
	result.Dropped = true
	b.notify(result)
	return fmt.Errorf("%w: %d records after %d attempts: %w", ErrBatchDropped, records, attempts, err)
}

func (b *Buffer) notify(result FlushResult) {
	b.callbackMu.RLock()
	callback := b.onFlush
	b.callbackMu.RUnlock()
	if callback != nil {
		callback(result)
	}
}

func (b *Buffer) send(batchID string, records []Record) error {
	body, err := json.Marshal(Batch{
		Source:        b.cfg.Source,
		EdgeGatewayID: b.cfg.GatewayID,
		Timestamp:     b.now().UTC(),
		Updates:       records,
	})
	if err != nil {
		return fmt.Errorf("%w: encoding batch: %w", ErrDeliveryFailed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+b.cfg.Path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderBatchID, batchID)
	if b.cfg.APIKey != "" {
		req.Header.Set(HeaderAPIKey, b.cfg.APIKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

func (b *Buffer) healthLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.HealthInterval)
	defer ticker.Stop()

	b.probe()
	for {
		select {
		case <-ticker.C:
			b.probe()
		case <-b.done:
			return
		}
	}
}

func (b *Buffer) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	err := b.HealthCheck(ctx)
	online := err == nil
	if was := b.online.Swap(online); was != online {
		if online {
			b.logger.Info("uplink collector reachable", "url", b.cfg.BaseURL)
		} else {
			b.logger.Warn("uplink collector unreachable", "url", b.cfg.BaseURL, "error", err)
		}
	}
}

// HealthCheck probes the collector health endpoint once.
func (b *Buffer) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+b.cfg.HealthPath, nil)
	if err != nil {
		return fmt.Errorf("uplink health check: %w", err)
	}
	if b.cfg.APIKey != "" {
		req.Header.Set(HeaderAPIKey, b.cfg.APIKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uplink health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("uplink health check: status %d", resp.StatusCode)
	}
	return nil
}
