package shdr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and limits for adapter connections.
const (
	// defaultConnectTimeout is the maximum time to wait for a dial.
	defaultConnectTimeout = 10 * time.Second

	// defaultIdleTimeout forces a reconnect when the adapter goes silent.
	defaultIdleTimeout = 10 * time.Second

	// defaultReconnectInterval is the fixed delay between reconnect attempts.
	defaultReconnectInterval = 5 * time.Second

	// defaultMaxReconnectAttempts is the consecutive failure cap.
	defaultMaxReconnectAttempts = 5

	// readBufferSize is the size of each socket read.
	readBufferSize = 4096

	// eventQueueSize is the buffer size for the event dispatch queue.
	eventQueueSize = 256

	// parseWarnInterval limits malformed-line warnings per client.
	parseWarnInterval = 10 * time.Second
)

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventType identifies a client event.
type EventType string

const (
	EventConnected          EventType = "connected"
	EventDisconnected       EventType = "disconnected"
	EventRecord             EventType = "record"
	EventError              EventType = "error"
	EventMaxAttemptsReached EventType = "max_attempts_reached"
)

// Event is delivered to the client's event handler in emission order.
type Event struct {
	Type     EventType
	DeviceID string
	Time     time.Time

	// Record is set for EventRecord.
	Record LineRecord

	// Err carries the cause for EventDisconnected, EventError and
	// EventMaxAttemptsReached.
	Err error
}

// Config holds adapter connection configuration.
type Config struct {
	DeviceID string
	Host     string
	Port     int

	// ConnectTimeout bounds each dial. Default: 10 seconds.
	ConnectTimeout time.Duration

	// IdleTimeout is the maximum silence before the connection is treated
	// as failed. Default: 10 seconds.
	IdleTimeout time.Duration

	// ReconnectInterval is the fixed delay between attempts. Default: 5 seconds.
	ReconnectInterval time.Duration

	// MaxReconnectAttempts caps consecutive failed attempts. Default: 5.
	MaxReconnectAttempts int

	// AllowedItems filters records by item name after Transform.
	// Empty keeps every item.
	AllowedItems []string

	// Transform post-processes records. Default: Identity.
	Transform Transform
}

// Address returns the host:port dial address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Stats holds operational statistics.
type Stats struct {
	LinesRx         uint64
	RecordsRx       uint64
	RecordsFiltered uint64
	ParseErrors     uint64
	EventsDropped   uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	LastActivity    time.Time
	State           State
	Failures        int
	Exhausted       bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Connector interface for testability.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect()
	Restart(ctx context.Context) error
	SetOnEvent(handler func(Event))
	State() State
	IsConnected() bool
	Stats() Stats
	Close() error
}

// Ensure Client implements Connector.
var _ Connector = (*Client)(nil)

// Client maintains one TCP connection to an SHDR adapter.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Events are delivered by one dispatch goroutine, in emission order.
//
// Reconnection:
//   - A lost or silent connection is retried at a fixed interval.
//   - After MaxReconnectAttempts consecutive failures the client stops and
//     emits EventMaxAttemptsReached. Connect or Restart re-arms it.
//   - Disconnect cancels any pending reconnect timer.
type Client struct {
	cfg     Config
	allowed allowList

	// Connection state, all guarded by connMu. generation is bumped on every
	// deliberate transition so stale read loops and timers become no-ops.
	connMu     sync.RWMutex
	conn       net.Conn
	state      State
	generation uint64
	failures   int
	stopped    bool
	exhausted  bool
	closed     bool
	timer      *time.Timer

	onEvent    func(Event)
	callbackMu sync.RWMutex
	events     chan Event

	done *closeOnce
	wg   sync.WaitGroup

	logger      Logger
	loggerMu    sync.RWMutex
	parseWarner *rate.Limiter

	linesRx         atomic.Uint64
	recordsRx       atomic.Uint64
	recordsFiltered atomic.Uint64
	parseErrors     atomic.Uint64
	eventsDropped   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix nanoseconds
}

// NewClient creates a disconnected client and starts its event dispatcher.
//
// Parameters:
//   - cfg: Connection configuration; zero durations take defaults
//
// Returns:
//   - *Client: Client ready for Connect
//   - error: ErrInvalidConfig if the device id, host or port is missing
func NewClient(cfg Config) (*Client, error) {
	if cfg.DeviceID == "" || cfg.Host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("%w: device id, host and port are required", ErrInvalidConfig)
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.Transform == nil {
		cfg.Transform = Identity
	}

	c := &Client{
		cfg:         cfg,
		allowed:     newAllowList(cfg.AllowedItems),
		events:      make(chan Event, eventQueueSize),
		done:        newCloseOnce(),
		parseWarner: rate.NewLimiter(rate.Every(parseWarnInterval), 1),
	}

	c.wg.Add(1)
	go c.dispatchLoop()

	return c, nil
}

// DeviceID returns the configured device identifier.
func (c *Client) DeviceID() string {
	return c.cfg.DeviceID
}

// Connect dials the adapter once.
//
// On failure a reconnect is scheduled and the dial error is returned; the
// client keeps retrying in the background until the cap is reached.
// Connect on a connected client is a no-op. Connect re-arms a client that
// stopped after exhausting its attempts.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		return ErrClientClosed
	}
	if c.state != StateDisconnected {
		c.connMu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	c.generation++
	gen := c.generation
	c.stopped = false
	c.exhausted = false
	c.failures = 0
	c.state = StateConnecting
	c.connMu.Unlock()

	err := c.dial(ctx, gen, false)
	if err == nil || errors.Is(err, ErrClientStopped) {
		return nil
	}

	c.errorsTotal.Add(1)
	c.logError("connect failed", err)
	c.emit(Event{Type: EventError, Err: err})
	c.scheduleReconnect(gen)
	return err
}

// dial opens the socket and, if gen is still current, installs it and
// starts the read loop.
func (c *Client) dial(ctx context.Context, gen uint64, isReconnect bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	addr := c.cfg.Address()
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)

	c.connMu.Lock()
	if c.generation != gen || c.stopped {
		c.connMu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrClientStopped
	}
	if err != nil {
		c.state = StateDisconnected
		c.connMu.Unlock()
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, addr, err)
	}

	c.conn = conn
	c.state = StateConnected
	c.failures = 0
	c.wg.Add(1)
	c.connMu.Unlock()

	if isReconnect {
		c.reconnectsTotal.Add(1)
	}
	c.lastActivity.Store(time.Now().UnixNano())
	c.logInfo("connected to adapter", "address", addr, "reconnect", isReconnect)
	c.emit(Event{Type: EventConnected})

	go c.readLoop(conn, gen)
	return nil
}

// readLoop reads from conn until it fails or goes idle.
func (c *Client) readLoop(conn net.Conn, gen uint64) {
	defer c.wg.Done()

	framer := NewFramer(defaultMaxLineLength)
	buf := make([]byte, readBufferSize)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout)); err != nil {
			c.connectionLost(gen, fmt.Errorf("%w: set deadline: %w", ErrConnectionLost, err))
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			c.lastActivity.Store(time.Now().UnixNano())
			lines, ferr := framer.Feed(buf[:n])
			if ferr != nil {
				c.parseErrors.Add(1)
				c.warnParse("discarding oversized line", ferr)
			}
			for _, line := range lines {
				c.handleLine(line)
			}
		}

		if err != nil {
			c.connectionLost(gen, classifyReadError(err))
			return
		}
	}
}

// classifyReadError maps a socket read error to a domain error.
func classifyReadError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrIdleTimeout, err)
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: closed by peer", ErrConnectionLost)
	}
	return fmt.Errorf("%w: %w", ErrConnectionLost, err)
}

// handleLine parses one line, applies the transform and allow-list, and
// emits the surviving records.
func (c *Client) handleLine(line string) {
	c.linesRx.Add(1)

	records, err := ParseLine(c.cfg.DeviceID, line, time.Now())
	if err != nil {
		c.parseErrors.Add(1)
		c.warnParse("skipping malformed line", err)
		return
	}

	for _, rec := range records {
		for _, out := range c.cfg.Transform(rec) {
			if !c.allowed.allows(out.Item) {
				c.recordsFiltered.Add(1)
				continue
			}
			c.recordsRx.Add(1)
			c.emit(Event{Type: EventRecord, Record: out})
		}
	}
}

// connectionLost tears down the socket after a read failure and schedules
// a reconnect, unless the connection was already replaced or stopped.
func (c *Client) connectionLost(gen uint64, cause error) {
	c.connMu.Lock()
	if c.generation != gen || c.state != StateConnected {
		c.connMu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.connMu.Unlock()

	c.errorsTotal.Add(1)
	c.logWarn("adapter connection lost", "error", cause)
	c.emit(Event{Type: EventDisconnected, Err: cause})
	c.scheduleReconnect(gen)
}

// scheduleReconnect arms the reconnect timer, or stops the client once the
// consecutive failure cap is reached.
func (c *Client) scheduleReconnect(gen uint64) {
	c.connMu.Lock()
	if c.generation != gen || c.stopped || c.closed {
		c.connMu.Unlock()
		return
	}
	if c.failures >= c.cfg.MaxReconnectAttempts {
		c.stopped = true
		c.exhausted = true
		attempts := c.failures
		c.connMu.Unlock()

		err := fmt.Errorf("%w: %d consecutive failures", ErrMaxAttemptsReached, attempts)
		c.logError("giving up on adapter", err)
		c.emit(Event{Type: EventMaxAttemptsReached, Err: err})
		return
	}
	c.failures++
	attempt := c.failures
	c.wg.Add(1)
	c.timer = time.AfterFunc(c.cfg.ReconnectInterval, func() {
		defer c.wg.Done()
		c.reconnect(gen)
	})
	c.connMu.Unlock()

	c.logInfo("reconnect scheduled",
		"attempt", attempt,
		"max_attempts", c.cfg.MaxReconnectAttempts,
		"interval", c.cfg.ReconnectInterval.String(),
	)
}

// reconnect runs on the timer goroutine.
func (c *Client) reconnect(gen uint64) {
	c.connMu.Lock()
	if c.generation != gen || c.stopped || c.closed {
		c.connMu.Unlock()
		return
	}
	c.timer = nil
	c.state = StateConnecting
	c.connMu.Unlock()

	err := c.dial(context.Background(), gen, true)
	if err == nil || errors.Is(err, ErrClientStopped) {
		return
	}

	c.errorsTotal.Add(1)
	c.logWarn("reconnect failed", "error", err)
	c.emit(Event{Type: EventError, Err: err})
	c.scheduleReconnect(gen)
}

// stopTimerLocked cancels a pending reconnect. Caller holds connMu.
func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		if c.timer.Stop() {
			c.wg.Done()
		}
		c.timer = nil
	}
}

// Disconnect closes the connection and cancels any pending reconnect.
// The client stays usable; Connect starts it again.
func (c *Client) Disconnect() {
	c.connMu.Lock()
	c.generation++
	c.stopped = true
	c.stopTimerLocked()
	conn := c.conn
	c.conn = nil
	was := c.state
	c.state = StateDisconnected
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if was != StateDisconnected {
		c.logInfo("disconnected from adapter")
		c.emit(Event{Type: EventDisconnected})
	}
}

// Restart disconnects and connects again with a fresh failure counter.
func (c *Client) Restart(ctx context.Context) error {
	c.Disconnect()
	return c.Connect(ctx)
}

// dispatchLoop delivers queued events to the handler in order.
func (c *Client) dispatchLoop() {
	defer c.wg.Done()
	for {
		select {
		case ev := <-c.events:
			c.dispatch(ev)
		case <-c.done.Done():
			for {
				select {
				case ev := <-c.events:
					c.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

// dispatch invokes the handler with panic recovery.
func (c *Client) dispatch(ev Event) {
	c.callbackMu.RLock()
	handler := c.onEvent
	c.callbackMu.RUnlock()

	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logError("event handler panic", fmt.Errorf("panic: %v", r))
		}
	}()
	handler(ev)
}

// emit queues an event. Records are dropped when the queue is full;
// lifecycle events wait for space.
func (c *Client) emit(ev Event) {
	ev.DeviceID = c.cfg.DeviceID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	if ev.Type == EventRecord {
		select {
		case c.events <- ev:
		default:
			c.eventsDropped.Add(1)
		}
		return
	}

	select {
	case c.events <- ev:
	case <-c.done.Done():
		c.eventsDropped.Add(1)
	}
}

// Close disconnects, stops the dispatcher after draining queued events,
// and waits for all goroutines. Safe to call multiple times.
func (c *Client) Close() error {
	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		return nil
	}
	c.closed = true
	c.connMu.Unlock()

	c.Disconnect()
	c.done.Close()
	c.wg.Wait()
	return nil
}

// SetOnEvent sets the event handler. Panics in the handler are recovered
// and logged.
func (c *Client) SetOnEvent(handler func(Event)) {
	c.callbackMu.Lock()
	c.onEvent = handler
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.state
}

// IsConnected returns true if connected to the adapter.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	c.connMu.RLock()
	state, failures, exhausted := c.state, c.failures, c.exhausted
	c.connMu.RUnlock()

	var last time.Time
	if ns := c.lastActivity.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}

	return Stats{
		LinesRx:         c.linesRx.Load(),
		RecordsRx:       c.recordsRx.Load(),
		RecordsFiltered: c.recordsFiltered.Load(),
		ParseErrors:     c.parseErrors.Load(),
		EventsDropped:   c.eventsDropped.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    last,
		State:           state,
		Failures:        failures,
		Exhausted:       exhausted,
	}
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, append([]any{"device_id", c.cfg.DeviceID}, keysAndValues...)...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, append([]any{"device_id", c.cfg.DeviceID}, keysAndValues...)...)
	}
}

func (c *Client) logError(msg string, err error) {
	if l := c.getLogger(); l != nil {
		l.Error(msg, "device_id", c.cfg.DeviceID, "error", err)
	}
}

// warnParse logs parse problems at most once per parseWarnInterval.
func (c *Client) warnParse(msg string, err error) {
	if c.parseWarner.Allow() {
		c.logWarn(msg, "error", err, "parse_errors", c.parseErrors.Load())
	}
}
