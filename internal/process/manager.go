package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// Defaults applied by NewManager.
const (
	defaultRestartDelay        = 5 * time.Second
	defaultMaxRestartDelay     = 5 * time.Minute
	defaultStableThreshold     = 2 * time.Minute
	defaultGracefulTimeout     = 10 * time.Second
	defaultHealthCheckInterval = 30 * time.Second
	defaultMaxHealthFailures   = 3
	defaultOutputLines         = 50

	healthCheckTimeout = 5 * time.Second
	killWaitTimeout    = 5 * time.Second
	maxLineBytes       = 64 * 1024
)

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name identifies the process in logs.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are passed to the binary.
	Args []string

	// Env are additional KEY=value variables on top of the parent
	// environment. If nil, the parent environment is inherited unchanged.
	Env []string

	// WorkDir defaults to the parent's working directory.
	WorkDir string

	// RestartOnFailure restarts the process when it exits unexpectedly.
	RestartOnFailure bool

	// RestartDelay is the first backoff delay; each further attempt doubles
	// it up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long the process must run before the restart
	// counter resets.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheck is called every HealthCheckInterval while running. After
	// MaxHealthFailures consecutive failures the process is killed.
	HealthCheck         func(ctx context.Context) error
	HealthCheckInterval time.Duration
	MaxHealthFailures   int

	// OutputLines is how many recent output lines Output keeps.
	OutputLines int

	// OnStart is called after every successful start.
	OnStart func(pid int)

	// OnStop is called when the process exits, with nil for a requested stop.
	OnStop func(err error)

	// OnRestart is called before each restart attempt.
	OnRestart func(attempt int)
}

// DefaultConfig returns a Config that restarts on failure up to ten times.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:                name,
		Binary:              binary,
		Args:                args,
		RestartOnFailure:    true,
		RestartDelay:        defaultRestartDelay,
		MaxRestartDelay:     defaultMaxRestartDelay,
		StableThreshold:     defaultStableThreshold,
		MaxRestartAttempts:  10,
		GracefulTimeout:     defaultGracefulTimeout,
		HealthCheckInterval: defaultHealthCheckInterval,
	}
}

// Logger defines the logging interface for the process manager.
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

// Manager supervises one subprocess.
//
// Thread Safety: All exported methods are safe for concurrent use.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool
	stopCh        chan struct{}
	done          chan struct{}

	outputMu sync.Mutex
	output   []string
}

// NewManager creates a manager. Zero durations take the package defaults.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = defaultMaxRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = cfg.RestartDelay
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = defaultStableThreshold
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = defaultHealthCheckInterval
	}
	if cfg.MaxHealthFailures <= 0 {
		cfg.MaxHealthFailures = defaultMaxHealthFailures
	}
	if cfg.OutputLines <= 0 {
		cfg.OutputLines = defaultOutputLines
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Start launches the subprocess and begins supervising it.
//
// Returns:
//   - error: ErrInvalidConfig, ErrAlreadyRunning, or the launch failure
func (m *Manager) Start(ctx context.Context) error {
	if m.config.Name == "" || m.config.Binary == "" {
		return fmt.Errorf("%w: name and binary are required", ErrInvalidConfig)
	}

	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting || m.supervising() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.restartCount = 0
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	cmd, err := m.startProcess(ctx)
	if err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		m.mu.Unlock()
		close(done)
		return err
	}

	go m.monitor(ctx, cmd, done)
	return nil
}

// supervising reports whether a monitor goroutine is still active. Callers
// hold m.mu.
func (m *Manager) supervising() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

func (m *Manager) startProcess(ctx context.Context) (*exec.Cmd, error) {
	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // Binary comes from operator configuration
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	cmd.Stdout = &lineWriter{m: m, stream: "stdout"}
	cmd.Stderr = &lineWriter{m: m, stream: "stderr"}
	cmd.WaitDelay = killWaitTimeout

	if err := cmd.Start(); err != nil {
		return nil, &startError{err: fmt.Errorf("starting %s: %w", m.config.Name, err)}
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	pid := cmd.Process.Pid
	m.logger.Info("process started", "name", m.config.Name, "pid", pid)
	if m.config.OnStart != nil {
		m.config.OnStart(pid)
	}
	return cmd, nil
}

// lineWriter splits process output into lines. exec copies into it on its
// own goroutine and Wait returns only after the copy finishes.
type lineWriter struct {
	m      *Manager
	stream string
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.m.recordLine(w.stream, string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineBytes {
		w.m.recordLine(w.stream, string(w.buf))
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

func (m *Manager) recordLine(stream, line string) {
	m.logger.Debug("process output", "name", m.config.Name, "stream", stream, "line", line)

	m.outputMu.Lock()
	m.output = append(m.output, line)
	if over := len(m.output) - m.config.OutputLines; over > 0 {
		m.output = append(m.output[:0], m.output[over:]...)
	}
	m.outputMu.Unlock()
}

// Output returns the most recent output lines, oldest first.
func (m *Manager) Output() []string {
	m.outputMu.Lock()
	defer m.outputMu.Unlock()
	out := make([]string, len(m.output))
	copy(out, m.output)
	return out
}

// wait blocks until the process exits or the watchdog kills it.
func (m *Manager) wait(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
	}()

	if m.config.HealthCheck == nil {
		return <-exitCh
	}

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err

		case <-ctx.Done():
			return <-exitCh

		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := m.config.HealthCheck(checkCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					m.logger.Info("health check recovered", "name", m.config.Name, "previous_failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			m.logger.Warn("health check failed",
				"name", m.config.Name,
				"error", err,
				"consecutive_failures", failures,
			)
			if failures < m.config.MaxHealthFailures {
				continue
			}

			m.logger.Error("health check failed repeatedly, killing process",
				"name", m.config.Name,
				"failures", failures,
			)
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL) //nolint:errcheck // Process may already be gone
			select {
			case <-exitCh:
			case <-time.After(killWaitTimeout):
			}
			return fmt.Errorf("%w: %d consecutive failures: %w", ErrHealthCheckFailed, failures, err)
		}
	}
}

// monitor supervises cmd and every restarted successor until a stop, a
// fatal error, or the attempt cap.
func (m *Manager) monitor(ctx context.Context, cmd *exec.Cmd, done chan struct{}) {
	defer close(done)

	for {
		err := m.wait(ctx, cmd)

		m.mu.Lock()
		stopRequested := m.stopRequested || ctx.Err() != nil
		ranFor := time.Since(m.startTime)
		if ranFor >= m.config.StableThreshold {
			m.restartCount = 0
		}
		m.mu.Unlock()

		if stopRequested {
			m.logger.Info("process stopped", "name", m.config.Name)
			m.setStopped(nil)
			if m.config.OnStop != nil {
				m.config.OnStop(nil)
			}
			return
		}

		if err == nil {
			err = errors.New("exited with status 0")
		}
		m.logger.Warn("process exited unexpectedly", "name", m.config.Name, "error", err, "ran_for", ranFor)
		m.setFailed(err)
		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}

		next, ok := m.restart(ctx)
		if !ok {
			return
		}
		cmd = next
	}
}

// restart runs the backoff loop until a start succeeds or supervision ends.
func (m *Manager) restart(ctx context.Context) (*exec.Cmd, bool) {
	for {
		if !m.config.RestartOnFailure {
			m.logger.Info("restart disabled, not restarting", "name", m.config.Name)
			return nil, false
		}

		m.mu.Lock()
		m.restartCount++
		attempt := m.restartCount
		m.mu.Unlock()

		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.logger.Error("max restart attempts reached", "name", m.config.Name, "attempts", attempt-1)
			return nil, false
		}

		delay := m.calculateBackoffDelay(attempt)
		m.logger.Info("restarting process", "name", m.config.Name, "attempt", attempt, "delay", delay)
		if m.config.OnRestart != nil {
			m.config.OnRestart(attempt)
		}

		m.mu.RLock()
		stopCh := m.stopCh
		m.mu.RUnlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.setStopped(nil)
			return nil, false
		case <-stopCh:
			timer.Stop()
			m.setStopped(nil)
			return nil, false
		case <-timer.C:
		}

		m.mu.RLock()
		stopRequested := m.stopRequested
		m.mu.RUnlock()
		if stopRequested {
			m.setStopped(nil)
			return nil, false
		}

		cmd, err := m.startProcess(ctx)
		if err == nil {
			return cmd, true
		}

		m.logger.Error("failed to restart process", "name", m.config.Name, "error", err)
		m.setFailed(err)
		if !IsRecoverable(err) {
			return nil, false
		}
	}
}

// calculateBackoffDelay returns RestartDelay doubled per attempt, capped at
// MaxRestartDelay.
func (m *Manager) calculateBackoffDelay(attempt int) time.Duration {
	delay := m.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	return delay
}

func (m *Manager) setStopped(err error) {
	m.mu.Lock()
	m.status = StatusStopped
	if err != nil {
		m.lastError = err
	}
	m.mu.Unlock()
}

func (m *Manager) setFailed(err error) {
	m.mu.Lock()
	m.status = StatusFailed
	m.lastError = err
	m.mu.Unlock()
}

// Stop terminates the process group, escalating from SIGTERM to SIGKILL
// after GracefulTimeout, and cancels any pending restart. Stopping a
// process that is not running is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.stopRequested && m.stopCh != nil {
		close(m.stopCh)
	}
	m.stopRequested = true
	cmd := m.cmd
	done := m.done
	running := m.status == StatusRunning || m.status == StatusStarting
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the error behind the most recent unexpected exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the number of consecutive restarts.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Uptime returns how long the process has been running, or 0.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// PID returns the process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats is a snapshot of the managed process.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.status == StatusRunning {
		if m.cmd != nil && m.cmd.Process != nil {
			stats.PID = m.cmd.Process.Pid
		}
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}

// HTTPHealthCheck returns a health check that GETs url and expects a 2xx
// response. A nil client uses http.DefaultClient.
func HTTPHealthCheck(url string, client *http.Client) func(ctx context.Context) error {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}
}
