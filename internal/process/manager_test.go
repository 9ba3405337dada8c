package process

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func waitForStatus(t *testing.T, m *Manager, want Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.Status() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Status() = %q, want %q within %v", m.Status(), want, timeout)
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{Name: "agent", Binary: "/usr/bin/agent"})

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"RestartDelay", m.config.RestartDelay, 5 * time.Second},
		{"MaxRestartDelay", m.config.MaxRestartDelay, 5 * time.Minute},
		{"StableThreshold", m.config.StableThreshold, 2 * time.Minute},
		{"GracefulTimeout", m.config.GracefulTimeout, 10 * time.Second},
		{"HealthCheckInterval", m.config.HealthCheckInterval, 30 * time.Second},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if m.config.MaxHealthFailures != 3 {
		t.Errorf("MaxHealthFailures = %d, want 3", m.config.MaxHealthFailures)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("agent", "/opt/agent", []string{"--port", "5000"})

	if cfg.Name != "agent" || cfg.Binary != "/opt/agent" {
		t.Errorf("Name/Binary = %q/%q", cfg.Name, cfg.Binary)
	}
	if len(cfg.Args) != 2 {
		t.Errorf("Args = %v, want 2 entries", cfg.Args)
	}
	if !cfg.RestartOnFailure {
		t.Error("RestartOnFailure = false, want true")
	}
	if cfg.MaxRestartAttempts != 10 {
		t.Errorf("MaxRestartAttempts = %d, want 10", cfg.MaxRestartAttempts)
	}
}

func TestManager_InitialState(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})

	if m.Status() != StatusStopped {
		t.Errorf("initial Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.IsRunning() || m.PID() != 0 || m.Uptime() != 0 || m.RestartCount() != 0 {
		t.Errorf("initial state = running %v, pid %d, uptime %v, restarts %d", m.IsRunning(), m.PID(), m.Uptime(), m.RestartCount())
	}
	if m.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", m.LastError())
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() on stopped process error = %v, want nil", err)
	}
}

func TestManager_InvalidConfig(t *testing.T) {
	m := NewManager(Config{Name: "no-binary"})
	if err := m.Start(context.Background()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Start() error = %v, want %v", err, ErrInvalidConfig)
	}
}

func TestManager_StartAndStop(t *testing.T) {
	var startedPID atomic.Int64
	var stopErr atomic.Value
	m := NewManager(Config{
		Name:            "sleeper",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
		OnStart:         func(pid int) { startedPID.Store(int64(pid)) },
		OnStop: func(err error) {
			stopErr.Store(errBox{err})
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !m.IsRunning() || m.PID() == 0 {
		t.Fatalf("after Start() running = %v, pid = %d", m.IsRunning(), m.PID())
	}
	if int(startedPID.Load()) != m.PID() {
		t.Errorf("OnStart pid = %d, want %d", startedPID.Load(), m.PID())
	}
	if err := m.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want %v", err, ErrAlreadyRunning)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() after Stop() = %q, want %q", m.Status(), StatusStopped)
	}
	if box, ok := stopErr.Load().(errBox); !ok || box.err != nil {
		t.Errorf("OnStop error = %v, want nil for requested stop", stopErr.Load())
	}
}

type errBox struct{ err error }

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{Name: "bad-binary", Binary: "/nonexistent/binary"})

	err := m.Start(context.Background())
	if err == nil {
		t.Fatal("Start() with invalid binary error = nil")
	}
	if IsRecoverable(err) {
		t.Errorf("IsRecoverable(%v) = true, want false for a missing binary", err)
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
}

func TestManager_RestartsAfterExit(t *testing.T) {
	var restarts atomic.Int32
	m := NewManager(Config{
		Name:               "flaky",
		Binary:             "/bin/sh",
		Args:               []string{"-c", "echo started; exit 3"},
		RestartOnFailure:   true,
		RestartDelay:       10 * time.Millisecond,
		MaxRestartDelay:    20 * time.Millisecond,
		MaxRestartAttempts: 2,
		OnRestart:          func(int) { restarts.Add(1) },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForStatus(t, m, StatusFailed, 5*time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for restarts.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := restarts.Load(); got != 2 {
		t.Errorf("restarts = %d, want 2", got)
	}
	if m.LastError() == nil {
		t.Error("LastError() = nil, want exit error")
	}
	if out := m.Output(); len(out) == 0 || !strings.Contains(strings.Join(out, "\n"), "started") {
		t.Errorf("Output() = %v, want captured echo", out)
	}
}

func TestManager_StopCancelsBackoff(t *testing.T) {
	m := NewManager(Config{
		Name:             "quitter",
		Binary:           "/bin/sh",
		Args:             []string{"-c", "exit 1"},
		RestartOnFailure: true,
		RestartDelay:     time.Hour,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForStatus(t, m, StatusFailed, 5*time.Second)

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop() }()

	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not interrupt the restart backoff")
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
}

func TestManager_HealthWatchdogKills(t *testing.T) {
	m := NewManager(Config{
		Name:                "hung",
		Binary:              "/bin/sleep",
		Args:                []string{"60"},
		HealthCheck:         func(context.Context) error { return errors.New("no answer") },
		HealthCheckInterval: 10 * time.Millisecond,
		MaxHealthFailures:   2,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForStatus(t, m, StatusFailed, 5*time.Second)

	if !errors.Is(m.LastError(), ErrHealthCheckFailed) {
		t.Errorf("LastError() = %v, want %v", m.LastError(), ErrHealthCheckFailed)
	}
}

func TestCalculateBackoffDelay(t *testing.T) {
	m := NewManager(Config{
		Name:            "test",
		Binary:          "/bin/true",
		RestartDelay:    time.Second,
		MaxRestartDelay: 30 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := m.calculateBackoffDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateBackoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// testRecoverableError implements RecoverableError for testing.
type testRecoverableError struct {
	recoverable bool
}

func (e *testRecoverableError) Error() string       { return "test error" }
func (e *testRecoverableError) IsRecoverable() bool { return e.recoverable }

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"plain error", context.DeadlineExceeded, true},
		{"recoverable", &testRecoverableError{recoverable: true}, true},
		{"not recoverable", &testRecoverableError{recoverable: false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverable(tt.err); got != tt.want {
				t.Errorf("IsRecoverable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestHTTPHealthCheck(t *testing.T) {
	healthy := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	check := HTTPHealthCheck(srv.URL+"/current", nil)
	if err := check(context.Background()); err == nil {
		t.Error("check() on 503 error = nil")
	}
	healthy.Store(true)
	if err := check(context.Background()); err != nil {
		t.Errorf("check() on 200 error = %v", err)
	}
}
