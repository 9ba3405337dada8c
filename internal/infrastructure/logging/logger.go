package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "graygateway"

// Logger wraps slog.Logger with gateway-specific functionality.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified configuration.
//
// Parameters:
//   - cfg: Logging configuration from gateway.yaml
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return NewWithWriter(cfg, version, output)
}

// NewWithWriter creates a Logger writing to w instead of stdout/stderr.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel converts a string log level to slog.Level.
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	shdrLogger := logger.With("component", "shdr", "machine_id", "M01")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default creates a default logger for use before configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// Throttled rate-limits repetitive warnings such as per-line parse failures
// from a misbehaving device. Suppressed entries are counted and the count is
// attached to the next entry that gets through.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Throttled struct {
	log     *Logger
	limiter *rate.Limiter

	mu         sync.Mutex
	suppressed int
}

// NewThrottled allows one entry per interval with the given burst.
func NewThrottled(log *Logger, interval time.Duration, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		log:     log,
		limiter: rate.NewLimiter(rate.Every(interval), burst),
	}
}

// Warn logs msg at warn level unless the limiter is exhausted.
func (t *Throttled) Warn(msg string, args ...any) {
	t.mu.Lock()
	if !t.limiter.Allow() {
		t.suppressed++
		t.mu.Unlock()
		return
	}
	n := t.suppressed
	t.suppressed = 0
	t.mu.Unlock()

	if n > 0 {
		args = append(args, "suppressed", n)
	}
	t.log.Warn(msg, args...)
}

// Suppressed returns the number of entries dropped since the last emitted one.
func (t *Throttled) Suppressed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suppressed
}
