package process

import (
	"errors"
	"io/fs"
	"os/exec"
)

// Sentinel errors for process supervision.
var (
	// ErrInvalidConfig indicates a Config without a name or binary.
	ErrInvalidConfig = errors.New("process: invalid configuration")

	// ErrAlreadyRunning is returned by Start while the process is running.
	ErrAlreadyRunning = errors.New("process: already running")

	// ErrHealthCheckFailed indicates the watchdog killed the process.
	ErrHealthCheckFailed = errors.New("process: health check failed")
)

// RecoverableError is implemented by errors that know whether a restart
// could help.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether restarting after err makes sense. Errors
// that do not implement RecoverableError are treated as recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// startError wraps a failure to launch the binary.
type startError struct {
	err error
}

func (e *startError) Error() string { return e.err.Error() }
func (e *startError) Unwrap() error { return e.err }

// IsRecoverable is false when the binary does not exist or is not executable.
func (e *startError) IsRecoverable() bool {
	return !errors.Is(e.err, exec.ErrNotFound) && !errors.Is(e.err, fs.ErrPermission) && !errors.Is(e.err, fs.ErrNotExist)
}
