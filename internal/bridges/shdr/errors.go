package shdr

import "errors"

// Domain errors for the SHDR bridge package.
var (
	// ErrNotConnected is returned when an operation requires a live
	// connection but the client is not connected to the adapter.
	ErrNotConnected = errors.New("shdr: not connected")

	// ErrConnectionFailed is returned when dialling the adapter fails.
	ErrConnectionFailed = errors.New("shdr: connection to adapter failed")

	// ErrConnectionLost is reported when an established connection is
	// closed or reset by the peer.
	ErrConnectionLost = errors.New("shdr: connection lost")

	// ErrIdleTimeout is reported when no bytes arrive within the idle timeout.
	ErrIdleTimeout = errors.New("shdr: idle timeout")

	// ErrMaxAttemptsReached is reported when the consecutive reconnect
	// cap is exhausted and the client stops retrying.
	ErrMaxAttemptsReached = errors.New("shdr: max reconnect attempts reached")

	// ErrClientStopped is returned when a dial completes after the
	// client was deliberately disconnected.
	ErrClientStopped = errors.New("shdr: client stopped")

	// ErrClientClosed is returned by operations on a closed client.
	ErrClientClosed = errors.New("shdr: client closed")

	// ErrMalformedLine is returned when a line has no field separator.
	ErrMalformedLine = errors.New("shdr: malformed line")

	// ErrLineTooLong is returned when buffered input exceeds the maximum
	// line length without a newline.
	ErrLineTooLong = errors.New("shdr: line too long")

	// ErrInvalidConfig is returned when a client configuration is unusable.
	ErrInvalidConfig = errors.New("shdr: invalid config")

	// ErrUnknownDevice is returned when a registry operation names a
	// device that is not configured.
	ErrUnknownDevice = errors.New("shdr: unknown device")
)
