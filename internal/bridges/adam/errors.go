package adam

import "errors"

// Domain errors for the ADAM counter module package.
var (
	// ErrConnectionFailed is returned when the Modbus TCP session cannot be opened.
	ErrConnectionFailed = errors.New("adam: connection failed")

	// ErrReadFailed is returned when a register or discrete input read fails.
	ErrReadFailed = errors.New("adam: read failed")

	// ErrMalformedResponse is returned when a response carries an unexpected byte count.
	ErrMalformedResponse = errors.New("adam: malformed response")

	// ErrInvalidConfig is returned when the reader configuration is unusable.
	ErrInvalidConfig = errors.New("adam: invalid config")
)
