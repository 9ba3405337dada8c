package acquire

import "errors"

// Sentinel errors for acquisition.
var (
	// ErrNoStrategies is returned by NewChain without strategies.
	ErrNoStrategies = errors.New("acquire: no strategies configured")

	// ErrUnavailable indicates the strategy's transport is not reachable.
	ErrUnavailable = errors.New("acquire: source unavailable")

	// ErrNoData indicates the source answered without usable machine data.
	ErrNoData = errors.New("acquire: no machine data")

	// ErrAllFailed is returned when every strategy in a chain failed.
	ErrAllFailed = errors.New("acquire: all strategies failed")

	// ErrInvalidConfig indicates an unusable strategy configuration.
	ErrInvalidConfig = errors.New("acquire: invalid configuration")
)
