package gateway

import "errors"

// Sentinel errors for the gateway.
var (
	// ErrInvalidDeps indicates a required dependency is missing.
	ErrInvalidDeps = errors.New("gateway: invalid dependencies")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("gateway: already started")

	// ErrNoAnalyzer is returned by production queries when no sample store
	// is configured.
	ErrNoAnalyzer = errors.New("gateway: production analysis not configured")
)
