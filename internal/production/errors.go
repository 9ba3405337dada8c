package production

import "errors"

// Domain-specific errors for the production package.
var (
	// ErrMachineIDRequired is returned when a query or write has no machine id.
	ErrMachineIDRequired = errors.New("production: machine id is required")

	// ErrInvalidWindow is returned when a window ends before it starts.
	ErrInvalidWindow = errors.New("production: invalid time window")

	// ErrInvalidSchedule is returned when a retention cron expression does not parse.
	ErrInvalidSchedule = errors.New("production: invalid retention schedule")
)
