package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")

	// Venue error taxonomy. Connectors translate venue responses into these
	// sentinels so callers can classify failures with errors.Is.
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrVenueUnreachable     = errors.New("venue unreachable")
	ErrBoundsViolation      = errors.New("order outside venue bounds")
	ErrOrderRejected        = errors.New("order rejected by venue")
	ErrOrderTimeout         = errors.New("order confirmation timed out")
	ErrDataUnavailable      = errors.New("market data unavailable")
	ErrUnsupportedOperation = errors.New("operation not supported by venue")
)
