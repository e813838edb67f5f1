package rate

import "errors"

var (
	// ErrStoreUnavailable wraps counter store failures.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	// ErrInvalidRule is returned for non-positive limits or windows.
	ErrInvalidRule = errors.New("invalid rate limit rule")
)
