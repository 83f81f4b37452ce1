package source

import "errors"

// Sentinel errors for the sync core. Callers classify with errors.Is.
var (
	// ErrSourceUnavailable wraps any network/store failure of an adapter call.
	ErrSourceUnavailable = errors.New("row source unavailable")
	// ErrStaleWrite marks an optimistic send that failed to confirm.
	ErrStaleWrite = errors.New("optimistic write failed to confirm")
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("row not found")
	// ErrMalformedRow marks a change-feed record that failed validation.
	ErrMalformedRow = errors.New("malformed row")
)
