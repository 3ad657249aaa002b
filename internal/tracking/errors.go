package tracking

import "errors"

var (
	// ErrPermissionDenied is returned when the location provider refuses access
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrLocationUnavailable is returned when no position fix can be produced
	ErrLocationUnavailable = errors.New("location unavailable")

	// ErrSessionClosed is returned by operations on a session that is not active
	ErrSessionClosed = errors.New("tracking session closed")

	// ErrDuplicateStop is returned by Open when two stops share a name
	ErrDuplicateStop = errors.New("duplicate stop name")
)
