package status

import "errors"

// Recoverable failures the portal surfaces to the user. None of them is fatal:
// the view keeps its last good state and the user may retry.
var (
	ErrFetchFailed     = errors.New("events: fetch failed")
	ErrBookingRejected = errors.New("booking: request rejected")
	ErrPushDisrupted   = errors.New("push: connection dropped")
	ErrMutationFailed  = errors.New("events: change rejected")
	ErrAuthFailed      = errors.New("auth: request rejected")
	ErrUnauthenticated = errors.New("auth: not logged in")
	ErrSessionNotFound = errors.New("session: not found")
	ErrViewNotFound    = errors.New("view: not found")
	ErrCircuitOpen     = errors.New("api: circuit breaker is open")
)
