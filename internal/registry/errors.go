package registry

import "errors"

var (
	// ErrSessionNotFound marks operations on an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotReady marks sends attempted before the session reaches
	// the ready state. Callers may wait and retry; re-initializing is not
	// required.
	ErrSessionNotReady = errors.New("session not ready")
)
