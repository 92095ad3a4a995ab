package session

import "errors"

// Domain errors for the session package.
var (
	// ErrSessionNotFound is returned when a session ID is not registered.
	// Callers on the disconnect and identify paths treat it as a no-op.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrSessionExists is returned when registering an ID that is already present.
	ErrSessionExists = errors.New("session: already registered")

	// ErrInvalidSession is returned when a session has no ID or no sink.
	ErrInvalidSession = errors.New("session: invalid")
)
