package relay

import "errors"

// Domain errors for the relay package.
var (
	// ErrNoRecipients is returned by Execute when recipients are required
	// and no session is connected. Nothing is applied.
	ErrNoRecipients = errors.New("relay: no connected sessions")

	// ErrNotController is returned when a non-controller session reports state.
	ErrNotController = errors.New("relay: only controller sessions may report state")

	// ErrUnknownReport is returned for an unrecognised report kind.
	ErrUnknownReport = errors.New("relay: unknown report kind")
)
