package bridge

import "errors"

var (
	// ErrNotCommandTopic is returned for a message outside the command topics.
	ErrNotCommandTopic = errors.New("bridge: not a command topic")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("bridge: already started")
)
