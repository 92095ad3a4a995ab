package credential

import "errors"

// Domain errors for the credential package.
var (
	// ErrKeyNotFound is returned when a key ID does not exist.
	ErrKeyNotFound = errors.New("credential: key not found")

	// ErrEnvironmentKey is returned when mutating a key that comes from the
	// environment. Those keys can only be changed where they are configured.
	ErrEnvironmentKey = errors.New("credential: environment keys cannot be modified")

	// ErrInvalidName is returned when a key name is empty or too long.
	ErrInvalidName = errors.New("credential: invalid name")

	// ErrSetupClosed is returned by CreateFirst once any key exists.
	ErrSetupClosed = errors.New("credential: a key already exists")

	// ErrStorage is returned when the key file cannot be read or written.
	ErrStorage = errors.New("credential: storage failure")
)
