package playback

import "errors"

// Domain errors for the playback package.
//
// All of them describe malformed input and map to a 400 at the HTTP boundary.
var (
	// ErrInvalidVolume is returned when a volume is not a number in [0,100].
	ErrInvalidVolume = errors.New("playback: volume must be a number between 0 and 100")

	// ErrInvalidStatus is returned when a status is not playing, paused or stopped.
	ErrInvalidStatus = errors.New("playback: status must be playing, paused or stopped")

	// ErrInvalidTitle is returned when a title is not a non-empty string.
	ErrInvalidTitle = errors.New("playback: title must be a non-empty string")

	// ErrInvalidVideoRef is returned when a string is not a recognised video reference.
	ErrInvalidVideoRef = errors.New("playback: invalid video reference")
)

// IsValidationError reports whether err is one of the input errors above.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidVolume) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidTitle) ||
		errors.Is(err, ErrInvalidVideoRef)
}
