package playback

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxTitleLength is the number of runes kept from a reported title.
const MaxTitleLength = 300

// ParseVolume validates an untrusted volume value.
//
// Accepted: any finite number (as decoded from JSON, or a Go numeric type)
// in [0,100]. Fractions are rounded to the nearest integer. Strings, booleans
// and null are rejected.
func ParseVolume(v any) (int, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, ErrInvalidVolume
		}
		f = parsed
	default:
		return 0, ErrInvalidVolume
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > 100 {
		return 0, ErrInvalidVolume
	}
	return int(math.Round(f)), nil
}

// ParseStatus validates an untrusted playback status.
func ParseStatus(v any) (Status, error) {
	str, ok := v.(string)
	if !ok {
		return "", ErrInvalidStatus
	}
	status := Status(strings.ToLower(strings.TrimSpace(str)))
	if !status.Valid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}

// ParseTitle validates an untrusted title: a string that is non-empty after
// trimming. Titles longer than MaxTitleLength runes are truncated.
func ParseTitle(v any) (string, error) {
	str, ok := v.(string)
	if !ok {
		return "", ErrInvalidTitle
	}
	title := strings.TrimSpace(str)
	if title == "" {
		return "", ErrInvalidTitle
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		runes := []rune(title)
		title = strings.TrimSpace(string(runes[:MaxTitleLength]))
	}
	return title, nil
}

// VideoRef is a validated video reference.
type VideoRef struct {
	URL     string `json:"url"`
	VideoID string `json:"videoId"`
}

// A video id is exactly eleven characters from [A-Za-z0-9_-].
var (
	watchURLPattern = regexp.MustCompile(`^(?:https?://)?(?:www\.|m\.)?youtube\.com/watch\?(?:[^#]*&)?v=([A-Za-z0-9_-]{11})(?:[&#].*)?$`)
	shortURLPattern = regexp.MustCompile(`^(?:https?://)?youtu\.be/([A-Za-z0-9_-]{11})(?:[?#].*)?$`)
	embedURLPattern = regexp.MustCompile(`^(?:https?://)?(?:www\.)?youtube(?:-nocookie)?\.com/embed/([A-Za-z0-9_-]{11})(?:[?#].*)?$`)
	bareIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
)

// ParseVideoRef accepts a watch URL carrying v=<id>, a youtu.be/<id> short
// link, an /embed/<id> URL, or a bare id. Anything else is ErrInvalidVideoRef.
func ParseVideoRef(raw string) (VideoRef, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return VideoRef{}, ErrInvalidVideoRef
	}

	if bareIDPattern.MatchString(ref) {
		return VideoRef{URL: ref, VideoID: ref}, nil
	}

	for _, pattern := range []*regexp.Regexp{watchURLPattern, shortURLPattern, embedURLPattern} {
		if m := pattern.FindStringSubmatch(ref); m != nil {
			return VideoRef{URL: ref, VideoID: m[1]}, nil
		}
	}

	return VideoRef{}, ErrInvalidVideoRef
}
