package session

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Role classifies a session.
type Role string

// Session roles.
const (
	// RoleController is a dashboard page hosting the player.
	RoleController Role = "controller"

	// RoleExternal is any other connected client.
	RoleExternal Role = "external"
)

// ParseRole converts a declared role tag. The empty string and unknown values
// report false so the caller falls back to name classification.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleController:
		return RoleController, true
	case RoleExternal:
		return RoleExternal, true
	}
	return "", false
}

const (
	// DefaultDisplayName is used until a session identifies itself.
	DefaultDisplayName = "Unknown Device"

	// DefaultControllerPrefix marks controller surfaces by name.
	DefaultControllerPrefix = "Dashboard"

	// MaxNameLength bounds display names, in runes.
	MaxNameLength = 64
)

// Session is one live real-time connection.
type Session struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"name"`
	Role          Role      `json:"role"`
	RemoteAddress string    `json:"remoteAddress"`
	ConnectedAt   time.Time `json:"connectedAt"`
}

// IsController reports whether the session is a controller surface.
func (s Session) IsController() bool {
	return s.Role == RoleController
}

// Sink delivers encoded messages to one session.
//
// Deliver must not block; it returns false when the message was dropped
// because the session is slow or already closing. Close releases the
// underlying connection and must be safe to call more than once.
type Sink interface {
	Deliver(msg []byte) bool
	Close()
}

// ClassifyRole derives a role from a display name: names starting with
// prefix (literal, case-sensitive) are controllers.
func ClassifyRole(name, prefix string) Role {
	if prefix != "" && strings.HasPrefix(name, prefix) {
		return RoleController
	}
	return RoleExternal
}

// normaliseName trims a proposed display name, bounds its length and falls
// back to DefaultDisplayName when nothing is left.
func normaliseName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxNameLength {
		name = strings.TrimSpace(string([]rune(name)[:MaxNameLength]))
	}
	if name == "" {
		return DefaultDisplayName
	}
	return name
}
