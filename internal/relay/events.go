package relay

import "time"

// Outbound event names that are not tied to a command.
const (
	EventConnectedClients   = "connected-clients"
	EventClientConnected    = "client-connected"
	EventClientDisconnected = "client-disconnected"
	EventControllerActivity = "controller-activity"
	EventAuthAttempt        = "auth-attempt"
	EventStateChanged       = "state-changed"
	EventStateSync          = "state-sync"
	EventControls           = "controls"
	EventError              = "error"
)

// Envelope is the wire form of every outbound event.
type Envelope struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// ActivityPayload is the data of controller-activity.
type ActivityPayload struct {
	Active bool `json:"active"`
}

// AuthAttemptPayload is the data of auth-attempt.
type AuthAttemptPayload struct {
	Success bool      `json:"success"`
	Reason  string    `json:"reason,omitempty"`
	Who     string    `json:"who"`
	When    time.Time `json:"when"`
}

// VolumePayload is the data of volume-changed.
type VolumePayload struct {
	Level int `json:"level"`
}

// ErrorPayload is the data of error, sent to a single session.
type ErrorPayload struct {
	Message string `json:"message"`
}

// DisconnectedPayload is the data of client-disconnected.
type DisconnectedPayload struct {
	ID string `json:"id"`
}
