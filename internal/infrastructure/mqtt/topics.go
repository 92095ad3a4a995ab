package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "playrelay"

// Topics builds the MQTT topics of one relay instance.
//
// Every topic lives under a configurable prefix so several relays can share
// a broker:
//
//	<prefix>/event/<event>       outbound events, mirrored from the broadcaster
//	<prefix>/command/<command>   inbound commands, executed like REST calls
//	<prefix>/state               retained playback snapshot
//	<prefix>/system/status       retained online/offline status (LWT)
type Topics struct {
	Prefix string
}

// NewTopics returns topic builders for prefix. Surrounding slashes are
// trimmed and an empty prefix selects DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// Event returns the topic an outbound event is mirrored to.
//
// Example: playrelay/event/volume-changed
func (t Topics) Event(event string) string {
	return fmt.Sprintf("%s/event/%s", t.prefix(), event)
}

// Command returns the topic that triggers a command.
//
// Example: playrelay/command/play
func (t Topics) Command(command string) string {
	return fmt.Sprintf("%s/command/%s", t.prefix(), command)
}

// AllCommands returns the wildcard subscription for every command topic.
func (t Topics) AllCommands() string {
	return t.prefix() + "/command/+"
}

// AllEvents returns the wildcard subscription for every event topic.
func (t Topics) AllEvents() string {
	return t.prefix() + "/event/+"
}

// State returns the retained playback snapshot topic.
func (t Topics) State() string {
	return t.prefix() + "/state"
}

// SystemStatus returns the retained online/offline status topic.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// CommandName extracts the command from a command topic.
// It reports false for any other topic.
func (t Topics) CommandName(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, t.prefix()+"/command/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
