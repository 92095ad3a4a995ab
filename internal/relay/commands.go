package relay

import (
	"sort"

	"github.com/nerrad567/playrelay/internal/playback"
)

// payloadKind says how a command's value is validated.
type payloadKind int

const (
	payloadNone payloadKind = iota
	payloadVideo
	payloadVolume
)

func (k payloadKind) String() string {
	switch k {
	case payloadVideo:
		return "video"
	case payloadVolume:
		return "volume"
	default:
		return "none"
	}
}

type commandSpec struct {
	name    string
	event   string
	path    string
	payload payloadKind
}

// Canonical command names.
const (
	CmdPlay        = "play"
	CmdPlayNow     = "play-now"
	CmdStop        = "stop"
	CmdPlayPause   = "play-pause"
	CmdFullscreen  = "fullscreen"
	CmdTheater     = "theater"
	CmdMute        = "mute"
	CmdVolume      = "volume"
	CmdNext        = "next"
	CmdPrevious    = "previous"
	CmdSeekBack    = "seek-back"
	CmdSeekForward = "seek-forward"
)

var commands = []commandSpec{
	{CmdPlay, "play-video", "/play", payloadVideo},
	{CmdPlayNow, "play-video-now", "/play-now", payloadVideo},
	{CmdStop, "stop-video", "/stop", payloadNone},
	{CmdPlayPause, "toggle-play-pause", "/play-pause", payloadNone},
	{CmdFullscreen, "toggle-fullscreen", "/fullscreen", payloadNone},
	{CmdTheater, "toggle-theater", "/theater", payloadNone},
	{CmdMute, "toggle-mute", "/mute", payloadNone},
	{CmdVolume, "volume-changed", "/volume", payloadVolume},
	{CmdNext, "next-video", "/next", payloadNone},
	{CmdPrevious, "previous-video", "/previous", payloadNone},
	{CmdSeekBack, "seek-backward", "/seek-backward", payloadNone},
	{CmdSeekForward, "seek-forward", "/seek-forward", payloadNone},
}

// aliases maps older command names onto the canonical ones. pause and
// resume both toggle; exitfullscreen toggles fullscreen.
var aliases = map[string]string{
	"pause":          CmdPlayPause,
	"resume":         CmdPlayPause,
	"exitfullscreen": CmdFullscreen,
	"seek-backward":  CmdSeekBack,
}

// legacyPaths are REST paths kept for older clients.
var legacyPaths = map[string]string{
	"/pause":          "pause",
	"/resume":         "resume",
	"/exitfullscreen": "exitfullscreen",
}

var byName = func() map[string]commandSpec {
	m := make(map[string]commandSpec, len(commands))
	for _, c := range commands {
		m[c.name] = c
	}
	return m
}()

// lookup resolves a command name or alias.
func lookup(name string) (commandSpec, bool) {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	c, ok := byName[name]
	return c, ok
}

// CommandInfo describes one supported command.
type CommandInfo struct {
	Name    string   `json:"name"`
	Event   string   `json:"event"`
	Path    string   `json:"path"`
	Payload string   `json:"payload"`
	Aliases []string `json:"aliases,omitempty"`
}

// Catalog returns the supported commands in a stable order.
func Catalog() []CommandInfo {
	out := make([]CommandInfo, 0, len(commands))
	for _, c := range commands {
		info := CommandInfo{Name: c.name, Event: c.event, Path: c.path, Payload: c.payload.String()}
		for alias, target := range aliases {
			if target == c.name {
				info.Aliases = append(info.Aliases, alias)
			}
		}
		sort.Strings(info.Aliases)
		out = append(out, info)
	}
	return out
}

// Route binds a REST path to the command it triggers.
type Route struct {
	Path    string
	Command string
}

// Routes returns every REST command path, canonical and legacy.
func Routes() []Route {
	routes := make([]Route, 0, len(commands)+len(legacyPaths))
	for _, c := range commands {
		routes = append(routes, Route{Path: c.path, Command: c.name})
	}
	legacy := make([]string, 0, len(legacyPaths))
	for p := range legacyPaths {
		legacy = append(legacy, p)
	}
	sort.Strings(legacy)
	for _, p := range legacy {
		routes = append(routes, Route{Path: p, Command: legacyPaths[p]})
	}
	return routes
}

// EventFor returns the outbound event of a command or alias.
func EventFor(name string) (string, bool) {
	c, ok := lookup(name)
	return c.event, ok
}

// validate checks the value for a command and returns the broadcast payload.
func (c commandSpec) validate(value any) (any, error) {
	switch c.payload {
	case payloadVideo:
		raw, ok := field(value, "url").(string)
		if !ok {
			return nil, playback.ErrInvalidVideoRef
		}
		return playback.ParseVideoRef(raw)
	case payloadVolume:
		level, err := playback.ParseVolume(field(value, "level"))
		if err != nil {
			return nil, err
		}
		return VolumePayload{Level: level}, nil
	default:
		return struct{}{}, nil
	}
}

// field unwraps {"<key>": v} objects so a command value may be given either
// bare or wrapped.
func field(value any, key string) any {
	if m, ok := value.(map[string]any); ok {
		return m[key]
	}
	return value
}
