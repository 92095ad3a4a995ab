package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/playrelay/internal/playback"
	"github.com/nerrad567/playrelay/internal/session"
)

// Logger defines the logging interface used by the Broadcaster.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Listener observes every broadcast after it has been fanned out to sessions.
// OnBroadcast runs on the broadcasting goroutine and must not block.
type Listener interface {
	OnBroadcast(env Envelope)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(env Envelope)

// OnBroadcast calls f(env).
func (f ListenerFunc) OnBroadcast(env Envelope) { f(env) }

// Options configures a Broadcaster.
type Options struct {
	// ActivityTimeout is how long the controller stays active after the
	// last command. Default 60s.
	ActivityTimeout time.Duration

	// SweepInterval is how often activity is re-evaluated. Default 10s.
	SweepInterval time.Duration

	// RequireRecipients makes Execute fail with ErrNoRecipients when no
	// session is connected.
	RequireRecipients bool
}

const (
	defaultActivityTimeout = 60 * time.Second
	defaultSweepInterval   = 10 * time.Second
)

// Source labels where a command came from.
type Source string

// Command sources.
const (
	SourceREST      Source = "rest"
	SourceWebSocket Source = "websocket"
	SourceMQTT      Source = "mqtt"
)

// Command is one control request.
type Command struct {
	Name   string
	Value  any
	Source Source
	Actor  string // key name, session name or MQTT client
}

// Result describes what Execute did.
type Result struct {
	Command    string `json:"command"`
	Event      string `json:"event,omitempty"`
	Payload    any    `json:"payload,omitempty"`
	Recipients int    `json:"recipients"`
	Ignored    bool   `json:"ignored,omitempty"`
}

// Broadcaster fans events out over the session registry and owns the
// command and report paths into the shared playback state.
type Broadcaster struct {
	registry *session.Registry
	state    *playback.State
	opts     Options

	dispatchMu sync.Mutex // serializes state mutation plus fan-out

	listenersMu sync.RWMutex
	listeners   []Listener

	now    func() time.Time
	logger Logger
}

// New creates a Broadcaster over the given registry and state.
func New(registry *session.Registry, state *playback.State, opts Options) *Broadcaster {
	if opts.ActivityTimeout <= 0 {
		opts.ActivityTimeout = defaultActivityTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	return &Broadcaster{
		registry: registry,
		state:    state,
		opts:     opts,
		now:      time.Now,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the broadcaster.
func (b *Broadcaster) SetLogger(logger Logger) {
	b.logger = logger
}

// AddListener registers a Listener for every subsequent broadcast.
func (b *Broadcaster) AddListener(l Listener) {
	b.listenersMu.Lock()
	b.listeners = append(b.listeners, l)
	b.listenersMu.Unlock()
}

// State returns the shared playback state.
func (b *Broadcaster) State() *playback.State {
	return b.state
}

// Registry returns the session registry.
func (b *Broadcaster) Registry() *session.Registry {
	return b.registry
}

// Encode builds the wire form of an event.
func (b *Broadcaster) Encode(event string, payload any) (Envelope, []byte, error) {
	env := Envelope{Event: event, Data: payload, Timestamp: b.now().UTC()}
	data, err := json.Marshal(env)
	if err != nil {
		return env, nil, fmt.Errorf("encoding %s event: %w", event, err)
	}
	return env, data, nil
}

// Broadcast sends an event to every registered session and returns how many
// accepted it. Sessions that are full or gone are skipped without error.
func (b *Broadcaster) Broadcast(event string, payload any) int {
	env, data, err := b.Encode(event, payload)
	if err != nil {
		b.logger.Error("broadcast dropped", "event", event, "error", err)
		return 0
	}

	delivered := 0
	for _, sink := range b.registry.Sinks() {
		if sink.Deliver(data) {
			delivered++
		}
	}

	b.listenersMu.RLock()
	listeners := b.listeners
	b.listenersMu.RUnlock()
	for _, l := range listeners {
		l.OnBroadcast(env)
	}

	b.logger.Debug("event broadcast", "event", event, "recipients", delivered)
	return delivered
}

// SendTo delivers an event to one session. It reports false when the
// session is gone or its buffer is full.
func (b *Broadcaster) SendTo(sessionID, event string, payload any) bool {
	sink, ok := b.registry.Sink(sessionID)
	if !ok {
		return false
	}
	_, data, err := b.Encode(event, payload)
	if err != nil {
		b.logger.Error("direct send dropped", "event", event, "session_id", sessionID, "error", err)
		return false
	}
	return sink.Deliver(data)
}

// Execute validates a command, applies its state write-through, records
// controller activity and broadcasts the command event.
//
// Invalid input returns a playback validation error with nothing applied
// and nothing sent. Unknown commands are logged and reported as Ignored
// without error.
func (b *Broadcaster) Execute(ctx context.Context, cmd Command) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	spec, ok := lookup(cmd.Name)
	if !ok {
		b.logger.Warn("unknown command ignored", "command", cmd.Name, "source", cmd.Source, "actor", cmd.Actor)
		return Result{Command: cmd.Name, Ignored: true}, nil
	}

	payload, err := spec.validate(cmd.Value)
	if err != nil {
		b.logger.Debug("command rejected", "command", cmd.Name, "source", cmd.Source, "error", err)
		return Result{Command: spec.name, Event: spec.event}, err
	}

	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()

	if b.opts.RequireRecipients && b.registry.Count() == 0 {
		return Result{Command: spec.name, Event: spec.event}, ErrNoRecipients
	}

	if v, ok := payload.(VolumePayload); ok {
		if _, err := b.state.SetVolume(v.Level); err != nil {
			return Result{Command: spec.name, Event: spec.event}, err
		}
	}

	b.recordActivityLocked()
	n := b.Broadcast(spec.event, payload)

	b.logger.Info("command executed",
		"command", spec.name, "requested", cmd.Name, "event", spec.event,
		"source", cmd.Source, "actor", cmd.Actor, "recipients", n)

	return Result{Command: spec.name, Event: spec.event, Payload: payload, Recipients: n}, nil
}

// RecordActivity marks the controller active now. The controller-activity
// event is sent only when the controller was previously inactive.
func (b *Broadcaster) RecordActivity() {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()
	b.recordActivityLocked()
}

func (b *Broadcaster) recordActivityLocked() {
	if b.state.MarkActivity(b.now()) {
		b.Broadcast(EventControllerActivity, ActivityPayload{Active: true})
	}
}

// Run sweeps controller activity every SweepInterval until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

// sweep flips the controller to inactive once the timeout has passed.
func (b *Broadcaster) sweep() {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()

	if b.state.ExpireActivity(b.now(), b.opts.ActivityTimeout) {
		b.logger.Info("controller inactive", "timeout", b.opts.ActivityTimeout)
		b.Broadcast(EventControllerActivity, ActivityPayload{Active: false})
	}
}

// Report kinds accepted from controller sessions.
const (
	ReportVolume = "volume_update"
	ReportStatus = "status_update"
	ReportTitle  = "title_update"
)

// StateChangedPayload is the data of state-changed.
type StateChangedPayload struct {
	Field  string            `json:"field"`
	State  playback.Snapshot `json:"state"`
	Source string            `json:"source"`
}

// Report applies state self-reported by a controller session and
// re-broadcasts it as state-changed.
func (b *Broadcaster) Report(sessionID, kind string, value any) (playback.Snapshot, error) {
	s, err := b.registry.Get(sessionID)
	if err != nil {
		return playback.Snapshot{}, err
	}
	if !s.IsController() {
		return playback.Snapshot{}, ErrNotController
	}

	var apply func() (playback.Snapshot, error)
	var fieldName string

	switch kind {
	case ReportVolume:
		level, err := playback.ParseVolume(value)
		if err != nil {
			return playback.Snapshot{}, err
		}
		fieldName = "volume"
		apply = func() (playback.Snapshot, error) { return b.state.SetVolume(level) }
	case ReportStatus:
		status, err := playback.ParseStatus(value)
		if err != nil {
			return playback.Snapshot{}, err
		}
		fieldName = "status"
		apply = func() (playback.Snapshot, error) { return b.state.SetStatus(status) }
	case ReportTitle:
		title, err := playback.ParseTitle(value)
		if err != nil {
			return playback.Snapshot{}, err
		}
		fieldName = "title"
		apply = func() (playback.Snapshot, error) { return b.state.SetTitle(title) }
	default:
		return playback.Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownReport, kind)
	}

	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()

	snap, err := apply()
	if err != nil {
		return playback.Snapshot{}, err
	}
	b.Broadcast(EventStateChanged, StateChangedPayload{Field: fieldName, State: snap, Source: s.DisplayName})
	return snap, nil
}

// ConnectedClientsPayload is the data of connected-clients.
type ConnectedClientsPayload struct {
	Clients []session.Session `json:"clients"`
	Count   int               `json:"count"`
}

// AnnounceIdentify refreshes the client list after a session identified.
func (b *Broadcaster) AnnounceIdentify() {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()
	b.broadcastClientsLocked()
}

// AnnounceLeave tells everyone a session disconnected and refreshes the client list.
func (b *Broadcaster) AnnounceLeave(s session.Session) {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()

	b.Broadcast(EventClientDisconnected, DisconnectedPayload{ID: s.ID})
	b.broadcastClientsLocked()
}

func (b *Broadcaster) broadcastClientsLocked() {
	external := b.registry.ListExternal()
	b.Broadcast(EventConnectedClients, ConnectedClientsPayload{Clients: external, Count: len(external)})
}

// AnnounceAuthAttempt broadcasts the outcome of an API key check.
func (b *Broadcaster) AnnounceAuthAttempt(success bool, reason, who string) {
	b.Broadcast(EventAuthAttempt, AuthAttemptPayload{
		Success: success,
		Reason:  reason,
		Who:     who,
		When:    b.now().UTC(),
	})
}

// ControlsPayload is the data of controls.
type ControlsPayload struct {
	Commands []CommandInfo     `json:"commands"`
	State    playback.Snapshot `json:"state"`
}

// Controls returns the command catalog with the current state.
func (b *Broadcaster) Controls() ControlsPayload {
	return ControlsPayload{Commands: Catalog(), State: b.state.Snapshot()}
}

// StateSyncPayload is the data of state-sync.
type StateSyncPayload struct {
	State   playback.Snapshot `json:"state"`
	Clients []session.Session `json:"clients"`
}

// AdmitSession announces a new session and sends it a state-sync. Both happen
// under one dispatch, so the sync is never older than a state-changed
// already queued to the session.
func (b *Broadcaster) AdmitSession(s session.Session) {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()

	b.Broadcast(EventClientConnected, s)
	b.broadcastClientsLocked()
	b.syncSessionLocked(s.ID)
}

// SyncSession sends the current state and client list to one session.
func (b *Broadcaster) SyncSession(sessionID string) bool {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()
	return b.syncSessionLocked(sessionID)
}

func (b *Broadcaster) syncSessionLocked(sessionID string) bool {
	return b.SendTo(sessionID, EventStateSync, StateSyncPayload{
		State:   b.state.Snapshot(),
		Clients: b.registry.ListExternal(),
	})
}

// IsInputError reports whether err means the caller sent bad input.
func IsInputError(err error) bool {
	return playback.IsValidationError(err) || errors.Is(err, ErrUnknownReport)
}
