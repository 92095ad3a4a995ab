package session

import (
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

type entry struct {
	session Session
	sink    Sink
	seq     uint64 // registration order
}

// Registry tracks every live session and its delivery sink.
//
// Register, Identify and Unregister are linearizable: they all take the
// same write lock. Readers take the read lock and get copies, so a session
// that has been fully removed is never returned.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextSeq uint64
	prefix  string
	logger  Logger
}

// NewRegistry creates an empty registry. Sessions whose name starts with
// controllerPrefix are classified as controllers; an empty prefix selects
// DefaultControllerPrefix.
func NewRegistry(controllerPrefix string) *Registry {
	if controllerPrefix == "" {
		controllerPrefix = DefaultControllerPrefix
	}
	return &Registry{
		entries: make(map[string]*entry),
		prefix:  controllerPrefix,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds a new session as an unidentified external client.
// DisplayName and Role on s are overwritten with their defaults.
func (r *Registry) Register(s Session, sink Sink) error {
	if s.ID == "" || sink == nil {
		return ErrInvalidSession
	}
	s.DisplayName = DefaultDisplayName
	s.Role = RoleExternal
	if s.ConnectedAt.IsZero() {
		s.ConnectedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[s.ID]; exists {
		return ErrSessionExists
	}
	r.nextSeq++
	r.entries[s.ID] = &entry{session: s, sink: sink, seq: r.nextSeq}

	r.logger.Debug("session registered", "session_id", s.ID, "remote_addr", s.RemoteAddress, "count", len(r.entries))
	return nil
}

// Identify sets the display name of a registered session and recomputes its
// role. A valid declared role wins over the name prefix.
// Returns ErrSessionNotFound if the session is gone.
func (r *Registry) Identify(id, name string, declared Role) (Session, error) {
	name = normaliseName(name)

	role := ClassifyRole(name, r.prefix)
	if declared == RoleController || declared == RoleExternal {
		role = declared
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	e.session.DisplayName = name
	e.session.Role = role

	r.logger.Debug("session identified", "session_id", id, "name", name, "role", role)
	return e.session, nil
}

// Unregister removes a session by ID and returns it. Removing an unknown ID
// is a no-op and reports false.
func (r *Registry) Unregister(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Session{}, false
	}
	delete(r.entries, id)

	r.logger.Debug("session unregistered", "session_id", id, "count", len(r.entries))
	return e.session, true
}

// Get returns a copy of one session.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return e.session, nil
}

// Sink returns the delivery sink of one session.
func (r *Registry) Sink(id string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.sink, true
}

// List returns all sessions in registration order.
func (r *Registry) List() []Session {
	return r.collect(func(Session) bool { return true })
}

// ListExternal returns the external sessions in registration order.
func (r *Registry) ListExternal() []Session {
	return r.collect(func(s Session) bool { return s.Role == RoleExternal })
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ExternalCount returns the number of registered external sessions.
func (r *Registry) ExternalCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.entries {
		if e.session.Role == RoleExternal {
			n++
		}
	}
	return n
}

// Sinks returns the delivery sinks of every registered session, in
// registration order. The slice is a snapshot; sessions that leave after
// the call may still be delivered to, which their sinks tolerate.
func (r *Registry) Sinks() []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := r.orderedLocked()
	sinks := make([]Sink, len(ordered))
	for i, e := range ordered {
		sinks[i] = e.sink
	}
	return sinks
}

// Drain removes every session and returns their sinks so the caller can
// close them. Used on shutdown.
func (r *Registry) Drain() []Sink {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordered := r.orderedLocked()
	sinks := make([]Sink, len(ordered))
	for i, e := range ordered {
		sinks[i] = e.sink
	}
	r.entries = make(map[string]*entry)

	if len(sinks) > 0 {
		r.logger.Info("session registry drained", "count", len(sinks))
	}
	return sinks
}

func (r *Registry) collect(keep func(Session) bool) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.entries))
	for _, e := range r.orderedLocked() {
		if keep(e.session) {
			out = append(out, e.session)
		}
	}
	return out
}

// orderedLocked returns entries sorted by registration sequence.
// Caller must hold r.mu.
func (r *Registry) orderedLocked() []*entry {
	ordered := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })
	return ordered
}
