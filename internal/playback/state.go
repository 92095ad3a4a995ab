package playback

import (
	"sync"
	"time"
)

// Status is the playback status reported by the controller surface.
type Status string

// Playback statuses.
const (
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPlaying, StatusPaused, StatusStopped:
		return true
	}
	return false
}

// Defaults applied by NewState.
const (
	DefaultVolume = 100
	DefaultTitle  = "No video playing"
)

// Snapshot is a point-in-time copy of the shared state.
type Snapshot struct {
	Volume                 int        `json:"volume"`
	Status                 Status     `json:"status"`
	Title                  string     `json:"title"`
	ControllerActive       bool       `json:"controllerActive"`
	LastControllerActivity *time.Time `json:"lastControllerActivity,omitempty"`
}

// State is the process-wide playback record.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type State struct {
	mu           sync.Mutex
	volume       int
	status       Status
	title        string
	active       bool
	lastActivity time.Time
}

// NewState returns a state at its defaults: volume 100, stopped, placeholder
// title, controller inactive.
func NewState() *State {
	return &State{
		volume: DefaultVolume,
		status: StatusStopped,
		title:  DefaultTitle,
	}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	snap := Snapshot{
		Volume:           s.volume,
		Status:           s.status,
		Title:            s.title,
		ControllerActive: s.active,
	}
	if !s.lastActivity.IsZero() {
		t := s.lastActivity
		snap.LastControllerActivity = &t
	}
	return snap
}

// SetVolume stores a volume level. Values outside [0,100] are rejected and
// leave the state unchanged.
func (s *State) SetVolume(level int) (Snapshot, error) {
	if level < 0 || level > 100 {
		return Snapshot{}, ErrInvalidVolume
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = level
	return s.snapshotLocked(), nil
}

// SetStatus stores a playback status.
func (s *State) SetStatus(status Status) (Snapshot, error) {
	if !status.Valid() {
		return Snapshot{}, ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	return s.snapshotLocked(), nil
}

// SetTitle stores the current title. Use ParseTitle on untrusted input first.
func (s *State) SetTitle(title string) (Snapshot, error) {
	if title == "" {
		return Snapshot{}, ErrInvalidTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
	return s.snapshotLocked(), nil
}

// MarkActivity records controller activity at now. It returns true only when
// the controller flips from inactive to active.
func (s *State) MarkActivity(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity = now
	if s.active {
		return false
	}
	s.active = true
	return true
}

// ExpireActivity marks the controller inactive when more than timeout has
// passed since the last activity. It returns true only on the active to
// inactive transition, so repeated sweeps report it once.
func (s *State) ExpireActivity(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || now.Sub(s.lastActivity) <= timeout {
		return false
	}
	s.active = false
	return true
}
