package bridge

import (
	"sync"
	"testing"

	"github.com/nerrad567/playrelay/internal/infrastructure/influxdb"
	"github.com/nerrad567/playrelay/internal/playback"
	"github.com/nerrad567/playrelay/internal/relay"
)

type recordingWriter struct {
	mu       sync.Mutex
	playback []influxdb.PlaybackSample
	sessions []influxdb.SessionSample
	commands []string
}

func (w *recordingWriter) WritePlayback(s influxdb.PlaybackSample) {
	w.mu.Lock()
	w.playback = append(w.playback, s)
	w.mu.Unlock()
}

func (w *recordingWriter) WriteSessions(s influxdb.SessionSample) {
	w.mu.Lock()
	w.sessions = append(w.sessions, s)
	w.mu.Unlock()
}

func (w *recordingWriter) WriteCommand(command string) {
	w.mu.Lock()
	w.commands = append(w.commands, command)
	w.mu.Unlock()
}

type fixedCounter struct{ total, external int }

func (c fixedCounter) Count() int         { return c.total }
func (c fixedCounter) ExternalCount() int { return c.external }

func TestTelemetry_OnBroadcast(t *testing.T) {
	tests := []struct {
		name         string
		event        string
		wantPlayback int
		wantSessions int
		wantCommands []string
	}{
		{"client list", relay.EventConnectedClients, 0, 1, nil},
		{"state change", relay.EventStateChanged, 1, 0, nil},
		{"controller activity", relay.EventControllerActivity, 1, 0, nil},
		{"volume command", "volume-changed", 1, 0, []string{"volume"}},
		{"plain command", "toggle-mute", 0, 0, []string{"mute"}},
		{"unrelated event", relay.EventAuthAttempt, 0, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &recordingWriter{}
			tel := NewTelemetry(w, playback.NewState(), fixedCounter{total: 3, external: 2})

			tel.OnBroadcast(relay.Envelope{Event: tt.event})

			if len(w.playback) != tt.wantPlayback {
				t.Errorf("playback samples = %d, want %d", len(w.playback), tt.wantPlayback)
			}
			if len(w.sessions) != tt.wantSessions {
				t.Errorf("session samples = %d, want %d", len(w.sessions), tt.wantSessions)
			}
			if len(w.commands) != len(tt.wantCommands) {
				t.Fatalf("commands = %v, want %v", w.commands, tt.wantCommands)
			}
			for i := range w.commands {
				if w.commands[i] != tt.wantCommands[i] {
					t.Errorf("commands = %v, want %v", w.commands, tt.wantCommands)
				}
			}
		})
	}
}

func TestTelemetry_Sample(t *testing.T) {
	w := &recordingWriter{}
	state := playback.NewState()
	if _, err := state.SetVolume(25); err != nil {
		t.Fatal(err)
	}
	if _, err := state.SetStatus(playback.StatusPaused); err != nil {
		t.Fatal(err)
	}

	NewTelemetry(w, state, fixedCounter{total: 4, external: 3}).Sample()

	want := influxdb.PlaybackSample{Volume: 25, Status: "paused"}
	if len(w.playback) != 1 || w.playback[0] != want {
		t.Errorf("playback = %+v, want [%+v]", w.playback, want)
	}
	if len(w.sessions) != 1 || w.sessions[0] != (influxdb.SessionSample{Total: 4, External: 3}) {
		t.Errorf("sessions = %+v", w.sessions)
	}
}
