package bridge

import (
	"github.com/nerrad567/playrelay/internal/infrastructure/influxdb"
	"github.com/nerrad567/playrelay/internal/playback"
	"github.com/nerrad567/playrelay/internal/relay"
)

// TelemetryWriter is the subset of *influxdb.Client used for telemetry.
type TelemetryWriter interface {
	WritePlayback(sample influxdb.PlaybackSample)
	WriteSessions(sample influxdb.SessionSample)
	WriteCommand(command string)
}

// SessionCounter provides session counts. Satisfied by *session.Registry.
type SessionCounter interface {
	Count() int
	ExternalCount() int
}

// Telemetry writes playback and session samples when events change them.
type Telemetry struct {
	writer   TelemetryWriter
	state    StateSource
	sessions SessionCounter
	commands map[string]string // event -> command
}

// NewTelemetry creates a telemetry listener.
func NewTelemetry(writer TelemetryWriter, state StateSource, sessions SessionCounter) *Telemetry {
	commands := make(map[string]string)
	for _, c := range relay.Catalog() {
		commands[c.Event] = c.Name
	}
	return &Telemetry{writer: writer, state: state, sessions: sessions, commands: commands}
}

// OnBroadcast implements relay.Listener.
func (t *Telemetry) OnBroadcast(env relay.Envelope) {
	switch env.Event {
	case relay.EventConnectedClients:
		t.writer.WriteSessions(influxdb.SessionSample{
			Total:    t.sessions.Count(),
			External: t.sessions.ExternalCount(),
		})
	case relay.EventStateChanged, relay.EventControllerActivity:
		t.writePlayback()
	default:
		name, ok := t.commands[env.Event]
		if !ok {
			return
		}
		t.writer.WriteCommand(name)
		if name == relay.CmdVolume {
			t.writePlayback()
		}
	}
}

// Sample writes the current playback and session state unconditionally.
// Used to seed a baseline at startup.
func (t *Telemetry) Sample() {
	t.writePlayback()
	t.writer.WriteSessions(influxdb.SessionSample{
		Total:    t.sessions.Count(),
		External: t.sessions.ExternalCount(),
	})
}

func (t *Telemetry) writePlayback() {
	snap := t.state.Snapshot()
	t.writer.WritePlayback(playbackSample(snap))
}

func playbackSample(snap playback.Snapshot) influxdb.PlaybackSample {
	return influxdb.PlaybackSample{
		Volume:           snap.Volume,
		Status:           string(snap.Status),
		ControllerActive: snap.ControllerActive,
	}
}
