package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the relay.
const (
	MeasurementPlayback = "playback"
	MeasurementSessions = "sessions"
	MeasurementCommands = "commands"
)

// PlaybackSample is one observation of the shared playback state.
type PlaybackSample struct {
	Volume           int
	Status           string
	ControllerActive bool
}

// SessionSample counts connected sessions.
type SessionSample struct {
	Total    int
	External int
}

// WritePlayback records the playback state. Status is a tag so dashboards
// can group by it.
//
// Example:
//
//	client.WritePlayback(influxdb.PlaybackSample{Volume: 40, Status: "playing"})
func (c *Client) WritePlayback(sample PlaybackSample) {
	c.writePoint(playbackPoint(sample, time.Now()))
}

// WriteSessions records the session counts.
func (c *Client) WriteSessions(sample SessionSample) {
	c.writePoint(sessionsPoint(sample, time.Now()))
}

// WriteCommand records one executed command. Sum the count field to get
// command rates.
func (c *Client) WriteCommand(command string) {
	c.writePoint(commandPoint(command, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writePoint(point *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(point)
}

func playbackPoint(s PlaybackSample, at time.Time) *write.Point {
	status := s.Status
	if status == "" {
		status = "unknown"
	}
	return write.NewPoint(
		MeasurementPlayback,
		map[string]string{"status": status},
		map[string]interface{}{
			"volume":            s.Volume,
			"controller_active": s.ControllerActive,
		},
		at,
	)
}

func sessionsPoint(s SessionSample, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSessions,
		nil,
		map[string]interface{}{
			"total":    s.Total,
			"external": s.External,
		},
		at,
	)
}

func commandPoint(command string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementCommands,
		map[string]string{"command": command},
		map[string]interface{}{"count": 1},
		at,
	)
}
