package influxdb

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/playrelay/internal/infrastructure/config"
)

var sampleTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPlaybackPoint(t *testing.T) {
	tests := []struct {
		name   string
		sample PlaybackSample
		want   string
	}{
		{
			name:   "playing",
			sample: PlaybackSample{Volume: 40, Status: "playing", ControllerActive: true},
			want:   "playback,status=playing controller_active=true,volume=40i",
		},
		{
			name:   "empty status",
			sample: PlaybackSample{Volume: 100},
			want:   "playback,status=unknown controller_active=false,volume=100i",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := write.PointToLineProtocol(playbackPoint(tt.sample, sampleTime), time.Second)
			if !strings.HasPrefix(line, tt.want) {
				t.Errorf("line = %q, want prefix %q", line, tt.want)
			}
		})
	}
}

func TestSessionsPoint(t *testing.T) {
	line := write.PointToLineProtocol(sessionsPoint(SessionSample{Total: 3, External: 2}, sampleTime), time.Second)
	want := "sessions external=2i,total=3i"
	if !strings.HasPrefix(line, want) {
		t.Errorf("line = %q, want prefix %q", line, want)
	}
}

func TestCommandPoint(t *testing.T) {
	line := write.PointToLineProtocol(commandPoint("volume", sampleTime), time.Second)
	want := "commands,command=volume count=1i"
	if !strings.HasPrefix(line, want) {
		t.Errorf("line = %q, want prefix %q", line, want)
	}
}

func TestBatchSettings(t *testing.T) {
	tests := []struct {
		name         string
		batch, flush int
		wantBatch    int
		wantFlush    int
	}{
		{"configured", 500, 2, 500, 2},
		{"zero uses defaults", 0, 0, defaultBatchSize, defaultFlushInterval},
		{"negative uses defaults", -5, -1, defaultBatchSize, defaultFlushInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, flush := batchSettings(config.InfluxDBConfig{BatchSize: tt.batch, FlushInterval: tt.flush})
			if batch != tt.wantBatch || flush != tt.wantFlush {
				t.Errorf("batchSettings() = (%d, %d), want (%d, %d)", batch, flush, tt.wantBatch, tt.wantFlush)
			}
		})
	}
}

func TestWriteOnDisconnectedClientIsNoop(t *testing.T) {
	c := &Client{}
	c.WritePlayback(PlaybackSample{Volume: 10})
	c.WriteSessions(SessionSample{})
	c.WriteCommand("play")
	c.Flush()
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}
