// Package bridge connects the relay broadcaster to optional external systems.
//
// MQTTBridge mirrors every broadcast event to the broker and feeds commands
// published on the broker back through the broadcaster's Execute path, so
// MQTT-originated commands are validated, audited and broadcast exactly like
// REST commands.
//
// Telemetry records playback and session samples in InfluxDB whenever an
// event changes them.
//
// Both are relay.Listener implementations and are attached with
// Broadcaster.AddListener. Neither blocks the broadcast path.
package bridge
