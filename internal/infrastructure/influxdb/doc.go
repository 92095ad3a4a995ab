// Package influxdb records relay telemetry in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Telemetry is optional
// (influxdb.enabled) and write-only:
//   - playback: volume, controller_active; tagged by status
//   - sessions: total and external session counts
//   - commands: one count per executed command; tagged by command
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSessions(influxdb.SessionSample{Total: 3, External: 2})
//
// Writes are batched (batch_size, flush_interval) and never block. Batch
// errors arrive through SetOnError.
package influxdb
