// Package database provides SQLite connectivity for the Play Relay audit trail.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Schema migrations embedded in the binary
//   - Health checks and lifecycle
//
// The database is an operational log only. Nothing in it is read back to
// restore sessions or playback state after a restart.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive-only. New columns must be NULLABLE or have a
// DEFAULT, and each .up.sql has a matching .down.sql.
package database
