// Package logging provides structured logging for Play Relay.
//
// It wraps log/slog so every component logs the same way:
// JSON in production, text while developing, and the service and version
// fields on every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("starting server", "port", 3000)
//	logger.Error("credential file unreadable", "error", err)
//
// # Security
//
// API key values are never logged. Log the key id or name instead.
package logging
