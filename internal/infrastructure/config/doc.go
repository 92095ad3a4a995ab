// Package config handles loading and validating Play Relay configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (PLAYRELAY_*, plus PORT)
//   - Validation of required fields
//   - Default value handling
//
// When no configuration file exists the server runs from defaults and the
// environment alone, see FromEnv.
//
// Security Considerations:
//   - Static API keys live in the environment (API_KEYS by default), never in the file
//   - MQTT passwords and InfluxDB tokens should be set via environment variables
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config
