// PlayRelay - remote control relay for browser video players
//
// This is the main entry point. It serves the REST command surface and the
// WebSocket endpoint that player pages and dashboards connect to, and
// optionally mirrors traffic to MQTT and InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nerrad567/playrelay/internal/api"
	"github.com/nerrad567/playrelay/internal/audit"
	"github.com/nerrad567/playrelay/internal/bridge"
	"github.com/nerrad567/playrelay/internal/credential"
	"github.com/nerrad567/playrelay/internal/infrastructure/config"
	"github.com/nerrad567/playrelay/internal/infrastructure/database"
	"github.com/nerrad567/playrelay/internal/infrastructure/influxdb"
	"github.com/nerrad567/playrelay/internal/infrastructure/logging"
	"github.com/nerrad567/playrelay/internal/infrastructure/mqtt"
	"github.com/nerrad567/playrelay/internal/playback"
	"github.com/nerrad567/playrelay/internal/relay"
	"github.com/nerrad567/playrelay/internal/session"
	"github.com/nerrad567/playrelay/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path. A missing default file is not an error;
// configuration then comes from defaults and the environment.
const defaultConfigPath = "config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It blocks until ctx is cancelled or startup fails.
func run(ctx context.Context) error {
	log := logging.Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("ignoring unreadable .env file", "error", err)
	}

	log.Info("starting PlayRelay",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, source, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "source", source)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Audit trail
	var auditRepo audit.Repository = audit.NopRepository{}
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		auditRepo = audit.NewSQLiteRepository(db.DB)
		log.Info("audit database ready", "path", cfg.Database.Path)
	} else {
		log.Info("audit database disabled")
	}

	// Core relay
	credentials := credential.NewStore(cfg.Credentials.File, cfg.Credentials.EnvVar)
	credentials.SetLogger(log)
	if !credentials.HasAny() {
		log.Warn("no API keys configured; create one from localhost via POST /admin/keys",
			"env_var", cfg.Credentials.EnvVar,
			"file", cfg.Credentials.File,
			"local_setup", cfg.API.AllowLocalSetup,
		)
	}

	registry := session.NewRegistry(cfg.Controller.NamePrefix)
	registry.SetLogger(log)
	state := playback.NewState()
	broadcaster := relay.New(registry, state, relay.Options{
		ActivityTimeout:   cfg.Controller.ActivityTimeoutDuration(),
		SweepInterval:     cfg.Controller.SweepIntervalDuration(),
		RequireRecipients: cfg.API.RequireRecipients,
	})
	broadcaster.SetLogger(log)
	go broadcaster.Run(ctx)

	// MQTT bridge (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		var mqttBridge *bridge.MQTTBridge
		mqttClient, mqttBridge, err = startMQTTBridge(ctx, cfg, broadcaster, state, auditRepo, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if stopErr := mqttBridge.Stop(); stopErr != nil {
				log.Warn("error stopping MQTT bridge", "error", stopErr)
			}
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT bridge disabled")
	}

	// InfluxDB telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		telemetry := bridge.NewTelemetry(influxClient, state, registry)
		broadcaster.AddListener(telemetry)
		telemetry.Sample()
		log.Info("InfluxDB telemetry enabled",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// HTTP and WebSocket server
	deps := api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Broadcaster: broadcaster,
		Credentials: credentials,
		Audit:       auditRepo,
		Version:     version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if db != nil {
		deps.DB = db.DB
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"address", server.Addr(),
		"websocket_path", cfg.WebSocket.Path,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (disconnects sessions, flushes audit entries)
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Database (if enabled)

	log.Info("PlayRelay stopped")
	return nil
}

// getConfigPath returns the configuration file path and whether it was set
// explicitly through PLAYRELAY_CONFIG.
func getConfigPath() (string, bool) {
	if path := os.Getenv("PLAYRELAY_CONFIG"); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// loadConfig loads the YAML configuration. An explicit path must exist;
// without one the default file is optional.
func loadConfig() (*config.Config, string, error) {
	path, explicit := getConfigPath()

	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			cfg, err := config.FromEnv()
			if err != nil {
				return nil, "", fmt.Errorf("loading config: %w", err)
			}
			return cfg, "environment", nil
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// healthCheck verifies every enabled infrastructure connection. Disabled
// integrations are passed as nil.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// openDatabase opens the audit database and applies migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// startMQTTBridge connects to the broker and attaches the bridge to the
// broadcaster. The caller owns both returned values.
func startMQTTBridge(
	ctx context.Context,
	cfg *config.Config,
	broadcaster *relay.Broadcaster,
	state *playback.State,
	auditRepo audit.Repository,
	log *logging.Logger,
) (*mqtt.Client, *bridge.MQTTBridge, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	b := bridge.NewMQTTBridge(client, broadcaster, state)
	b.SetLogger(log)
	b.SetAuditRepository(auditRepo)

	if err := b.Start(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	broadcaster.AddListener(b)

	log.Info("MQTT bridge started",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"topic_prefix", client.Topics().Prefix,
	)
	return client, b, nil
}
