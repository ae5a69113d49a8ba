// Ember Gateway - Real-Time IoT Device Gateway
//
// This is the main entry point for the Ember Gateway service. It pairs
// smart devices with user accounts and relays state, commands, and
// sensor telemetry between them over persistent WebSocket connections.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/emberhome/ember-gateway/migrations"

	"github.com/emberhome/ember-gateway/internal/api"
	"github.com/emberhome/ember-gateway/internal/auth"
	"github.com/emberhome/ember-gateway/internal/binding"
	"github.com/emberhome/ember-gateway/internal/device"
	"github.com/emberhome/ember-gateway/internal/gateway"
	"github.com/emberhome/ember-gateway/internal/infrastructure/config"
	"github.com/emberhome/ember-gateway/internal/infrastructure/database"
	"github.com/emberhome/ember-gateway/internal/infrastructure/influxdb"
	"github.com/emberhome/ember-gateway/internal/infrastructure/logging"
	"github.com/emberhome/ember-gateway/internal/infrastructure/mqtt"
	"github.com/emberhome/ember-gateway/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Ember Gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and run migrations
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Persistence layer
	users := auth.NewUserRepository(db.DB)
	tokens := binding.NewStore(db.DB)
	devices := device.NewSQLiteDirectory(db.DB)
	configs := device.NewSQLiteConfigStore(db.DB)
	audit := telemetry.NewSQLiteAuditRepository(db.DB)

	// Connect to InfluxDB (optional, sensor telemetry only)
	var sensors telemetry.SensorWriter
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
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
		sensors = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled, sensor readings will not be stored")
	}

	recorder := telemetry.NewRecorder(sensors, audit)

	// Gateway core: connection registry, handshake, routing
	gw := gateway.New(
		cfg.Gateway,
		log,
		tokens,
		devices,
		configs,
		recorder,
		auth.NewVerifier(cfg.Security.JWT.Secret),
	)
	defer func() {
		log.Info("terminating live connections")
		gw.Shutdown()
	}()

	// Connect to MQTT broker (optional, external integration fan-out)
	if cfg.MQTT.Enabled {
		mqttClient, connErr := mqtt.Connect(ctx, cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		if attachErr := gw.AttachBroker(mqttClient); attachErr != nil {
			return fmt.Errorf("attaching MQTT to gateway: %w", attachErr)
		}
	} else {
		log.Info("MQTT disabled")
	}

	// HTTP API + WebSocket upgrade endpoint
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		Security: cfg.Security,
		WSPath:   cfg.Gateway.Path,
		Logger:   log,
		Users:    users,
		Binding:  tokens,
		Devices:  devices,
		Configs:  configs,
		Audit:    audit,
		Gateway:  gw,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (stop accepting requests)
	// 2. MQTT / InfluxDB (if enabled)
	// 3. Gateway (terminate live connections)
	// 4. Database

	log.Info("Ember Gateway stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses EMBERGW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("EMBERGW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
