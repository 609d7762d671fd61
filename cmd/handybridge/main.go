// OpenHandy Bridge
//
// This is the main entry point for the bridge between a Voxta chat server
// and an OpenHandy device on the local network. The bridge:
//   - Keeps a hub connection to the chat server and authenticates
//   - Registers the device action with every chat session
//   - Discovers the device from its UDP announcement
//   - Translates invoked actions into device HTTP commands
package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"

	_ "github.com/nerrad567/openhandy-bridge/migrations"

	"github.com/nerrad567/openhandy-bridge/internal/api"
	"github.com/nerrad567/openhandy-bridge/internal/audit"
	"github.com/nerrad567/openhandy-bridge/internal/bridge"
	"github.com/nerrad567/openhandy-bridge/internal/device"
	"github.com/nerrad567/openhandy-bridge/internal/discovery"
	"github.com/nerrad567/openhandy-bridge/internal/hub"
	"github.com/nerrad567/openhandy-bridge/internal/infrastructure/config"
	"github.com/nerrad567/openhandy-bridge/internal/infrastructure/database"
	"github.com/nerrad567/openhandy-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/openhandy-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/openhandy-bridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
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
//
// Components start in dependency order and stop in reverse through the
// defer chain: api, discovery, hub, bridge, then infrastructure.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting OpenHandy bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"hub_url", cfg.Voxta.HubURL,
		"action", cfg.Voxta.Action.Name,
	)

	// Infrastructure that is enabled is health checked at startup and
	// reported by /api/v1/health.
	checks := make(map[string]api.HealthChecker)

	// Action history (optional)
	var history bridge.ActionHistory
	var historyRepo audit.Repository
	if cfg.Database.Enabled {
		db, openErr := database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if openErr != nil {
			return fmt.Errorf("opening database: %w", openErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		repo := audit.NewSQLiteRepository(db.DB)
		history = &actionHistory{repo: repo}
		historyRepo = repo
		checks["database"] = db
		log.Info("action history enabled", "path", cfg.Database.Path)
	}

	// Status publishing (optional)
	var publisher bridge.MQTTPublisher
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	switch {
	case errors.Is(err, mqtt.ErrDisabled):
		log.Info("MQTT disabled")
	case err != nil:
		return fmt.Errorf("connecting to MQTT: %w", err)
	default:
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		publisher = mqttClient
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	// Device telemetry (optional)
	var recorder device.Recorder
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		recorder = &commandTelemetry{client: influxClient}
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed", "components", len(checks))

	executor := device.NewExecutor(device.Options{
		Timeout:  cfg.GetRequestTimeout(),
		Debounce: cfg.GetDebounce(),
		Recorder: recorder,
		Logger:   log.Component("device"),
	})

	// The bridge and the hub manager refer to each other; link breaks the cycle.
	link := &hubLink{}
	br, err := bridge.New(bridge.Options{
		Voxta:       cfg.Voxta,
		Sender:      link,
		Executor:    executor,
		Publisher:   publisher,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		History:     history,
		Logger:      log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	manager, err := hub.NewManager(hub.Options{
		URL:               cfg.Voxta.HubURL,
		KeepAliveInterval: cfg.GetKeepAliveInterval(),
		ReconnectInterval: cfg.GetReconnectInterval(),
		HandshakeTimeout:  cfg.GetHandshakeTimeout(),
		MaxAttempts:       cfg.Hub.MaxAttempts,
		SkipNegotiation:   cfg.Hub.SkipNegotiation,
		Listener:          br,
		Logger:            log.Component("hub"),
	})
	if err != nil {
		return fmt.Errorf("creating hub manager: %w", err)
	}
	link.manager = manager

	br.Start(ctx)
	defer br.Stop()

	manager.Start(ctx)
	defer manager.Stop()

	// Discovery (optional; a bind failure leaves the bridge without a device)
	if cfg.Discovery.Enabled {
		listener, discErr := discovery.New(discovery.Options{
			Port:           cfg.Discovery.Port,
			Prefix:         cfg.Discovery.Prefix,
			ReceiveTimeout: cfg.GetReceiveTimeout(),
			OnDiscover:     br.OnDeviceDiscovered,
			Logger:         log.Component("discovery"),
		})
		if discErr != nil {
			return fmt.Errorf("creating discovery listener: %w", discErr)
		}
		if startErr := listener.Start(ctx); startErr != nil {
			log.Warn("device discovery unavailable", "error", startErr)
		} else {
			defer listener.Stop()
		}
	} else {
		log.Info("device discovery disabled")
	}

	// Status API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log.Component("api"),
			Status:  br,
			Hub:     manager,
			History: historyRepo,
			Checks:  checks,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// healthCheck runs each component check in name order and returns the
// first failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for _, name := range slices.Sorted(maps.Keys(checks)) {
		if err := checks[name].HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HANDYBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HANDYBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
