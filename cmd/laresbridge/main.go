// Lares Bridge - panel-to-MQTT gateway
//
// This is the main entry point for the Lares bridge daemon. The bridge
// maintains a resilient WebSocket session to a Ksenia Lares-class
// security/automation panel, mirrors the panel's device inventory in
// memory, republishes device state over MQTT and serves a local HTTP/
// WebSocket API for dashboards and operator tooling.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/lares-bridge/migrations"

	"github.com/nerrad567/lares-bridge/internal/api"
	"github.com/nerrad567/lares-bridge/internal/audit"
	"github.com/nerrad567/lares-bridge/internal/bridge"
	"github.com/nerrad567/lares-bridge/internal/device"
	"github.com/nerrad567/lares-bridge/internal/infrastructure/config"
	"github.com/nerrad567/lares-bridge/internal/infrastructure/database"
	"github.com/nerrad567/lares-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/lares-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/lares-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/lares-bridge/internal/lares"
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
	configFlag := flag.String("config", "", "path to configuration file")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("lares-bridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configFlag: Config path from the command line ("" to use env/default)
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configFlag string) error { //nolint:gocognit,gocyclo // bootstrap: linear wiring of every subsystem
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Lares bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath(configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database and audit trail (optional: empty path disables it)
	var auditRepo audit.Repository
	if cfg.Database.Path != "" {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening database: %w", dbErr)
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
		auditRepo = audit.NewSQLiteRepository(db.DB)
		log.Info("audit trail enabled", "path", cfg.Database.Path)
	} else {
		log.Info("audit trail disabled (no database path)")
	}

	// Connect to InfluxDB telemetry (optional)
	var telemetry *influxdb.Client
	if cfg.Telemetry.Enabled {
		telemetry, err = influxdb.Connect(cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := telemetry.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		telemetry.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("telemetry enabled", "url", cfg.Telemetry.URL, "bucket", cfg.Telemetry.Bucket)
	} else {
		log.Info("telemetry disabled")
	}

	// Device registry: the in-memory mirror of the panel inventory
	registry := device.NewRegistry()
	registry.SetLogger(log)

	// Panel protocol client
	panelClient, err := lares.New(lares.Options{
		Host:               cfg.Panel.Host,
		Port:               cfg.Panel.Port,
		UseTLS:             cfg.Panel.TLS,
		Path:               cfg.Panel.Path,
		PIN:                cfg.Panel.PIN,
		Sender:             cfg.Panel.SenderID,
		HeartbeatInterval:  cfg.GetHeartbeatInterval(),
		ConnectTimeout:     cfg.GetConnectTimeout(),
		ReconnectBaseDelay: cfg.GetReconnectBaseDelay(),
		ReconnectMaxDelay:  cfg.GetReconnectMaxDelay(),
		Sink:               registry,
		Logger:             log,
	})
	if err != nil {
		return fmt.Errorf("creating panel client: %w", err)
	}

	// MQTT republisher (optional)
	var laresBridge *bridge.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		var auditRec bridge.AuditRecorder
		if auditRepo != nil {
			auditRec = auditRepo
		}
		var telemetryWriter bridge.TelemetryWriter
		if telemetry != nil {
			telemetryWriter = telemetry
		}

		laresBridge, err = bridge.New(bridge.Options{
			MQTT:      &mqttBridgeAdapter{client: mqttClient},
			Panel:     panelClient,
			Devices:   registry,
			Audit:     auditRec,
			Telemetry: telemetryWriter,
			Logger:    log,
			PanelHost: cfg.Panel.Host,
			Version:   version,
		})
		if err != nil {
			return fmt.Errorf("creating bridge: %w", err)
		}

		if startErr := laresBridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping bridge")
			laresBridge.Stop()
		}()

		registry.AddListener(laresBridge)
		panelClient.AddListener(laresBridge)
	} else {
		log.Info("MQTT republisher disabled")
	}

	// HTTP/WebSocket API (optional)
	if cfg.API.Enabled {
		var commander api.Commander
		if laresBridge != nil {
			commander = laresBridge
		}

		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			Devices:  registry,
			Panel:    panelClient,
			Bridge:   commander,
			Audit:    auditRepo,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}

		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()

		// Stream device and connection events to WebSocket clients
		registry.AddListener(apiServer)
		panelClient.AddListener(apiServer)
	} else {
		log.Info("API server disabled")
	}

	// Open the panel session last, once every listener is registered, so
	// the first discovery sweep reaches all consumers.
	if err := panelClient.Start(ctx); err != nil {
		return fmt.Errorf("starting panel client: %w", err)
	}
	defer func() {
		log.Info("closing panel session")
		if closeErr := panelClient.Close(); closeErr != nil {
			log.Error("error closing panel client", "error", closeErr)
		}
	}()
	log.Info("panel client started", "host", cfg.Panel.Host)

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// panel client, API server, bridge, MQTT, InfluxDB, database.

	log.Info("Lares bridge stopped")
	return nil
}

// getConfigPath resolves the configuration file path: command-line flag,
// then LARESBRIDGE_CONFIG environment variable, then the default.
func getConfigPath(configFlag string) string {
	if configFlag != "" {
		return configFlag
	}
	if path := os.Getenv("LARESBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic string, payload []byte) error
// - Bridge expects: func(topic string, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (bridge handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
