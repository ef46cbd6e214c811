// mqttlightbulb exposes MQTT-controlled colour lights as HomeKit lightbulbs.
//
// Each configured accessory gets its own broker connection, a HomeKit
// lightbulb with On, Hue, Saturation and Brightness, and a light.Bridge that
// keeps the two in sync without echoing device updates back to the broker.
//
// Configuration is read from configs/config.yaml, or from the path in
// MQTTLIGHTBULB_CONFIG.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brutella/hap/accessory"

	"github.com/nerrad567/mqttlightbulb/internal/api"
	"github.com/nerrad567/mqttlightbulb/internal/history"
	"github.com/nerrad567/mqttlightbulb/internal/homekit"
	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/config"
	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/database"
	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/logging"
	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqttlightbulb/internal/light"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when MQTTLIGHTBULB_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// historyPruneInterval is how often old history rows are deleted.
	historyPruneInterval = time.Hour

	// Accessory information reported to HomeKit.
	accessoryManufacturer = "mqttlightbulb"
	accessoryModel        = "MQTT Lightbulb"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, getConfigPath(), connectMQTT); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// brokerClient is one accessory's broker connection as main uses it.
type brokerClient interface {
	light.MQTTClient
	HealthCheck(ctx context.Context) error
	Close() error
}

// accessoryFactory opens the broker connection for one accessory.
// main passes connectMQTT; tests pass an in-memory client.
type accessoryFactory func(acc config.AccessoryConfig, cfg config.MQTTConfig, log *logging.Logger) (brokerClient, error)

// lightAccessory is one configured lightbulb with everything wired to it.
type lightAccessory struct {
	cfg    config.AccessoryConfig
	client brokerClient
	bulb   *homekit.Lightbulb
	bridge *light.Bridge
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//   - connect: Opens the broker connection for each accessory
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string, connect accessoryFactory) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting mqttlightbulb",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"accessories", len(cfg.Accessories),
		"level", cfg.Logging.Level,
	)

	var (
		recorders light.Recorders
		store     *history.Store
		checks    = make(map[string]api.HealthChecker)
	)

	// State history (optional)
	if cfg.History.Enabled {
		db, openErr := database.Open(database.Config{
			Path:        cfg.History.Path,
			WALMode:     cfg.History.WALMode,
			BusyTimeout: cfg.History.BusyTimeout,
		})
		if openErr != nil {
			return fmt.Errorf("opening history database: %w", openErr)
		}
		defer func() {
			log.Info("closing history database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing history database", "error", closeErr)
			}
		}()

		if migrateErr := history.Migrate(ctx, db); migrateErr != nil {
			return fmt.Errorf("running history migrations: %w", migrateErr)
		}

		store = history.NewStore(db.DB)
		recorders = append(recorders, store)
		checks["history"] = db
		log.Info("state history enabled", "path", cfg.History.Path)

		if retention := cfg.GetHistoryRetention(); retention > 0 {
			go pruneHistoryLoop(ctx, store, retention, historyPruneInterval, log.Component("history"))
		}
	}

	// InfluxDB telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connectErr := influxdb.Connect(cfg.InfluxDB, log.Component("influxdb"))
		if connectErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connectErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()

		recorders = append(recorders, influxClient)
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	accessories, err := buildAccessories(cfg, connect, recorderFor(recorders), log)
	if err != nil {
		return err
	}
	defer closeAccessories(accessories, log)
	addBrokerChecks(checks, accessories)

	for _, acc := range accessories {
		if startErr := acc.bridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting accessory %q: %w", acc.cfg.Name, startErr)
		}
	}

	bulbs := make([]*homekit.Lightbulb, 0, len(accessories))
	for _, acc := range accessories {
		bulbs = append(bulbs, acc.bulb)
	}
	hkServer, err := homekit.NewServer(cfg.HomeKit, bulbs, log.Component("homekit"))
	if err != nil {
		return fmt.Errorf("creating homekit server: %w", err)
	}

	// Status API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := newAPIServer(cfg, accessories, store, checks, log)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, serving HomeKit until shutdown signal",
		"bridged", hkServer.Bridged(),
	)

	if err := hkServer.ListenAndServe(ctx); err != nil {
		return err
	}

	// Deferred calls run in reverse order: API, accessories (bridges stop
	// before their recorders close), InfluxDB, history database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// buildAccessories connects and wires every configured accessory.
// On error the accessories built so far are closed.
func buildAccessories(cfg *config.Config, connect accessoryFactory, recorder light.Recorder, log *logging.Logger) ([]*lightAccessory, error) {
	accessories := make([]*lightAccessory, 0, len(cfg.Accessories))

	for _, accCfg := range cfg.Accessories {
		acc, err := newLightAccessory(accCfg, cfg.MQTT, connect, recorder, log)
		if err != nil {
			closeAccessories(accessories, log)
			return nil, fmt.Errorf("accessory %q: %w", accCfg.Name, err)
		}
		accessories = append(accessories, acc)
	}

	return accessories, nil
}

// newLightAccessory builds the broker connection, HomeKit lightbulb and
// bridge for one accessory. The bridge is not started.
func newLightAccessory(accCfg config.AccessoryConfig, mqttCfg config.MQTTConfig, connect accessoryFactory, recorder light.Recorder, log *logging.Logger) (*lightAccessory, error) {
	accLog := log.With("accessory", accCfg.Name)
	if accCfg.Caption != "" {
		accLog = accLog.With("caption", accCfg.Caption)
	}

	client, err := connect(accCfg, mqttCfg, accLog.Component("mqtt"))
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}

	bulb := homekit.NewLightbulb(accessory.Info{
		Name:         accCfg.Name,
		Manufacturer: accessoryManufacturer,
		Model:        accessoryModel,
		Firmware:     version,
	})

	bridge, err := light.NewBridge(light.BridgeOptions{
		Name: accCfg.Name,
		Topics: light.Topics{
			GetOn:  accCfg.Topics.GetOn,
			SetOn:  accCfg.Topics.SetOn,
			GetHSB: accCfg.Topics.GetHSB,
			SetHSB: accCfg.Topics.SetHSB,
		},
		Retain:          accCfg.Retain,
		QoS:             byte(mqttCfg.QoS), //nolint:gosec // validated 0-2 by config
		MQTTClient:      client,
		Characteristics: bulb,
		Recorder:        recorder,
		Logger:          accLog.Component("light"),
	})
	if err != nil {
		_ = client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("creating bridge: %w", err)
	}
	bulb.Bind(bridge)

	return &lightAccessory{
		cfg:    accCfg,
		client: client,
		bulb:   bulb,
		bridge: bridge,
	}, nil
}

// closeAccessories stops every bridge, then closes its broker connection.
func closeAccessories(accessories []*lightAccessory, log *logging.Logger) {
	for _, acc := range accessories {
		acc.bridge.Stop()
		if err := acc.client.Close(); err != nil {
			log.Error("error closing MQTT", "accessory", acc.cfg.Name, "error", err)
		}
	}
}

// addBrokerChecks registers each accessory's broker connection as
// "mqtt:<name>" for the status API health report.
func addBrokerChecks(checks map[string]api.HealthChecker, accessories []*lightAccessory) {
	for _, acc := range accessories {
		checks["mqtt:"+acc.cfg.Name] = acc.client
	}
}

// recorderFor returns nil, the only recorder, or a fan-out.
func recorderFor(recorders light.Recorders) light.Recorder {
	switch len(recorders) {
	case 0:
		return nil
	case 1:
		return recorders[0]
	default:
		return recorders
	}
}

// newAPIServer builds the status API over the running accessories.
func newAPIServer(cfg *config.Config, accessories []*lightAccessory, store *history.Store, checks map[string]api.HealthChecker, log *logging.Logger) (*api.Server, error) {
	views := make([]api.Accessory, 0, len(accessories))
	for _, acc := range accessories {
		views = append(views, acc.bridge)
	}

	deps := api.Deps{
		Config:      cfg.API,
		Logger:      log.Component("api"),
		Accessories: views,
		Checks:      checks,
		Version:     version,
	}
	if store != nil {
		deps.History = store
	}

	return api.New(deps)
}

// pruneHistoryLoop deletes history older than retention every interval
// until ctx is cancelled.
func pruneHistoryLoop(ctx context.Context, store *history.Store, retention, interval time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pruneHistory(ctx, store, retention, log)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func pruneHistory(ctx context.Context, store *history.Store, retention time.Duration, log *logging.Logger) {
	deleted, err := store.PruneHistory(ctx, retention)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("pruning state history failed", "error", err)
		}
		return
	}
	if deleted > 0 {
		log.Info("pruned state history", "deleted", deleted, "retention", retention.String())
	}
}

// getConfigPath returns the configuration file path.
// Uses MQTTLIGHTBULB_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MQTTLIGHTBULB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectMQTT opens a paho connection for one accessory.
func connectMQTT(acc config.AccessoryConfig, cfg config.MQTTConfig, log *logging.Logger) (brokerClient, error) {
	client, err := mqtt.Connect(acc, cfg, log)
	if err != nil {
		return nil, err
	}
	return &mqttBridgeAdapter{client: client}, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The primary difference is the Subscribe handler signature:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - light.Bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements light.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements light.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// Unsubscribe implements light.MQTTClient.
func (a *mqttBridgeAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

// IsConnected implements light.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// HealthCheck reports whether the broker connection is up.
func (a *mqttBridgeAdapter) HealthCheck(ctx context.Context) error {
	return a.client.HealthCheck(ctx)
}

// Close disconnects from the broker.
func (a *mqttBridgeAdapter) Close() error {
	return a.client.Close()
}
