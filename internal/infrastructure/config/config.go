package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for mqttlightbulb.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Accessories []AccessoryConfig `yaml:"accessories"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	HomeKit     HomeKitConfig     `yaml:"homekit"`
	History     HistoryConfig     `yaml:"history"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	API         APIConfig         `yaml:"api"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// AccessoryConfig describes one MQTT-backed lightbulb.
//
// The keys match the homebridge-mqttlightbulb accessory options so existing
// config.json entries translate one-to-one.
type AccessoryConfig struct {
	Name     string       `yaml:"name"`
	URL      string       `yaml:"url"`
	Username string       `yaml:"username"`
	Password string       `yaml:"password"`
	Caption  string       `yaml:"caption"` // label only, never sent anywhere
	Retain   bool         `yaml:"retain"`
	Topics   TopicsConfig `yaml:"topics"`
}

// TopicsConfig holds the four MQTT topics used by an accessory.
type TopicsConfig struct {
	GetOn  string `yaml:"getOn"`
	SetOn  string `yaml:"setOn"`
	GetHSB string `yaml:"getHsb"`
	SetHSB string `yaml:"setHsb"`
}

// MQTTConfig contains transport settings shared by every accessory connection.
type MQTTConfig struct {
	QoS int `yaml:"qos"`

	// InsecureSkipVerify disables broker certificate verification for
	// mqtts:// and ssl:// URLs.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// HomeKitConfig contains HAP server settings.
type HomeKitConfig struct {
	// Pin is the 8 digit setup code entered when pairing.
	Pin string `yaml:"pin"`

	// StoragePath is the directory holding pairing keys.
	StoragePath string `yaml:"storage_path"`

	// Address is the listen address, e.g. ":51826". Empty picks a random port.
	Address string `yaml:"address"`

	// Bridge describes the root accessory used when more than one lightbulb is configured.
	Bridge BridgeInfoConfig `yaml:"bridge"`
}

// BridgeInfoConfig is the accessory information shown for the HAP bridge.
type BridgeInfoConfig struct {
	Name         string `yaml:"name"`
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	Firmware     string `yaml:"firmware"`
}

// HistoryConfig contains SQLite state history settings.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the read-only HTTP status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// pinPattern matches an 8 digit HAP setup code, with or without dashes (031-45-154).
var pinPattern = regexp.MustCompile(`^\d{3}-?\d{2}-?\d{3}$`)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MQTTLIGHTBULB_SECTION_KEY
// For example: MQTTLIGHTBULB_HOMEKIT_PIN, MQTTLIGHTBULB_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			QoS:                0,
			InsecureSkipVerify: true,
		},
		HomeKit: HomeKitConfig{
			Pin:         "03145154",
			StoragePath: "./data/homekit",
			Bridge: BridgeInfoConfig{
				Name:         "MQTT Lightbulbs",
				Manufacturer: "mqttlightbulb",
				Model:        "mqttlightbulb",
				Firmware:     "1.0.0",
			},
		},
		History: HistoryConfig{
			Enabled:       false,
			Path:          "./data/history.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MQTTLIGHTBULB_SECTION_KEY
//
// Broker credentials apply to every accessory that leaves them unset in the file.
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("MQTTLIGHTBULB_MQTT_USERNAME"); v != "" {
		for i := range cfg.Accessories {
			if cfg.Accessories[i].Username == "" {
				cfg.Accessories[i].Username = v
			}
		}
	}
	if v := os.Getenv("MQTTLIGHTBULB_MQTT_PASSWORD"); v != "" {
		for i := range cfg.Accessories {
			if cfg.Accessories[i].Password == "" {
				cfg.Accessories[i].Password = v
			}
		}
	}

	// HomeKit
	if v := os.Getenv("MQTTLIGHTBULB_HOMEKIT_PIN"); v != "" {
		cfg.HomeKit.Pin = v
	}
	if v := os.Getenv("MQTTLIGHTBULB_HOMEKIT_STORAGE_PATH"); v != "" {
		cfg.HomeKit.StoragePath = v
	}

	// History
	if v := os.Getenv("MQTTLIGHTBULB_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}

	// InfluxDB
	if v := os.Getenv("MQTTLIGHTBULB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if len(c.Accessories) == 0 {
		errs = append(errs, "at least one accessory is required")
	}

	seen := make(map[string]bool, len(c.Accessories))
	for i, acc := range c.Accessories {
		prefix := fmt.Sprintf("accessories[%d]", i)
		if acc.Name == "" {
			errs = append(errs, prefix+".name is required")
		} else if seen[acc.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is not unique", prefix, acc.Name))
		}
		seen[acc.Name] = true

		if acc.URL == "" {
			errs = append(errs, prefix+".url is required")
		}
		errs = append(errs, acc.Topics.validate(prefix+".topics")...)
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if !pinPattern.MatchString(c.HomeKit.Pin) {
		errs = append(errs, "homekit.pin must be 8 digits (e.g. 031-45-154)")
	}
	if c.HomeKit.StoragePath == "" {
		errs = append(errs, "homekit.storage_path is required")
	}

	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validate reports missing or wildcard topics.
func (t TopicsConfig) validate(prefix string) []string {
	var errs []string
	for _, topic := range []struct {
		key     string
		value   string
		publish bool
	}{
		{"getOn", t.GetOn, false},
		{"setOn", t.SetOn, true},
		{"getHsb", t.GetHSB, false},
		{"setHsb", t.SetHSB, true},
	} {
		if topic.value == "" {
			errs = append(errs, fmt.Sprintf("%s.%s is required", prefix, topic.key))
			continue
		}
		if topic.publish && strings.ContainsAny(topic.value, "+#") {
			errs = append(errs, fmt.Sprintf("%s.%s must not contain wildcards", prefix, topic.key))
		}
	}
	return errs
}

// NormalizedPin returns the HAP setup code without dashes.
func (c HomeKitConfig) NormalizedPin() string {
	return strings.ReplaceAll(c.Pin, "-", "")
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}

// GetHistoryRetention returns how long state history rows are kept.
// Zero disables pruning.
func (c *Config) GetHistoryRetention() time.Duration {
	if c.History.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}
