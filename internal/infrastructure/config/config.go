package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the OpenHandy bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Voxta     VoxtaConfig     `yaml:"voxta"`
	Hub       HubConfig       `yaml:"hub"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Device    DeviceConfig    `yaml:"device"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// VoxtaConfig contains the chat service endpoints and the action template
// registered with every chat session.
type VoxtaConfig struct {
	BaseURL       string       `yaml:"base_url"`
	HubURL        string       `yaml:"hub_url"`
	ContextKey    string       `yaml:"context_key"`
	Client        string       `yaml:"client"`
	ClientVersion string       `yaml:"client_version"`
	Action        ActionConfig `yaml:"action"`
}

// ActionConfig is the static template the action definition is built from.
// Empty optional fields are replaced with defaults at injection time.
type ActionConfig struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Timing      string           `yaml:"timing"`
	Layer       string           `yaml:"layer"`
	Secret      string           `yaml:"secret"`
	Note        string           `yaml:"note"`
	SetFlags    []string         `yaml:"set_flags"`
	Arguments   []ArgumentConfig `yaml:"arguments"`
}

// ArgumentConfig describes one typed argument of the action.
type ArgumentConfig struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Required    bool   `yaml:"required"`
	Description string `yaml:"description"`
}

// HubConfig contains hub connection and reconnection settings.
type HubConfig struct {
	// KeepAliveInterval is the ping interval in seconds.
	KeepAliveInterval int `yaml:"keep_alive_interval"`

	// ReconnectInterval is the delay between connection attempts in seconds.
	ReconnectInterval int `yaml:"reconnect_interval"`

	// MaxAttempts limits consecutive failed attempts. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`

	// HandshakeTimeout bounds the websocket and protocol handshake in seconds.
	HandshakeTimeout int `yaml:"handshake_timeout"`

	// SkipNegotiation dials the hub URL directly as a websocket.
	SkipNegotiation bool `yaml:"skip_negotiation"`
}

// DiscoveryConfig contains UDP discovery listener settings.
type DiscoveryConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Port             int    `yaml:"port"`
	Prefix           string `yaml:"prefix"`
	ReceiveTimeoutMS int    `yaml:"receive_timeout_ms"`
}

// DeviceConfig contains device HTTP control settings.
type DeviceConfig struct {
	RequestTimeoutMS int `yaml:"request_timeout_ms"`
	DebounceMS       int `yaml:"debounce_ms"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
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

// APIConfig contains the status HTTP server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains settings for the live status stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default values shared with the components that apply them.
const (
	DefaultContextKey    = "OpenHandyActions"
	DefaultClient        = "Voxta.OpenHandyBridge"
	DefaultClientVersion = "1.0.0"
	DefaultDiscoveryPort = 5390
	DefaultPrefix        = "OPENHANDY_DISCOVERY"
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HANDYBRIDGE_SECTION_KEY
// For example: HANDYBRIDGE_HUB_URL, HANDYBRIDGE_DATABASE_PATH
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
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Voxta: VoxtaConfig{
			ContextKey:    DefaultContextKey,
			Client:        DefaultClient,
			ClientVersion: DefaultClientVersion,
		},
		Hub: HubConfig{
			KeepAliveInterval: 15,
			ReconnectInterval: 5,
			MaxAttempts:       0,
			HandshakeTimeout:  10,
		},
		Discovery: DiscoveryConfig{
			Enabled:          true,
			Port:             DefaultDiscoveryPort,
			Prefix:           DefaultPrefix,
			ReceiveTimeoutMS: 1000,
		},
		Device: DeviceConfig{
			RequestTimeoutMS: 2000,
			DebounceMS:       100,
		},
		Database: DatabaseConfig{
			Path:        "./data/handybridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "handybridge",
			},
			QoS:         1,
			TopicPrefix: "handybridge",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 4096,
				PingInterval:   30,
				PongTimeout:    10,
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
// Environment variables follow the pattern: HANDYBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Voxta
	if v := os.Getenv("HANDYBRIDGE_VOXTA_BASE_URL"); v != "" {
		cfg.Voxta.BaseURL = v
	}
	if v := os.Getenv("HANDYBRIDGE_HUB_URL"); v != "" {
		cfg.Voxta.HubURL = v
	}
	if v := os.Getenv("HANDYBRIDGE_CONTEXT_KEY"); v != "" {
		cfg.Voxta.ContextKey = v
	}

	// Discovery
	if v := os.Getenv("HANDYBRIDGE_DISCOVERY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Discovery.Port = port
		}
	}

	// Database
	if v := os.Getenv("HANDYBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("HANDYBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HANDYBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HANDYBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("HANDYBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("HANDYBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// normalise trims trailing slashes from URLs and restores defaults that a
// YAML file explicitly blanked.
func (c *Config) normalise() {
	c.Voxta.BaseURL = strings.TrimRight(c.Voxta.BaseURL, "/")
	c.Voxta.HubURL = strings.TrimRight(c.Voxta.HubURL, "/")

	if c.Voxta.ContextKey == "" {
		c.Voxta.ContextKey = DefaultContextKey
	}
	if c.Voxta.Client == "" {
		c.Voxta.Client = DefaultClient
	}
	if c.Voxta.ClientVersion == "" {
		c.Voxta.ClientVersion = DefaultClientVersion
	}
	if c.Discovery.Prefix == "" {
		c.Discovery.Prefix = DefaultPrefix
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Voxta validation
	if c.Voxta.HubURL == "" {
		errs = append(errs, "voxta.hub_url is required")
	}
	if c.Voxta.Action.Name == "" {
		errs = append(errs, "voxta.action.name is required")
	}
	for i, arg := range c.Voxta.Action.Arguments {
		if arg.Name == "" {
			errs = append(errs, fmt.Sprintf("voxta.action.arguments[%d].name is required", i))
		}
	}

	// Hub validation
	if c.Hub.ReconnectInterval < 0 {
		errs = append(errs, "hub.reconnect_interval must not be negative")
	}
	if c.Hub.MaxAttempts < 0 {
		errs = append(errs, "hub.max_attempts must not be negative")
	}

	// Discovery validation
	if c.Discovery.Enabled && (c.Discovery.Port < 1 || c.Discovery.Port > 65535) {
		errs = append(errs, "discovery.port must be between 1 and 65535")
	}

	// Device validation
	if c.Device.RequestTimeoutMS <= 0 {
		errs = append(errs, "device.request_timeout_ms must be positive")
	}
	if c.Device.DebounceMS < 0 {
		errs = append(errs, "device.debounce_ms must not be negative")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the database is enabled")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Enabled && (c.API.WebSocket.PingInterval <= 0 || c.API.WebSocket.PongTimeout <= 0) {
		errs = append(errs, "api.websocket ping_interval and pong_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetKeepAliveInterval returns the hub keep-alive interval as a Duration.
func (c *Config) GetKeepAliveInterval() time.Duration {
	return time.Duration(c.Hub.KeepAliveInterval) * time.Second
}

// GetReconnectInterval returns the hub reconnect delay as a Duration.
func (c *Config) GetReconnectInterval() time.Duration {
	return time.Duration(c.Hub.ReconnectInterval) * time.Second
}

// GetHandshakeTimeout returns the hub handshake timeout as a Duration.
func (c *Config) GetHandshakeTimeout() time.Duration {
	return time.Duration(c.Hub.HandshakeTimeout) * time.Second
}

// GetReceiveTimeout returns the discovery receive timeout as a Duration.
func (c *Config) GetReceiveTimeout() time.Duration {
	return time.Duration(c.Discovery.ReceiveTimeoutMS) * time.Millisecond
}

// GetRequestTimeout returns the device HTTP request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Device.RequestTimeoutMS) * time.Millisecond
}

// GetDebounce returns the delay between device HTTP requests as a Duration.
func (c *Config) GetDebounce() time.Duration {
	return time.Duration(c.Device.DebounceMS) * time.Millisecond
}
