package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
voxta:
  base_url: "http://127.0.0.1:5384/"
  hub_url: "http://127.0.0.1:5384/hub/"
  action:
    name: "openhandy_control"
    arguments:
      - name: "motion_state"
        required: true
      - name: "speed"
        type: "Number"
discovery:
  port: 5391
device:
  debounce_ms: 50
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Voxta.BaseURL != "http://127.0.0.1:5384" {
		t.Errorf("Voxta.BaseURL = %q, want trailing slash trimmed", cfg.Voxta.BaseURL)
	}
	if cfg.Voxta.HubURL != "http://127.0.0.1:5384/hub" {
		t.Errorf("Voxta.HubURL = %q, want trailing slash trimmed", cfg.Voxta.HubURL)
	}
	if cfg.Voxta.ContextKey != DefaultContextKey {
		t.Errorf("Voxta.ContextKey = %q, want %q", cfg.Voxta.ContextKey, DefaultContextKey)
	}
	if cfg.Voxta.Action.Name != "openhandy_control" {
		t.Errorf("Action.Name = %q, want %q", cfg.Voxta.Action.Name, "openhandy_control")
	}
	if len(cfg.Voxta.Action.Arguments) != 2 {
		t.Fatalf("len(Action.Arguments) = %d, want 2", len(cfg.Voxta.Action.Arguments))
	}
	if !cfg.Voxta.Action.Arguments[0].Required {
		t.Error("Arguments[0].Required = false, want true")
	}
	if cfg.Discovery.Port != 5391 {
		t.Errorf("Discovery.Port = %d, want 5391", cfg.Discovery.Port)
	}
	if cfg.Discovery.Prefix != DefaultPrefix {
		t.Errorf("Discovery.Prefix = %q, want %q", cfg.Discovery.Prefix, DefaultPrefix)
	}
	if got := cfg.GetDebounce(); got != 50*time.Millisecond {
		t.Errorf("GetDebounce() = %v, want 50ms", got)
	}
	if got := cfg.GetRequestTimeout(); got != 2*time.Second {
		t.Errorf("GetRequestTimeout() = %v, want 2s", got)
	}
}

func TestLoad_ContextKeyOverride(t *testing.T) {
	content := `
voxta:
  hub_url: "http://localhost:5384/hub"
  context_key: "CustomActions"
  action:
    name: "act"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Voxta.ContextKey != "CustomActions" {
		t.Errorf("ContextKey = %q, want %q", cfg.Voxta.ContextKey, "CustomActions")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
voxta:
  hub_url: "http://localhost:5384/hub"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for missing action name, got nil")
	}
	if !strings.Contains(err.Error(), "voxta.action.name") {
		t.Errorf("error = %v, want mention of voxta.action.name", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Voxta.HubURL = "http://localhost:5384/hub"
		cfg.Voxta.Action.Name = "act"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing hub URL",
			mutate:  func(c *Config) { c.Voxta.HubURL = "" },
			wantErr: true,
		},
		{
			name:    "missing action name",
			mutate:  func(c *Config) { c.Voxta.Action.Name = "" },
			wantErr: true,
		},
		{
			name: "unnamed argument",
			mutate: func(c *Config) {
				c.Voxta.Action.Arguments = []ArgumentConfig{{Type: "String"}}
			},
			wantErr: true,
		},
		{
			name:    "invalid discovery port",
			mutate:  func(c *Config) { c.Discovery.Port = 0 },
			wantErr: true,
		},
		{
			name: "discovery port ignored when disabled",
			mutate: func(c *Config) {
				c.Discovery.Enabled = false
				c.Discovery.Port = 0
			},
			wantErr: false,
		},
		{
			name:    "zero request timeout",
			mutate:  func(c *Config) { c.Device.RequestTimeoutMS = 0 },
			wantErr: true,
		},
		{
			name:    "negative debounce",
			mutate:  func(c *Config) { c.Device.DebounceMS = -1 },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name: "database enabled without path",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Path = ""
			},
			wantErr: true,
		},
		{
			name: "api port high",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.Port = 70000
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetDurations(t *testing.T) {
	cfg := &Config{
		Hub: HubConfig{
			KeepAliveInterval: 15,
			ReconnectInterval: 5,
			HandshakeTimeout:  10,
		},
		Discovery: DiscoveryConfig{ReceiveTimeoutMS: 1000},
	}

	if got := cfg.GetKeepAliveInterval(); got != 15*time.Second {
		t.Errorf("GetKeepAliveInterval() = %v, want 15s", got)
	}
	if got := cfg.GetReconnectInterval(); got != 5*time.Second {
		t.Errorf("GetReconnectInterval() = %v, want 5s", got)
	}
	if got := cfg.GetHandshakeTimeout(); got != 10*time.Second {
		t.Errorf("GetHandshakeTimeout() = %v, want 10s", got)
	}
	if got := cfg.GetReceiveTimeout(); got != time.Second {
		t.Errorf("GetReceiveTimeout() = %v, want 1s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("HANDYBRIDGE_VOXTA_BASE_URL", "http://voxta.lan:5384")
	t.Setenv("HANDYBRIDGE_HUB_URL", "http://voxta.lan:5384/hub")
	t.Setenv("HANDYBRIDGE_CONTEXT_KEY", "EnvActions")
	t.Setenv("HANDYBRIDGE_DISCOVERY_PORT", "6000")
	t.Setenv("HANDYBRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("HANDYBRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("HANDYBRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("HANDYBRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("HANDYBRIDGE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("HANDYBRIDGE_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Voxta.BaseURL != "http://voxta.lan:5384" {
		t.Errorf("Voxta.BaseURL = %q", cfg.Voxta.BaseURL)
	}
	if cfg.Voxta.HubURL != "http://voxta.lan:5384/hub" {
		t.Errorf("Voxta.HubURL = %q", cfg.Voxta.HubURL)
	}
	if cfg.Voxta.ContextKey != "EnvActions" {
		t.Errorf("Voxta.ContextKey = %q", cfg.Voxta.ContextKey)
	}
	if cfg.Discovery.Port != 6000 {
		t.Errorf("Discovery.Port = %d, want 6000", cfg.Discovery.Port)
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q", cfg.InfluxDB.Token)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("HANDYBRIDGE_DISCOVERY_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.Discovery.Port != DefaultDiscoveryPort {
		t.Errorf("Discovery.Port = %d, want %d", cfg.Discovery.Port, DefaultDiscoveryPort)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Voxta.ContextKey != "OpenHandyActions" {
		t.Errorf("default ContextKey = %q", cfg.Voxta.ContextKey)
	}
	if cfg.Discovery.Port != 5390 {
		t.Errorf("default Discovery.Port = %d, want 5390", cfg.Discovery.Port)
	}
	if cfg.Hub.ReconnectInterval != 5 {
		t.Errorf("default Hub.ReconnectInterval = %d, want 5", cfg.Hub.ReconnectInterval)
	}
	if cfg.Device.DebounceMS != 100 {
		t.Errorf("default Device.DebounceMS = %d, want 100", cfg.Device.DebounceMS)
	}
	if cfg.Device.RequestTimeoutMS != 2000 {
		t.Errorf("default Device.RequestTimeoutMS = %d, want 2000", cfg.Device.RequestTimeoutMS)
	}
}
