package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// validJWTSecret meets the 32-character minimum requirement.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

// validConfig returns a default config with the required secrets filled in.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWT.Secret = validJWTSecret
	cfg.EMQX.WebhookSecret = "hook-secret"
	return cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    tls: false
  retry:
    max_retries: 2
    delay: 1
emqx:
  webhook_secret: "hook-secret"
  admin_subject: "ops"
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if host, port := cfg.MQTT.BrokerAddress(); host != "broker.local" || port != 1883 {
		t.Errorf("BrokerAddress() = %s:%d, want broker.local:1883", host, port)
	}
	if cfg.MQTT.Retry.MaxRetries != 2 {
		t.Errorf("MQTT.Retry.MaxRetries = %d, want 2", cfg.MQTT.Retry.MaxRetries)
	}
	if cfg.MQTT.RetryDelay() != time.Second {
		t.Errorf("RetryDelay() = %v, want 1s", cfg.MQTT.RetryDelay())
	}
	if cfg.EMQX.AdminSubject != "ops" {
		t.Errorf("EMQX.AdminSubject = %q, want %q", cfg.EMQX.AdminSubject, "ops")
	}
	// Defaults survive for keys the file does not set.
	if cfg.MQTT.QoS != 1 {
		t.Errorf("MQTT.QoS = %d, want default 1", cfg.MQTT.QoS)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "/tmp/test.db"
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)

	// webhook_secret is missing
	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for missing webhook secret, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}, wantErr: false},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid broker port", mutate: func(c *Config) { c.MQTT.Broker.Port = 0 }, wantErr: true},
		{name: "zero retries", mutate: func(c *Config) { c.MQTT.Retry.MaxRetries = 0 }, wantErr: true},
		{name: "negative retry delay", mutate: func(c *Config) { c.MQTT.Retry.Delay = -1 }, wantErr: true},
		{name: "missing webhook secret", mutate: func(c *Config) { c.EMQX.WebhookSecret = "" }, wantErr: true},
		{name: "missing admin subject", mutate: func(c *Config) { c.EMQX.AdminSubject = "" }, wantErr: true},
		{
			name: "management API without URL",
			mutate: func(c *Config) {
				c.EMQX.API.Enabled = true
				c.EMQX.API.URL = ""
			},
			wantErr: true,
		},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{
			name:    "push without credentials",
			mutate:  func(c *Config) { c.Push.Enabled = true },
			wantErr: true,
		},
		{name: "missing JWT secret", mutate: func(c *Config) { c.Security.JWT.Secret = "" }, wantErr: true},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("NOTIFY_DATABASE_PATH", "/custom/path.db")
	t.Setenv("NOTIFY_MQTT_HOST", "mqtt.example.com")
	t.Setenv("NOTIFY_MQTT_PORT", "1884")
	t.Setenv("NOTIFY_MQTT_MAX_RETRIES", "4")
	t.Setenv("NOTIFY_MQTT_RETRY_DELAY", "7")
	t.Setenv("NOTIFY_EMQX_WEBHOOK_SECRET", "hook")
	t.Setenv("NOTIFY_API_HOST", "192.168.1.1")
	t.Setenv("NOTIFY_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("NOTIFY_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("MQTT.Broker.Port = %d, want 1884", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Retry.MaxRetries != 4 {
		t.Errorf("MQTT.Retry.MaxRetries = %d, want 4", cfg.MQTT.Retry.MaxRetries)
	}
	if cfg.MQTT.Retry.Delay != 7 {
		t.Errorf("MQTT.Retry.Delay = %d, want 7", cfg.MQTT.Retry.Delay)
	}
	if cfg.EMQX.WebhookSecret != "hook" {
		t.Errorf("EMQX.WebhookSecret = %q, want %q", cfg.EMQX.WebhookSecret, "hook")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
}

func TestApplyEnvOverrides_IgnoresMalformedNumbers(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("NOTIFY_MQTT_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 8883", cfg.MQTT.Broker.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Retry.MaxRetries != 10 {
		t.Errorf("defaultConfig MQTT.Retry.MaxRetries = %d, want 10", cfg.MQTT.Retry.MaxRetries)
	}
	if cfg.MQTT.Retry.Delay != 3 {
		t.Errorf("defaultConfig MQTT.Retry.Delay = %d, want 3", cfg.MQTT.Retry.Delay)
	}
	if cfg.EMQX.AdminSubject != "admin" {
		t.Errorf("defaultConfig EMQX.AdminSubject = %q, want admin", cfg.EMQX.AdminSubject)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
}
