package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Notify Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	EMQX     EMQXConfig     `yaml:"emqx"`
	API      APIConfig      `yaml:"api"`
	Push     PushConfig     `yaml:"push"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// ServiceConfig identifies this deployment.
type ServiceConfig struct {
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	QoS    int              `yaml:"qos"`
	Retry  MQTTRetryConfig  `yaml:"retry"`

	// ConnectTimeout bounds a single connection attempt (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// KeepAlive is the MQTT keepalive interval (seconds).
	KeepAlive int `yaml:"keepalive"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	CAFile   string `yaml:"ca_file"`
	Insecure bool   `yaml:"insecure_skip_verify"`
	ClientID string `yaml:"client_id"`
}

// MQTTRetryConfig controls the initial connection loop.
type MQTTRetryConfig struct {
	// MaxRetries is the number of connection attempts before giving up.
	MaxRetries int `yaml:"max_retries"`

	// Delay is the fixed wait between attempts (seconds).
	Delay int `yaml:"delay"`
}

// EMQXConfig contains settings for the EMQX broker integration:
// webhook authentication, ACL policy and the management API.
type EMQXConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`

	// AdminSubject is the MQTT username that is always allowed by the ACL.
	AdminSubject string `yaml:"admin_subject"`

	// SysEvents subscribes to the broker's $SYS client connect and
	// disconnect topics as a second presence source.
	SysEvents bool `yaml:"sys_events"`

	API EMQXAPIConfig `yaml:"api"`
}

// EMQXAPIConfig contains EMQX management REST API settings.
type EMQXAPIConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Key     string `yaml:"key"`
	Secret  string `yaml:"secret"`

	// ReconcileInterval is how often device presence is reconciled
	// against the broker's client list (seconds). 0 disables it.
	ReconcileInterval int `yaml:"reconcile_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	TLS       TLSConfig        `yaml:"tls"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// RateLimitConfig limits broker-facing endpoints (webhook, ACL).
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second"`
	Burst             int  `yaml:"burst"`
}

// WebSocketConfig contains settings for the live presence feed.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// PushConfig contains Firebase Cloud Messaging settings.
type PushConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	ProjectID       string `yaml:"project_id"`
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

// CacheConfig sizes the in-process user directory cache.
type CacheConfig struct {
	Enabled  bool  `yaml:"enabled"`
	MaxUsers int64 `yaml:"max_users"`
	TTL      int   `yaml:"ttl"` // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`

	// AccessTokenTTL is the API access token lifetime (minutes).
	AccessTokenTTL int `yaml:"access_token_ttl"`

	// BrokerTokenTTL is the lifetime of MQTT broker tokens (minutes).
	BrokerTokenTTL int `yaml:"broker_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NOTIFY_SECTION_KEY
// For example: NOTIFY_DATABASE_PATH, NOTIFY_MQTT_HOST
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
		Service: ServiceConfig{
			Name: "notify-core",
		},
		Database: DatabaseConfig{
			Path:        "./data/notify.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "emqx_broker",
				Port:     8883,
				TLS:      true,
				ClientID: "notify-core",
			},
			QoS: 1,
			Retry: MQTTRetryConfig{
				MaxRetries: 10,
				Delay:      3,
			},
			ConnectTimeout: 5,
			KeepAlive:      60,
		},
		EMQX: EMQXConfig{
			AdminSubject: "admin",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 200,
				Burst:             400,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Cache: CacheConfig{
			Enabled:  true,
			MaxUsers: 10000,
			TTL:      60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
				BrokerTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NOTIFY_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("NOTIFY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("NOTIFY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NOTIFY_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("NOTIFY_MQTT_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("NOTIFY_MQTT_RETRY_DELAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Retry.Delay = n
		}
	}

	// EMQX
	if v := os.Getenv("NOTIFY_EMQX_WEBHOOK_SECRET"); v != "" {
		cfg.EMQX.WebhookSecret = v
	}
	if v := os.Getenv("NOTIFY_EMQX_ADMIN_SUBJECT"); v != "" {
		cfg.EMQX.AdminSubject = v
	}
	if v := os.Getenv("NOTIFY_EMQX_API_KEY"); v != "" {
		cfg.EMQX.API.Key = v
	}
	if v := os.Getenv("NOTIFY_EMQX_API_SECRET"); v != "" {
		cfg.EMQX.API.Secret = v
	}

	// API
	if v := os.Getenv("NOTIFY_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Push
	if v := os.Getenv("NOTIFY_PUSH_CREDENTIALS_FILE"); v != "" {
		cfg.Push.CredentialsFile = v
	}

	// InfluxDB
	if v := os.Getenv("NOTIFY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("NOTIFY_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Retry.MaxRetries < 1 {
		errs = append(errs, "mqtt.retry.max_retries must be at least 1")
	}
	if c.MQTT.Retry.Delay < 0 {
		errs = append(errs, "mqtt.retry.delay must not be negative")
	}

	if c.EMQX.WebhookSecret == "" {
		errs = append(errs, "emqx.webhook_secret is required (set NOTIFY_EMQX_WEBHOOK_SECRET environment variable)")
	}
	if c.EMQX.AdminSubject == "" {
		errs = append(errs, "emqx.admin_subject is required")
	}
	if c.EMQX.API.Enabled && c.EMQX.API.URL == "" {
		errs = append(errs, "emqx.api.url is required when the management API is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Push.Enabled && c.Push.CredentialsFile == "" {
		errs = append(errs, "push.credentials_file is required when push is enabled")
	}

	// Broker tokens are signed with this secret; a forged token grants
	// topic access on the broker.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set NOTIFY_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerAddress returns the configured broker host and port.
// It is re-read on every connection attempt.
func (c MQTTConfig) BrokerAddress() (string, int) {
	return c.Broker.Host, c.Broker.Port
}

// RetryDelay returns the fixed delay between connection attempts.
func (c MQTTConfig) RetryDelay() time.Duration {
	return time.Duration(c.Retry.Delay) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
