package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Lares bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Panel     PanelConfig     `yaml:"panel"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// PanelConfig contains the connection settings for the alarm panel.
type PanelConfig struct {
	// Host is the panel's IP address or hostname on the local network.
	Host string `yaml:"host"`

	// Port is the panel's WebSocket port. Default: 443 (TLS).
	Port int `yaml:"port"`

	// TLS enables wss:// with certificate validation disabled
	// (panels ship self-signed certificates).
	TLS bool `yaml:"tls"`

	// Path is the WebSocket endpoint path on the panel.
	Path string `yaml:"path"`

	// PIN is the user code presented during the LOGIN handshake.
	// Set via LARESBRIDGE_PANEL_PIN in production.
	PIN string `yaml:"pin"`

	// SenderID identifies this client in outgoing envelopes.
	SenderID string `yaml:"sender_id"`

	// HeartbeatInterval is the transport ping interval in seconds.
	// The connection is declared dead after two intervals without a pong.
	HeartbeatInterval int `yaml:"heartbeat_interval"`

	// ConnectTimeout is the socket-open deadline in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// Reconnect controls the backoff applied between connection attempts.
	Reconnect PanelReconnectConfig `yaml:"reconnect"`
}

// PanelReconnectConfig contains panel reconnection backoff settings.
// Delays are in milliseconds.
type PanelReconnectConfig struct {
	BaseDelay int `yaml:"base_delay"`
	MaxDelay  int `yaml:"max_delay"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
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

// WebSocketConfig contains settings for the API's event stream endpoint.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// DatabaseConfig contains SQLite settings for the audit store.
// An empty path disables the audit trail entirely.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// TelemetryConfig contains InfluxDB settings for bridge operational metrics.
// Only bridge self-metrics are written; device state is never persisted.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	// APIKey is the shared key clients exchange for access tokens.
	// Set via LARESBRIDGE_API_KEY in production.
	APIKey string `yaml:"api_key"`

	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains access token settings.
type JWTConfig struct {
	// Secret signs HS256 access tokens.
	// Set via LARESBRIDGE_JWT_SECRET in production.
	Secret string `yaml:"secret"`

	// AccessTokenTTL is the token lifetime in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LARESBRIDGE_SECTION_KEY
// For example: LARESBRIDGE_PANEL_HOST, LARESBRIDGE_PANEL_PIN
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default backoff values mirror the panel client's documented behaviour:
// 5s doubling to a 60s ceiling.
const (
	defaultReconnectBaseDelay = 5000
	defaultReconnectMaxDelay  = 60000
)

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Panel: PanelConfig{
			Port:              443,
			TLS:               true,
			Path:              "/KseniaWsock",
			SenderID:          "lares-bridge",
			HeartbeatInterval: 30,
			ConnectTimeout:    10,
			Reconnect: PanelReconnectConfig{
				BaseDelay: defaultReconnectBaseDelay,
				MaxDelay:  defaultReconnectMaxDelay,
			},
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lares-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8490,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Database: DatabaseConfig{
			Path:        "./data/laresbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LARESBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Panel
	if v := os.Getenv("LARESBRIDGE_PANEL_HOST"); v != "" {
		cfg.Panel.Host = v
	}
	if v := os.Getenv("LARESBRIDGE_PANEL_PIN"); v != "" {
		cfg.Panel.PIN = v
	}

	// MQTT
	if v := os.Getenv("LARESBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LARESBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LARESBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("LARESBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Telemetry
	if v := os.Getenv("LARESBRIDGE_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}

	// Security (IMPORTANT: always override in production)
	if v := os.Getenv("LARESBRIDGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("LARESBRIDGE_API_KEY"); v != "" {
		cfg.Security.APIKey = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Panel validation
	if c.Panel.Host == "" {
		errs = append(errs, "panel.host is required")
	}
	if c.Panel.Port < 1 || c.Panel.Port > 65535 {
		errs = append(errs, "panel.port must be between 1 and 65535")
	}
	if c.Panel.PIN == "" {
		errs = append(errs, "panel.pin is required (set LARESBRIDGE_PANEL_PIN environment variable)")
	}
	if c.Panel.HeartbeatInterval < 1 {
		errs = append(errs, "panel.heartbeat_interval must be at least 1 second")
	}
	if c.Panel.Reconnect.BaseDelay < 1 {
		errs = append(errs, "panel.reconnect.base_delay must be positive")
	}
	if c.Panel.Reconnect.MaxDelay < c.Panel.Reconnect.BaseDelay {
		errs = append(errs, "panel.reconnect.max_delay must be >= base_delay")
	}

	// MQTT validation
	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
	}

	// API validation. The API controls a physical security system, so the
	// signing secret and shared key are required whenever it is enabled.
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set LARESBRIDGE_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}

		const minAPIKeyLength = 16
		if c.Security.APIKey == "" {
			errs = append(errs, "security.api_key is required (set LARESBRIDGE_API_KEY environment variable)")
		} else if len(c.Security.APIKey) < minAPIKeyLength {
			errs = append(errs, "security.api_key must be at least 16 characters")
		}
	}

	// Telemetry validation
	if c.Telemetry.Enabled {
		if c.Telemetry.URL == "" {
			errs = append(errs, "telemetry.url is required when telemetry is enabled")
		}
		if c.Telemetry.Token == "" {
			errs = append(errs, "telemetry.token is required when telemetry is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetHeartbeatInterval returns the panel heartbeat interval as a Duration.
func (c *Config) GetHeartbeatInterval() time.Duration {
	return time.Duration(c.Panel.HeartbeatInterval) * time.Second
}

// GetConnectTimeout returns the panel socket-open deadline as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Panel.ConnectTimeout) * time.Second
}

// GetReconnectBaseDelay returns the reconnect base delay as a Duration.
func (c *Config) GetReconnectBaseDelay() time.Duration {
	return time.Duration(c.Panel.Reconnect.BaseDelay) * time.Millisecond
}

// GetReconnectMaxDelay returns the reconnect delay ceiling as a Duration.
func (c *Config) GetReconnectMaxDelay() time.Duration {
	return time.Duration(c.Panel.Reconnect.MaxDelay) * time.Millisecond
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
