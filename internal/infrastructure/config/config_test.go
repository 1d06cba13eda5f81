package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
panel:
  host: "192.168.1.50"
  pin: "123456"
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "127.0.0.1"
  port: 8490
security:
  api_key: "test-api-key-16chars"
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Panel.Host != "192.168.1.50" {
		t.Errorf("Panel.Host = %q, want %q", cfg.Panel.Host, "192.168.1.50")
	}

	if cfg.Panel.PIN != "123456" {
		t.Errorf("Panel.PIN = %q, want %q", cfg.Panel.PIN, "123456")
	}

	// Defaults should survive a partial file
	if cfg.Panel.Port != 443 {
		t.Errorf("Panel.Port = %d, want default 443", cfg.Panel.Port)
	}

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
panel:
  host: ""
api:
  port: 8490
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty panel.host, got nil")
	}
}

// validPanel returns a PanelConfig that passes validation.
func validPanel() PanelConfig {
	return PanelConfig{
		Host:              "192.168.1.50",
		Port:              443,
		PIN:               "123456",
		HeartbeatInterval: 30,
		Reconnect:         PanelReconnectConfig{BaseDelay: 5000, MaxDelay: 60000},
	}
}

func TestConfig_Validate(t *testing.T) {
	// validJWTSecret is a secret that meets the 32-character minimum requirement
	validJWTSecret := "test-secret-key-at-least-32-chars!"
	validAPIKey := "test-api-key-16chars"

	validSecurity := SecurityConfig{
		APIKey: validAPIKey,
		JWT:    JWTConfig{Secret: validJWTSecret},
	}

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Panel:    validPanel(),
				MQTT:     MQTTConfig{Enabled: true, Broker: MQTTBrokerConfig{Host: "localhost"}, QoS: 1},
				API:      APIConfig{Enabled: true, Port: 8490},
				Security: validSecurity,
			},
			wantErr: false,
		},
		{
			name: "missing panel host",
			config: &Config{
				Panel: PanelConfig{
					Port:              443,
					PIN:               "123456",
					HeartbeatInterval: 30,
					Reconnect:         PanelReconnectConfig{BaseDelay: 5000, MaxDelay: 60000},
				},
				API:      APIConfig{Enabled: true, Port: 8490},
				Security: validSecurity,
			},
			wantErr: true,
		},
		{
			name: "missing panel PIN",
			config: func() *Config {
				p := validPanel()
				p.PIN = ""
				return &Config{
					Panel:    p,
					API:      APIConfig{Enabled: true, Port: 8490},
					Security: validSecurity,
				}
			}(),
			wantErr: true,
		},
		{
			name: "reconnect ceiling below base",
			config: func() *Config {
				p := validPanel()
				p.Reconnect = PanelReconnectConfig{BaseDelay: 5000, MaxDelay: 1000}
				return &Config{
					Panel:    p,
					API:      APIConfig{Enabled: true, Port: 8490},
					Security: validSecurity,
				}
			}(),
			wantErr: true,
		},
		{
			name: "invalid QoS",
			config: &Config{
				Panel:    validPanel(),
				MQTT:     MQTTConfig{Enabled: true, Broker: MQTTBrokerConfig{Host: "localhost"}, QoS: 3},
				API:      APIConfig{Enabled: true, Port: 8490},
				Security: validSecurity,
			},
			wantErr: true,
		},
		{
			name: "invalid QoS ignored when mqtt disabled",
			config: &Config{
				Panel:    validPanel(),
				MQTT:     MQTTConfig{Enabled: false, QoS: 3},
				API:      APIConfig{Enabled: true, Port: 8490},
				Security: validSecurity,
			},
			wantErr: false,
		},
		{
			name: "invalid API port",
			config: &Config{
				Panel:    validPanel(),
				API:      APIConfig{Enabled: true, Port: 70000},
				Security: validSecurity,
			},
			wantErr: true,
		},
		{
			name: "missing JWT secret",
			config: &Config{
				Panel:    validPanel(),
				API:      APIConfig{Enabled: true, Port: 8490},
				Security: SecurityConfig{APIKey: validAPIKey},
			},
			wantErr: true,
		},
		{
			name: "JWT secret too short",
			config: &Config{
				Panel:    validPanel(),
				API:      APIConfig{Enabled: true, Port: 8490},
				Security: SecurityConfig{APIKey: validAPIKey, JWT: JWTConfig{Secret: "short"}},
			},
			wantErr: true,
		},
		{
			name: "missing API key",
			config: &Config{
				Panel:    validPanel(),
				API:      APIConfig{Enabled: true, Port: 8490},
				Security: SecurityConfig{JWT: JWTConfig{Secret: validJWTSecret}},
			},
			wantErr: true,
		},
		{
			name: "secrets not required when API disabled",
			config: &Config{
				Panel: validPanel(),
				API:   APIConfig{Enabled: false},
			},
			wantErr: false,
		},
		{
			name: "telemetry requires url and token",
			config: &Config{
				Panel:     validPanel(),
				API:       APIConfig{Enabled: false},
				Telemetry: TelemetryConfig{Enabled: true},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetDurations(t *testing.T) {
	cfg := &Config{
		Panel: PanelConfig{
			HeartbeatInterval: 30,
			ConnectTimeout:    10,
			Reconnect:         PanelReconnectConfig{BaseDelay: 5000, MaxDelay: 60000},
		},
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetHeartbeatInterval().Seconds(); got != 30 {
		t.Errorf("GetHeartbeatInterval() = %v, want 30", got)
	}

	if got := cfg.GetConnectTimeout().Seconds(); got != 10 {
		t.Errorf("GetConnectTimeout() = %v, want 10", got)
	}

	if got := cfg.GetReconnectBaseDelay().Milliseconds(); got != 5000 {
		t.Errorf("GetReconnectBaseDelay() = %v, want 5000", got)
	}

	if got := cfg.GetReconnectMaxDelay().Milliseconds(); got != 60000 {
		t.Errorf("GetReconnectMaxDelay() = %v, want 60000", got)
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

	// Set environment variables
	t.Setenv("LARESBRIDGE_PANEL_HOST", "10.0.0.9")
	t.Setenv("LARESBRIDGE_PANEL_PIN", "654321")
	t.Setenv("LARESBRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("LARESBRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("LARESBRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("LARESBRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("LARESBRIDGE_TELEMETRY_TOKEN", "secret-token")
	t.Setenv("LARESBRIDGE_JWT_SECRET", "jwt-secret")
	t.Setenv("LARESBRIDGE_API_KEY", "env-api-key")

	applyEnvOverrides(cfg)

	if cfg.Panel.Host != "10.0.0.9" {
		t.Errorf("Panel.Host = %q, want %q", cfg.Panel.Host, "10.0.0.9")
	}

	if cfg.Panel.PIN != "654321" {
		t.Errorf("Panel.PIN = %q, want %q", cfg.Panel.PIN, "654321")
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}

	if cfg.Telemetry.Token != "secret-token" {
		t.Errorf("Telemetry.Token = %q, want %q", cfg.Telemetry.Token, "secret-token")
	}

	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}

	if cfg.Security.APIKey != "env-api-key" {
		t.Errorf("Security.APIKey = %q, want %q", cfg.Security.APIKey, "env-api-key")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Panel.Port != 443 {
		t.Errorf("defaultConfig Panel.Port = %d, want 443", cfg.Panel.Port)
	}

	if !cfg.Panel.TLS {
		t.Error("defaultConfig should enable panel TLS")
	}

	if cfg.Panel.Path != "/KseniaWsock" {
		t.Errorf("defaultConfig Panel.Path = %q, want %q", cfg.Panel.Path, "/KseniaWsock")
	}

	if cfg.Panel.Reconnect.BaseDelay != 5000 || cfg.Panel.Reconnect.MaxDelay != 60000 {
		t.Errorf("defaultConfig reconnect = %+v, want base 5000 max 60000", cfg.Panel.Reconnect)
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.API.Port != 8490 {
		t.Errorf("defaultConfig API.Port = %d, want 8490", cfg.API.Port)
	}
}
