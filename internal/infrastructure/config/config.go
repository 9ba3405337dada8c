package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Machines   []MachineConfig  `yaml:"machines"`
	ADAM       ADAMConfig       `yaml:"adam"`
	CycleTime  CycleTimeConfig  `yaml:"cycle_time"`
	Production ProductionConfig `yaml:"production"`
	Uplink     UplinkConfig     `yaml:"uplink"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Retention  RetentionConfig  `yaml:"retention"`
}

// GatewayConfig identifies this gateway to the remote collector and MQTT.
type GatewayConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// SnapshotInterval is how often (seconds) line-protocol machine
	// snapshots are forwarded to the uplink.
	SnapshotInterval int `yaml:"snapshot_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MachineConfig describes one line-protocol (SHDR) device.
type MachineConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllowedItems lists the data items kept from the stream.
	// Empty means every item is kept.
	AllowedItems []string `yaml:"allowed_items"`

	// ProgramSource names the item that carries the program identifier:
	// "program" (default), "block" or "program_comment".
	ProgramSource string `yaml:"program_source"`

	ReconnectInterval    int `yaml:"reconnect_interval"`
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
	IdleTimeout          int `yaml:"idle_timeout"`

	// Agent is an optional helper adapter used when the live stream is unavailable.
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig describes a helper adapter process exposing HTTP /current.
type AgentConfig struct {
	URL string `yaml:"url"`

	// Binary, when set, is started and supervised by the gateway.
	Binary             string   `yaml:"binary"`
	Args               []string `yaml:"args"`
	RestartDelay       int      `yaml:"restart_delay"`
	MaxRestartAttempts int      `yaml:"max_restart_attempts"`
}

// ADAMConfig contains register-polling (Modbus TCP) counter module settings.
type ADAMConfig struct {
	Enabled      bool            `yaml:"enabled"`
	ID           string          `yaml:"id"`
	Host         string          `yaml:"host"`
	Port         int             `yaml:"port"`
	UnitID       int             `yaml:"unit_id"`
	PollInterval int             `yaml:"poll_interval"`
	Timeout      int             `yaml:"timeout"`
	Channels     []ChannelConfig `yaml:"channels"`
}

// ChannelConfig maps one ADAM channel to a machine.
type ChannelConfig struct {
	Channel   int    `yaml:"channel"`
	MachineID string `yaml:"machine_id"`
	Name      string `yaml:"name"`

	// Mode is "counter" (default) or "discrete".
	Mode string `yaml:"mode"`
}

// CycleTimeConfig contains cycle-time estimator settings.
type CycleTimeConfig struct {
	HistorySize int `yaml:"history_size"`
	IdleTimeout int `yaml:"idle_timeout"`
}

// ProductionConfig contains cycle reconstruction and OEE constants.
type ProductionConfig struct {
	PlannedTimeSeconds    float64 `yaml:"planned_time_seconds"`
	IdealCycleTimeSeconds float64 `yaml:"ideal_cycle_time_seconds"`
	QualityPercent        float64 `yaml:"quality_percent"`
	FreshnessWindow       int     `yaml:"freshness_window"`
}

// UplinkConfig contains remote collector delivery settings.
type UplinkConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	Path           string `yaml:"path"`
	HealthPath     string `yaml:"health_path"`
	APIKey         string `yaml:"api_key"`
	Source         string `yaml:"source"`
	BatchSize      int    `yaml:"batch_size"`
	MaxInterval    int    `yaml:"max_interval"`
	RetryAttempts  int    `yaml:"retry_attempts"`
	Timeout        int    `yaml:"timeout"`
	HealthInterval int    `yaml:"health_interval"`
	QueueSize      int    `yaml:"queue_size"`
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

// APIConfig contains status HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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
}

// WebSocketConfig contains WebSocket live feed settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// RetentionConfig controls pruning of persisted production samples.
type RetentionConfig struct {
	// Schedule is a standard 5-field cron expression.
	Schedule   string `yaml:"schedule"`
	SampleDays int    `yaml:"sample_days"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GATEWAY_SECTION_KEY
// For example: GATEWAY_DATABASE_PATH, GATEWAY_UPLINK_API_KEY
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
	cfg.applyMachineDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:               "edge-gateway-01",
			Name:             "Gray Logic Gateway",
			SnapshotInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Database: DatabaseConfig{
			Path:        "./data/gateway.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		ADAM: ADAMConfig{
			ID:           "adam-6050",
			Host:         "192.168.1.120",
			Port:         502,
			UnitID:       1,
			PollInterval: 10,
			Timeout:      5,
		},
		CycleTime: CycleTimeConfig{
			HistorySize: 50,
			IdleTimeout: 300,
		},
		Production: ProductionConfig{
			PlannedTimeSeconds:    8 * 60 * 60,
			IdealCycleTimeSeconds: 25 * 60,
			QualityPercent:        100,
			FreshnessWindow:       300,
		},
		Uplink: UplinkConfig{
			Enabled:        true,
			Path:           "/api/machine-data/batch",
			HealthPath:     "/api/health",
			Source:         "edge-gateway",
			BatchSize:      10,
			MaxInterval:    30,
			RetryAttempts:  3,
			Timeout:        10,
			HealthInterval: 120,
			QueueSize:      1024,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-gateway",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "production",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Retention: RetentionConfig{
			Schedule:   "0 3 * * *",
			SampleDays: 30,
		},
	}
}

// applyMachineDefaults fills per-machine zero values after the file is parsed.
func (c *Config) applyMachineDefaults() {
	for i := range c.Machines {
		m := &c.Machines[i]
		if m.Name == "" {
			m.Name = m.ID
		}
		if m.Port == 0 {
			m.Port = 7878
		}
		if m.ProgramSource == "" {
			m.ProgramSource = "program"
		}
		if m.ReconnectInterval == 0 {
			m.ReconnectInterval = 5
		}
		if m.MaxReconnectAttempts == 0 {
			m.MaxReconnectAttempts = 5
		}
		if m.IdleTimeout == 0 {
			m.IdleTimeout = 10
		}
	}
	for i := range c.ADAM.Channels {
		ch := &c.ADAM.Channels[i]
		if ch.Mode == "" {
			ch.Mode = "counter"
		}
		if ch.Name == "" {
			ch.Name = ch.MachineID
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GATEWAY_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATEWAY_ID"); v != "" {
		cfg.Gateway.ID = v
	}

	// Database
	if v := os.Getenv("GATEWAY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// ADAM
	if v := os.Getenv("GATEWAY_ADAM_HOST"); v != "" {
		cfg.ADAM.Host = v
	}

	// Uplink
	if v := os.Getenv("GATEWAY_UPLINK_BASE_URL"); v != "" {
		cfg.Uplink.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_UPLINK_API_KEY"); v != "" {
		cfg.Uplink.APIKey = v
	}

	// MQTT
	if v := os.Getenv("GATEWAY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GATEWAY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GATEWAY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GATEWAY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("GATEWAY_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GATEWAY_API_CORS_ORIGINS"); v != "" {
		cfg.API.CORS.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("GATEWAY_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}
	if c.Gateway.SnapshotInterval <= 0 {
		errs = append(errs, "gateway.snapshot_interval must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	errs = append(errs, c.validateMachines()...)
	errs = append(errs, c.validateADAM()...)

	if c.CycleTime.HistorySize < 2 {
		errs = append(errs, "cycle_time.history_size must be at least 2")
	}

	if c.Production.QualityPercent < 0 || c.Production.QualityPercent > 100 {
		errs = append(errs, "production.quality_percent must be between 0 and 100")
	}
	if c.Production.IdealCycleTimeSeconds < 0 {
		errs = append(errs, "production.ideal_cycle_time_seconds must not be negative")
	}

	if c.Uplink.Enabled {
		if c.Uplink.BaseURL == "" {
			errs = append(errs, "uplink.base_url is required when uplink is enabled (set GATEWAY_UPLINK_BASE_URL)")
		}
		if c.Uplink.BatchSize <= 0 {
			errs = append(errs, "uplink.batch_size must be positive")
		}
		if c.Uplink.RetryAttempts <= 0 {
			errs = append(errs, "uplink.retry_attempts must be positive")
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateMachines() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Machines))
	for i, m := range c.Machines {
		if m.ID == "" {
			errs = append(errs, fmt.Sprintf("machines[%d].id is required", i))
			continue
		}
		if seen[m.ID] {
			errs = append(errs, fmt.Sprintf("machines[%d].id %q is duplicated", i, m.ID))
		}
		seen[m.ID] = true
		if m.Host == "" {
			errs = append(errs, fmt.Sprintf("machines[%d].host is required", i))
		}
		if m.Port < 1 || m.Port > 65535 {
			errs = append(errs, fmt.Sprintf("machines[%d].port must be between 1 and 65535", i))
		}
		switch m.ProgramSource {
		case "program", "block", "program_comment":
		default:
			errs = append(errs, fmt.Sprintf("machines[%d].program_source must be program, block or program_comment", i))
		}
	}
	return errs
}

// maxADAMChannel is the highest channel index on the 12-channel module.
const maxADAMChannel = 11

func (c *Config) validateADAM() []string {
	if !c.ADAM.Enabled {
		return nil
	}
	var errs []string
	if c.ADAM.Host == "" {
		errs = append(errs, "adam.host is required when adam is enabled")
	}
	if c.ADAM.PollInterval <= 0 {
		errs = append(errs, "adam.poll_interval must be positive")
	}
	seen := make(map[int]bool, len(c.ADAM.Channels))
	for i, ch := range c.ADAM.Channels {
		if ch.Channel < 0 || ch.Channel > maxADAMChannel {
			errs = append(errs, fmt.Sprintf("adam.channels[%d].channel must be between 0 and %d", i, maxADAMChannel))
		}
		if seen[ch.Channel] {
			errs = append(errs, fmt.Sprintf("adam.channels[%d].channel %d is duplicated", i, ch.Channel))
		}
		seen[ch.Channel] = true
		if ch.Mode != "counter" && ch.Mode != "discrete" {
			errs = append(errs, fmt.Sprintf("adam.channels[%d].mode must be counter or discrete", i))
		}
	}
	return errs
}

// GetSnapshotInterval returns the uplink snapshot interval as a Duration.
func (c *Config) GetSnapshotInterval() time.Duration {
	return time.Duration(c.Gateway.SnapshotInterval) * time.Second
}

// GetPollInterval returns the ADAM poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.ADAM.PollInterval) * time.Second
}

// GetIdleTimeout returns the cycle-time idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.CycleTime.IdleTimeout) * time.Second
}

// GetFreshnessWindow returns the current-status freshness window as a Duration.
func (c *Config) GetFreshnessWindow() time.Duration {
	return time.Duration(c.Production.FreshnessWindow) * time.Second
}

// GetSampleRetention returns how long production samples are kept.
func (c *Config) GetSampleRetention() time.Duration {
	return time.Duration(c.Retention.SampleDays) * 24 * time.Hour
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetAPIIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetAPIIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// splitList parses a comma separated environment value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
