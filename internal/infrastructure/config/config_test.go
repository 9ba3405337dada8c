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
	configPath := filepath.Join(tmpDir, "gateway.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
gateway:
  id: "edge-test"
database:
  path: "/tmp/test.db"
machines:
  - id: "M01"
    name: "Lathe 1"
    host: "10.0.0.5"
    allowed_items: ["part_count", "execution"]
  - id: "M02"
    host: "10.0.0.6"
    port: 7879
    program_source: "program_comment"
adam:
  enabled: true
  channels:
    - channel: 0
      machine_id: "SR-22"
    - channel: 5
      machine_id: "L-20"
      mode: "discrete"
uplink:
  base_url: "https://collector.example.com"
  api_key: "secret"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Gateway.ID != "edge-test" {
		t.Errorf("Gateway.ID = %q, want %q", cfg.Gateway.ID, "edge-test")
	}
	if len(cfg.Machines) != 2 {
		t.Fatalf("len(Machines) = %d, want 2", len(cfg.Machines))
	}

	m1 := cfg.Machines[0]
	if m1.Port != 7878 {
		t.Errorf("Machines[0].Port = %d, want 7878", m1.Port)
	}
	if m1.ProgramSource != "program" {
		t.Errorf("Machines[0].ProgramSource = %q, want %q", m1.ProgramSource, "program")
	}
	if m1.MaxReconnectAttempts != 5 {
		t.Errorf("Machines[0].MaxReconnectAttempts = %d, want 5", m1.MaxReconnectAttempts)
	}
	if cfg.Machines[1].Name != "M02" {
		t.Errorf("Machines[1].Name = %q, want %q", cfg.Machines[1].Name, "M02")
	}

	if cfg.ADAM.Host != "192.168.1.120" || cfg.ADAM.Port != 502 {
		t.Errorf("ADAM address = %s:%d, want 192.168.1.120:502", cfg.ADAM.Host, cfg.ADAM.Port)
	}
	if cfg.ADAM.Channels[0].Mode != "counter" {
		t.Errorf("ADAM.Channels[0].Mode = %q, want %q", cfg.ADAM.Channels[0].Mode, "counter")
	}
	if cfg.Uplink.BatchSize != 10 {
		t.Errorf("Uplink.BatchSize = %d, want 10", cfg.Uplink.BatchSize)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/gateway.yaml")
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

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_ID", "from-env")
	t.Setenv("GATEWAY_UPLINK_BASE_URL", "https://env.example.com")
	t.Setenv("GATEWAY_UPLINK_API_KEY", "env-key")
	t.Setenv("GATEWAY_API_PORT", "9100")
	t.Setenv("GATEWAY_API_CORS_ORIGINS", "http://a.local, ,http://b.local")

	cfg, err := Load(writeConfig(t, "gateway:\n  id: file-id\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Gateway.ID != "from-env" {
		t.Errorf("Gateway.ID = %q, want %q", cfg.Gateway.ID, "from-env")
	}
	if cfg.Uplink.BaseURL != "https://env.example.com" {
		t.Errorf("Uplink.BaseURL = %q", cfg.Uplink.BaseURL)
	}
	if cfg.Uplink.APIKey != "env-key" {
		t.Errorf("Uplink.APIKey = %q, want %q", cfg.Uplink.APIKey, "env-key")
	}
	if cfg.API.Port != 9100 {
		t.Errorf("API.Port = %d, want 9100", cfg.API.Port)
	}
	if got := cfg.API.CORS.AllowedOrigins; len(got) != 2 || got[0] != "http://a.local" || got[1] != "http://b.local" {
		t.Errorf("API.CORS.AllowedOrigins = %v, want [http://a.local http://b.local]", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Uplink.BaseURL = "https://collector.example.com"
		cfg.Machines = []MachineConfig{{ID: "M01", Host: "10.0.0.5", Port: 7878, ProgramSource: "program"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "missing gateway id",
			mutate:  func(c *Config) { c.Gateway.ID = "" },
			wantErr: "gateway.id is required",
		},
		{
			name: "duplicate machine id",
			mutate: func(c *Config) {
				c.Machines = append(c.Machines, c.Machines[0])
			},
			wantErr: "is duplicated",
		},
		{
			name:    "bad program source",
			mutate:  func(c *Config) { c.Machines[0].ProgramSource = "tool" },
			wantErr: "program_source",
		},
		{
			name: "channel out of range",
			mutate: func(c *Config) {
				c.ADAM.Enabled = true
				c.ADAM.Channels = []ChannelConfig{{Channel: 12, MachineID: "X", Mode: "counter"}}
			},
			wantErr: "between 0 and 11",
		},
		{
			name: "bad channel mode",
			mutate: func(c *Config) {
				c.ADAM.Enabled = true
				c.ADAM.Channels = []ChannelConfig{{Channel: 1, MachineID: "X", Mode: "analog"}}
			},
			wantErr: "mode must be counter or discrete",
		},
		{
			name:    "uplink without base url",
			mutate:  func(c *Config) { c.Uplink.BaseURL = "" },
			wantErr: "uplink.base_url is required",
		},
		{
			name: "uplink disabled without base url",
			mutate: func(c *Config) {
				c.Uplink.Enabled = false
				c.Uplink.BaseURL = ""
			},
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid api port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Gateway.ID = ""
	cfg.Database.Path = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want error")
	}
	msg := err.Error()
	for _, want := range []string{"gateway.id", "database.path", "uplink.base_url"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Validate() error %q missing %q", msg, want)
		}
	}
}

func TestConfig_DurationGetters(t *testing.T) {
	cfg := defaultConfig()

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"snapshot interval", cfg.GetSnapshotInterval(), 10 * time.Second},
		{"poll interval", cfg.GetPollInterval(), 10 * time.Second},
		{"idle timeout", cfg.GetIdleTimeout(), 5 * time.Minute},
		{"freshness window", cfg.GetFreshnessWindow(), 5 * time.Minute},
		{"sample retention", cfg.GetSampleRetention(), 30 * 24 * time.Hour},
		{"read timeout", cfg.GetReadTimeout(), 15 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}
