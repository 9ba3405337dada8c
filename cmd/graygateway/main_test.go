package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/bridges/adam"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/metrics"
)

// TestRun_InvalidConfig verifies run fails with a missing config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/gateway.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_RejectsInvalidConfig verifies validation errors stop startup.
func TestRun_RejectsInvalidConfig(t *testing.T) {
	configPath := writeConfig(t, `
gateway:
  id: test-gateway
database:
  path: ""
uplink:
  enabled: false
api:
  enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, configPath); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_StartsAndStops verifies a minimal gateway starts and shuts down
// cleanly when the context is cancelled.
func TestRun_StartsAndStops(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, `
gateway:
  id: test-gateway
logging:
  level: error
  format: text
database:
  path: "`+filepath.Join(tmpDir, "gateway.db")+`"
uplink:
  enabled: false
api:
  enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := run(ctx, configPath); err != nil {
		t.Fatalf("run() error = %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"flag wins", "/etc/flag.yaml", "/etc/env.yaml", "/etc/flag.yaml"},
		{"env fallback", "", "/etc/env.yaml", "/etc/env.yaml"},
		{"default", "", "", defaultConfigPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GATEWAY_CONFIG", tt.env)
			if got := resolveConfigPath(tt.flag); got != tt.want {
				t.Errorf("resolveConfigPath(%q) = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}
}

func TestLineConfigs(t *testing.T) {
	machines := []config.MachineConfig{
		{
			ID:                   "M01",
			Host:                 "10.0.0.5",
			Port:                 7878,
			IdleTimeout:          30,
			ReconnectInterval:    5,
			MaxReconnectAttempts: 3,
			AllowedItems:         []string{"execution", "part_count"},
			ProgramSource:        "block",
		},
		{ID: "M02", Host: "10.0.0.6", Port: 7879},
	}

	got := lineConfigs(machines)
	if len(got) != 2 {
		t.Fatalf("len(lineConfigs) = %d, want 2", len(got))
	}

	first := got[0]
	if first.DeviceID != "M01" {
		t.Errorf("DeviceID = %q, want M01", first.DeviceID)
	}
	if first.IdleTimeout != 30*time.Second {
		t.Errorf("IdleTimeout = %v, want 30s", first.IdleTimeout)
	}
	if first.ReconnectInterval != 5*time.Second {
		t.Errorf("ReconnectInterval = %v, want 5s", first.ReconnectInterval)
	}
	if first.MaxReconnectAttempts != 3 {
		t.Errorf("MaxReconnectAttempts = %d, want 3", first.MaxReconnectAttempts)
	}
	if len(first.AllowedItems) != 2 {
		t.Errorf("AllowedItems = %v, want 2 items", first.AllowedItems)
	}
	if first.Transform == nil {
		t.Error("Transform should be set")
	}

	if got[1].Port != 7879 {
		t.Errorf("second Port = %d, want 7879", got[1].Port)
	}
}

func TestADAMConfig(t *testing.T) {
	c := config.ADAMConfig{
		Host:    "192.168.1.120",
		Port:    502,
		UnitID:  3,
		Timeout: 2,
		Channels: []config.ChannelConfig{
			{Channel: 0, MachineID: "SR-22", Name: "Swiss 22"},
			{Channel: 1, MachineID: "SR-23", Mode: "discrete"},
		},
	}

	got := adamConfig(c)
	if got.UnitID != 3 {
		t.Errorf("UnitID = %d, want 3", got.UnitID)
	}
	if got.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v, want 2s", got.Timeout)
	}
	if len(got.Channels) != 2 {
		t.Fatalf("len(Channels) = %d, want 2", len(got.Channels))
	}

	tests := []struct {
		idx      int
		wantName string
		wantMode adam.Mode
	}{
		{0, "Swiss 22", ""},
		{1, "SR-23", adam.ModeDiscrete},
	}
	for _, tt := range tests {
		ch := got.Channels[tt.idx]
		if ch.Name != tt.wantName {
			t.Errorf("Channels[%d].Name = %q, want %q", tt.idx, ch.Name, tt.wantName)
		}
		if ch.Mode != tt.wantMode {
			t.Errorf("Channels[%d].Mode = %q, want %q", tt.idx, ch.Mode, tt.wantMode)
		}
		if ch.Index != tt.idx {
			t.Errorf("Channels[%d].Index = %d, want %d", tt.idx, ch.Index, tt.idx)
		}
	}
}

func TestUplinkConfig(t *testing.T) {
	cfg := &config.Config{
		Gateway: config.GatewayConfig{ID: "edge-01"},
		Uplink: config.UplinkConfig{
			BaseURL:        "https://collector.example.com",
			Path:           "/api/machine-data/batch",
			APIKey:         "secret",
			BatchSize:      10,
			MaxInterval:    30,
			RetryAttempts:  3,
			Timeout:        10,
			HealthInterval: 120,
			QueueSize:      64,
		},
	}

	got := uplinkConfig(cfg, logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard))

	if got.GatewayID != "edge-01" {
		t.Errorf("GatewayID = %q, want edge-01", got.GatewayID)
	}
	if got.MaxInterval != 30*time.Second {
		t.Errorf("MaxInterval = %v, want 30s", got.MaxInterval)
	}
	if got.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", got.Timeout)
	}
	if got.HealthInterval != 2*time.Minute {
		t.Errorf("HealthInterval = %v, want 2m", got.HealthInterval)
	}
	if got.QueueSize != 64 {
		t.Errorf("QueueSize = %d, want 64", got.QueueSize)
	}
	if got.Logger == nil {
		t.Error("Logger should be set")
	}
}

func TestAgentManagers(t *testing.T) {
	machines := []config.MachineConfig{
		{ID: "M01", Agent: config.AgentConfig{URL: "http://127.0.0.1:5000", Binary: "/usr/bin/agent"}},
		{ID: "M02", Agent: config.AgentConfig{URL: "http://127.0.0.1:5001"}},
		{ID: "M03"},
	}

	log := logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)
	got := agentManagers(machines, metrics.New(), log)

	if len(got) != 1 {
		t.Fatalf("len(agentManagers) = %d, want 1", len(got))
	}
	agent, ok := got["M01"]
	if !ok {
		t.Fatal("M01 should have a supervised agent")
	}
	if agent.IsRunning() {
		t.Error("agent should not be running before Start")
	}
}
