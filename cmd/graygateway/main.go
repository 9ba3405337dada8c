// Gray Logic Gateway - shop-floor telemetry edge gateway
//
// This is the main entry point for the gateway. It collects machine data from
// line-protocol (SHDR) streams and a Modbus counter module, derives cycle
// times and OEE, and forwards the results to:
//   - a remote collector over HTTPS (batched, retried)
//   - MQTT for local consumers
//   - InfluxDB for time-series dashboards
//   - a local REST/WebSocket API
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-gateway/migrations"

	"github.com/nerrad567/gray-logic-gateway/internal/acquire"
	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/bridges/adam"
	"github.com/nerrad567/gray-logic-gateway/internal/bridges/shdr"
	"github.com/nerrad567/gray-logic-gateway/internal/cycletime"
	"github.com/nerrad567/gray-logic-gateway/internal/gateway"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gateway/internal/process"
	"github.com/nerrad567/gray-logic-gateway/internal/production"
	"github.com/nerrad567/gray-logic-gateway/internal/uplink"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/gateway.yaml"

	// uplinkDrainTimeout bounds the final flush on shutdown.
	uplinkDrainTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to the gateway configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, resolveConfigPath(*configPath)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfigPath prefers the flag, then GATEWAY_CONFIG, then the default.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("GATEWAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// run wires every component and blocks until ctx is cancelled.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path to the YAML configuration
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Gray Logic Gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"gateway_id", cfg.Gateway.ID,
		"machines", len(cfg.Machines),
	)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	samples := production.NewSQLiteSampleRepository(db.DB)
	m := metrics.New()

	registry, err := shdr.NewRegistry(lineConfigs(cfg.Machines))
	if err != nil {
		return fmt.Errorf("creating line registry: %w", err)
	}
	registry.SetLogger(log)

	estimator := cycletime.New(cycletime.Config{
		HistorySize: cfg.CycleTime.HistorySize,
		IdleTimeout: cfg.GetIdleTimeout(),
	})

	deps := gateway.Deps{
		Config:    cfg,
		Logger:    log,
		Registry:  registry,
		Estimator: estimator,
		Store:     samples,
		Database:  db,
		Metrics:   m,
		Version:   version,
	}

	analyzer := production.NewAnalyzer(samples, production.AnalyzerConfig{
		OEE: production.OEEConfig{
			PlannedTimeSeconds:    cfg.Production.PlannedTimeSeconds,
			IdealCycleTimeSeconds: cfg.Production.IdealCycleTimeSeconds,
			QualityPercent:        cfg.Production.QualityPercent,
		},
		Freshness:    cfg.GetFreshnessWindow(),
		RecordCycles: true,
	})
	analyzer.SetLogger(log)
	deps.Analyzer = analyzer

	if cfg.ADAM.Enabled {
		reader, readerErr := adam.NewReader(adamConfig(cfg.ADAM))
		if readerErr != nil {
			return fmt.Errorf("creating counter reader: %w", readerErr)
		}
		poller := adam.NewPoller(reader, cfg.GetPollInterval())
		poller.SetLogger(log)
		deps.Counters = poller
		log.Info("counter module configured", "address", reader.Address(), "channels", len(reader.Channels()))
	} else {
		log.Info("counter module disabled")
	}

	if cfg.Uplink.Enabled {
		buf, bufErr := uplink.New(uplinkConfig(cfg, log))
		if bufErr != nil {
			return fmt.Errorf("creating uplink: %w", bufErr)
		}
		defer func() {
			log.Info("draining uplink")
			drainCtx, cancel := context.WithTimeout(context.Background(), uplinkDrainTimeout)
			defer cancel()
			if closeErr := buf.Close(drainCtx); closeErr != nil {
				log.Error("error closing uplink", "error", closeErr)
			}
		}()
		deps.Uplink = buf
		log.Info("uplink configured", "base_url", cfg.Uplink.BaseURL, "batch_size", cfg.Uplink.BatchSize)
	} else {
		log.Info("uplink disabled")
	}

	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT, cfg.Gateway.ID)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		deps.Publisher = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB, cfg.Gateway.ID)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		deps.Series = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	deps.Agents = agentManagers(cfg.Machines, m, log)

	retention, err := production.NewRetention(
		gateway.NewMeteredPruner(samples, m),
		cfg.Retention.Schedule,
		cfg.GetSampleRetention(),
		log,
	)
	if err != nil {
		return fmt.Errorf("creating retention job: %w", err)
	}
	retention.Start()
	defer retention.Stop()

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log)
		hub.SetOnClientCount(m.SetLiveClients)
		go hub.Run(ctx)
		deps.Hub = hub
	}

	gw, err := gateway.New(deps)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	if startErr := gw.Start(ctx); startErr != nil {
		return fmt.Errorf("starting gateway: %w", startErr)
	}
	defer gw.Stop()

	if cfg.API.Enabled {
		srv, srvErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log,
			Provider: gw,
			Hub:      hub,
			Metrics:  m.Handler(),
			Version:  version,
		})
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, gateway, retention, InfluxDB,
	// MQTT, uplink drain, database.
	return nil
}

// lineConfigs converts machine configuration into line client settings.
func lineConfigs(machines []config.MachineConfig) []shdr.Config {
	out := make([]shdr.Config, 0, len(machines))
	for _, mc := range machines {
		out = append(out, shdr.Config{
			DeviceID:             mc.ID,
			Host:                 mc.Host,
			Port:                 mc.Port,
			IdleTimeout:          time.Duration(mc.IdleTimeout) * time.Second,
			ReconnectInterval:    time.Duration(mc.ReconnectInterval) * time.Second,
			MaxReconnectAttempts: mc.MaxReconnectAttempts,
			AllowedItems:         mc.AllowedItems,
			Transform:            shdr.ProgramTransform(mc.ProgramSource),
		})
	}
	return out
}

// adamConfig converts the counter module section.
func adamConfig(c config.ADAMConfig) adam.Config {
	channels := make([]adam.Channel, 0, len(c.Channels))
	for _, ch := range c.Channels {
		name := ch.Name
		if name == "" {
			name = ch.MachineID
		}
		channels = append(channels, adam.Channel{
			Index:     ch.Channel,
			MachineID: ch.MachineID,
			Name:      name,
			Mode:      adam.Mode(ch.Mode),
		})
	}
	return adam.Config{
		Host:     c.Host,
		Port:     c.Port,
		UnitID:   byte(c.UnitID),
		Timeout:  time.Duration(c.Timeout) * time.Second,
		Channels: channels,
	}
}

// uplinkConfig converts the uplink section.
func uplinkConfig(cfg *config.Config, log *logging.Logger) uplink.Config {
	u := cfg.Uplink
	return uplink.Config{
		BaseURL:        u.BaseURL,
		Path:           u.Path,
		HealthPath:     u.HealthPath,
		APIKey:         u.APIKey,
		GatewayID:      cfg.Gateway.ID,
		Source:         u.Source,
		BatchSize:      u.BatchSize,
		MaxInterval:    time.Duration(u.MaxInterval) * time.Second,
		RetryAttempts:  u.RetryAttempts,
		Timeout:        time.Duration(u.Timeout) * time.Second,
		HealthInterval: time.Duration(u.HealthInterval) * time.Second,
		QueueSize:      u.QueueSize,
		Logger:         log,
	}
}

// agentManagers creates a supervisor for every machine whose helper agent
// has a binary configured.
func agentManagers(machines []config.MachineConfig, m *metrics.Metrics, log *logging.Logger) map[string]gateway.AgentProcess {
	out := make(map[string]gateway.AgentProcess)
	for _, mc := range machines {
		if mc.Agent.Binary == "" {
			continue
		}
		machineID := mc.ID

		pcfg := process.DefaultConfig("agent-"+machineID, mc.Agent.Binary, mc.Agent.Args)
		if mc.Agent.RestartDelay > 0 {
			pcfg.RestartDelay = time.Duration(mc.Agent.RestartDelay) * time.Second
		}
		if mc.Agent.MaxRestartAttempts > 0 {
			pcfg.MaxRestartAttempts = mc.Agent.MaxRestartAttempts
		}
		if mc.Agent.URL != "" {
			pcfg.HealthCheck = process.HTTPHealthCheck(strings.TrimRight(mc.Agent.URL, "/")+acquire.DefaultAgentPath, nil)
		}
		pcfg.OnRestart = func(attempt int) {
			m.AgentRestart(machineID)
			log.Warn("restarting helper agent", "machine_id", machineID, "attempt", attempt)
		}

		mgr := process.NewManager(pcfg)
		mgr.SetLogger(log)
		out[machineID] = mgr
	}
	return out
}
