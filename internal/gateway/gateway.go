package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/acquire"
	"github.com/nerrad567/gray-logic-gateway/internal/bridges/adam"
	"github.com/nerrad567/gray-logic-gateway/internal/bridges/shdr"
	"github.com/nerrad567/gray-logic-gateway/internal/cycletime"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gateway/internal/process"
	"github.com/nerrad567/gray-logic-gateway/internal/production"
	"github.com/nerrad567/gray-logic-gateway/internal/uplink"
)

const (
	// DefaultSnapshotInterval is how often machine snapshots are forwarded.
	DefaultSnapshotInterval = 10 * time.Second

	// DefaultHealthInterval is how often the health summary is published.
	DefaultHealthInterval = 30 * time.Second

	// acquireTimeout bounds one machine's acquisition within a snapshot round.
	acquireTimeout = 5 * time.Second

	// storeTimeout bounds one sample write.
	storeTimeout = 2 * time.Second

	adamErrorLogInterval = time.Minute
)

// LineRegistry is the part of shdr.Registry the gateway drives.
type LineRegistry interface {
	acquire.StateSource
	Devices() []string
	AllConnectionStates() map[string]bool
	ConnectedCount() int
	SetOnEvent(handler func(shdr.Event))
	Start(ctx context.Context)
	Restart(ctx context.Context, deviceID string) error
	Close() error
}

// CounterPoller is the part of adam.Poller the gateway drives.
type CounterPoller interface {
	SetOnReadings(fn func([]adam.CounterReading))
	SetOnError(fn func(error))
	Run(ctx context.Context) error
	Latest() ([]adam.CounterReading, time.Time)
	IsOnline() bool
}

// Publisher is the MQTT surface used by the gateway. *mqtt.Client satisfies it.
type Publisher interface {
	PublishMachineState(machineID string, state any) error
	PublishCounter(machineID string, reading any) error
	PublishCycle(machineID string, cycle any) error
	PublishHealth(msg mqtt.HealthMessage) error
	SubscribeCommands(handler mqtt.CommandHandler) error
	IsConnected() bool
}

// SeriesWriter is the time-series surface used by the gateway.
// *influxdb.Client satisfies it.
type SeriesWriter interface {
	WriteCounter(machineID string, channel int, count uint64, at time.Time)
	WriteEstimate(machineID string, cycleTimeSeconds *float64, confidence, status string, anomalous bool, at time.Time)
	WriteMachineState(machineID, execution, availability string, partCount *int64, at time.Time)
	WriteCycle(machineID string, start, end time.Time, durationSeconds float64)
	WriteOEE(machineID string, availability, performance, quality, oee float64, to time.Time)
	IsConnected() bool
}

// Uplink is the collector delivery surface. *uplink.Buffer satisfies it.
type Uplink interface {
	Submit(rec uplink.Record) error
	SetOnFlush(callback func(uplink.FlushResult))
	Status() uplink.Status
	IsOnline() bool
}

// Broadcaster pushes live updates to WebSocket clients. *api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// SampleStore persists samples and serves stored cycles.
// *production.SQLiteSampleRepository satisfies it.
type SampleStore interface {
	RecordSample(ctx context.Context, s production.Sample) error
	ListCycles(ctx context.Context, machineID string, from, to time.Time) ([]production.Cycle, error)
}

// Analyzer computes windowed OEE. *production.Analyzer satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, machineID string, from, to time.Time) (production.Result, error)
}

// AgentProcess is a supervised helper agent. *process.Manager satisfies it.
type AgentProcess interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
	PID() int
	RestartCount() int
	Status() process.Status
}

// HealthChecker is any component with a health probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the gateway's collaborators. Config, Logger, Registry and
// Estimator are required; every other field may be nil.
type Deps struct {
	Config    *config.Config
	Logger    *logging.Logger
	Registry  LineRegistry
	Estimator *cycletime.Estimator

	Counters  CounterPoller
	Publisher Publisher
	Series    SeriesWriter
	Uplink    Uplink
	Hub       Broadcaster
	Store     SampleStore
	Analyzer  Analyzer
	Database  HealthChecker
	Metrics   *metrics.Metrics

	// Agents maps machine id to its supervised helper agent.
	Agents map[string]AgentProcess

	// HealthInterval defaults to DefaultHealthInterval.
	HealthInterval time.Duration

	Version string
}

// machineInfo is the static description of one line-protocol machine.
type machineInfo struct {
	id    string
	name  string
	chain *acquire.Chain
	agent AgentProcess
}

// observed is the last execution and count seen for a machine. Samples are
// written only when one of them changes.
type observed struct {
	execution string
	partCount *int64
}

func (o observed) differs(execution string, partCount *int64) bool {
	if o.execution != execution {
		return true
	}
	if (o.partCount == nil) != (partCount == nil) {
		return true
	}
	return partCount != nil && *o.partCount != *partCount
}

// Gateway is the runtime orchestrator.
//
// Thread Safety:
//   - Event handlers run on the emitting component's goroutine; shared state
//     is guarded by mu.
//   - All exported methods are safe for concurrent use.
type Gateway struct {
	deps      Deps
	gatewayID string
	logger    *logging.Logger
	adamWarn  *logging.Throttled
	interval  time.Duration
	health    time.Duration

	machines []*machineInfo
	byID     map[string]*machineInfo

	// counterMachines maps ADAM machine id to its configured name.
	counterMachines map[string]string

	mu           sync.Mutex
	lastLine     map[string]observed
	lastCounter  map[string]observed
	lastCycleEnd map[string]time.Time

	runMu   sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
	started time.Time

	now func() time.Time
}

// New validates deps and builds an acquisition chain per machine.
//
// Parameters:
//   - deps: Collaborators; see Deps for which are required
//
// Returns:
//   - *Gateway: Gateway ready for Start
//   - error: ErrInvalidDeps or a chain construction failure
func New(deps Deps) (*Gateway, error) {
	switch {
	case deps.Config == nil:
		return nil, fmt.Errorf("%w: config is required", ErrInvalidDeps)
	case deps.Logger == nil:
		return nil, fmt.Errorf("%w: logger is required", ErrInvalidDeps)
	case deps.Registry == nil:
		return nil, fmt.Errorf("%w: line registry is required", ErrInvalidDeps)
	case deps.Estimator == nil:
		return nil, fmt.Errorf("%w: estimator is required", ErrInvalidDeps)
	}

	cfg := deps.Config
	g := &Gateway{
		deps:            deps,
		gatewayID:       cfg.Gateway.ID,
		logger:          deps.Logger.With("component", "gateway"),
		interval:        cfg.GetSnapshotInterval(),
		health:          deps.HealthInterval,
		byID:            make(map[string]*machineInfo, len(cfg.Machines)),
		counterMachines: make(map[string]string, len(cfg.ADAM.Channels)),
		lastLine:        make(map[string]observed),
		lastCounter:     make(map[string]observed),
		lastCycleEnd:    make(map[string]time.Time),
		now:             time.Now,
	}
	g.adamWarn = logging.NewThrottled(g.logger, adamErrorLogInterval, 1)
	if g.health <= 0 {
		g.health = DefaultHealthInterval
	}
	if g.interval <= 0 {
		g.interval = DefaultSnapshotInterval
	}

	for _, mc := range cfg.Machines {
		m := &machineInfo{id: mc.ID, name: mc.Name}
		if agent, ok := deps.Agents[mc.ID]; ok && agent != nil {
			m.agent = agent
		}
		chain, err := buildChain(mc, deps.Registry, m.agent)
		if err != nil {
			return nil, err
		}
		chain.SetLogger(g.logger)
		m.chain = chain
		g.machines = append(g.machines, m)
		g.byID[mc.ID] = m
	}

	if cfg.ADAM.Enabled {
		for _, ch := range cfg.ADAM.Channels {
			name := ch.Name
			if name == "" {
				name = ch.MachineID
			}
			g.counterMachines[ch.MachineID] = name
		}
	}

	return g, nil
}

// buildChain creates the line-then-agent chain for one machine.
func buildChain(mc config.MachineConfig, source acquire.StateSource, agent AgentProcess) (*acquire.Chain, error) {
	strategies := []acquire.Strategy{acquire.NewLineStrategy(mc.ID, source)}

	if mc.Agent.URL != "" {
		acfg := acquire.AgentConfig{
			MachineID:    mc.ID,
			URL:          mc.Agent.URL,
			AllowedItems: mc.AllowedItems,
			Transform:    shdr.ProgramTransform(mc.ProgramSource),
		}
		if agent != nil {
			acfg.Process = agent
		}
		as, err := acquire.NewAgentStrategy(acfg)
		if err != nil {
			return nil, fmt.Errorf("machine %s: %w", mc.ID, err)
		}
		strategies = append(strategies, as)
	}

	return acquire.NewChain(mc.ID, strategies...)
}

// Start wires callbacks, launches helper agents, connects the line clients
// and starts the snapshot and health loops.
//
// Start returns once the initial line connection attempts have finished;
// failed devices keep retrying in the background.
func (g *Gateway) Start(ctx context.Context) error {
	g.runMu.Lock()
	if g.cancel != nil {
		g.runMu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	g.ctx = runCtx
	g.cancel = cancel
	g.started = g.now()
	g.runMu.Unlock()

	g.deps.Registry.SetOnEvent(g.handleLineEvent)

	if g.deps.Uplink != nil {
		g.deps.Uplink.SetOnFlush(g.handleFlush)
	}

	if g.deps.Publisher != nil {
		if err := g.deps.Publisher.SubscribeCommands(g.handleCommand); err != nil {
			g.logger.Warn("subscribing to machine commands failed", "error", err)
		}
	}

	for _, m := range g.machines {
		if m.agent == nil {
			continue
		}
		if err := m.agent.Start(runCtx); err != nil {
			g.logger.Warn("starting helper agent failed", "machine_id", m.id, "error", err)
		}
	}

	if p := g.deps.Counters; p != nil {
		p.SetOnReadings(g.handleReadings)
		p.SetOnError(g.handleCounterError)
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			p.Run(runCtx) //nolint:errcheck // returns nil on cancellation
		}()
	}

	g.deps.Registry.Start(runCtx)

	g.wg.Add(2)
	go g.loop(runCtx, g.interval, g.forwardSnapshots)
	go g.loop(runCtx, g.health, g.reportHealth)

	g.logger.Info("gateway started",
		"machines", len(g.machines),
		"counter_machines", len(g.counterMachines),
		"snapshot_interval", g.interval,
	)
	return nil
}

func (g *Gateway) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer g.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Stop cancels the loops, stops helper agents and closes the line clients.
// The uplink, MQTT and InfluxDB clients are left to their owners. Stop is
// idempotent.
func (g *Gateway) Stop() {
	g.runMu.Lock()
	cancel := g.cancel
	if cancel == nil || g.stopped {
		g.runMu.Unlock()
		return
	}
	g.stopped = true
	g.runMu.Unlock()

	cancel()
	g.wg.Wait()

	for _, m := range g.machines {
		if m.agent == nil || !m.agent.IsRunning() {
			continue
		}
		if err := m.agent.Stop(); err != nil {
			g.logger.Warn("stopping helper agent failed", "machine_id", m.id, "error", err)
		}
	}

	if err := g.deps.Registry.Close(); err != nil {
		g.logger.Warn("closing line registry failed", "error", err)
	}
	g.logger.Info("gateway stopped")
}

// runContext returns the context of the running gateway, or Background
// before Start.
func (g *Gateway) runContext() context.Context {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	if g.ctx == nil {
		return context.Background()
	}
	return g.ctx
}

// broadcast sends to the WebSocket hub when one is configured.
func (g *Gateway) broadcast(channel string, payload any) {
	if g.deps.Hub != nil {
		g.deps.Hub.Broadcast(channel, payload)
	}
}

// recordSample stores s, logging but not propagating failures.
func (g *Gateway) recordSample(s production.Sample) {
	if g.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(g.runContext(), storeTimeout)
	defer cancel()
	if err := g.deps.Store.RecordSample(ctx, s); err != nil {
		g.logger.Warn("recording sample failed", "machine_id", s.MachineID, "source", s.Source, "error", err)
	}
}

// submit hands a record to the uplink, counting rejections.
func (g *Gateway) submit(rec uplink.Record) {
	if g.deps.Uplink == nil {
		return
	}
	if err := g.deps.Uplink.Submit(rec); err != nil {
		g.deps.Metrics.UplinkRejected()
		g.logger.Warn("uplink rejected record", "machine_id", rec.MachineID, "error", err)
	}
}
