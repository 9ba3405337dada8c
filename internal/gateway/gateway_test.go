package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/bridges/adam"
	"github.com/nerrad567/gray-logic-gateway/internal/bridges/shdr"
	"github.com/nerrad567/gray-logic-gateway/internal/cycletime"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gateway/internal/process"
	"github.com/nerrad567/gray-logic-gateway/internal/production"
	"github.com/nerrad567/gray-logic-gateway/internal/uplink"
)

// --- fakes -------------------------------------------------------------

type fakeRegistry struct {
	mu        sync.Mutex
	states    map[string]shdr.MachineState
	connected map[string]bool
	restarts  []string
	started   bool
	closed    bool
	onEvent   func(shdr.Event)
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		states:    make(map[string]shdr.MachineState),
		connected: make(map[string]bool),
	}
}

func (r *fakeRegistry) set(state shdr.MachineState) {
	r.mu.Lock()
	r.states[state.DeviceID] = state
	r.connected[state.DeviceID] = state.Connected
	r.mu.Unlock()
}

func (r *fakeRegistry) ConnectionState(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected[id]
}

func (r *fakeRegistry) MachineState(id string) (shdr.MachineState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[id]
	return s, ok
}

func (r *fakeRegistry) Devices() []string { return nil }

func (r *fakeRegistry) AllConnectionStates() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.connected))
	for k, v := range r.connected {
		out[k] = v
	}
	return out
}

func (r *fakeRegistry) ConnectedCount() int {
	n := 0
	for _, c := range r.AllConnectionStates() {
		if c {
			n++
		}
	}
	return n
}

func (r *fakeRegistry) SetOnEvent(handler func(shdr.Event)) {
	r.mu.Lock()
	r.onEvent = handler
	r.mu.Unlock()
}

func (r *fakeRegistry) Start(context.Context) {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
}

func (r *fakeRegistry) Restart(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connected[id]; !ok {
		return fmt.Errorf("%w: %s", shdr.ErrUnknownDevice, id)
	}
	r.restarts = append(r.restarts, id)
	return nil
}

func (r *fakeRegistry) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

type fakePoller struct {
	latest []adam.CounterReading
	online bool
}

func (p *fakePoller) SetOnReadings(func([]adam.CounterReading)) {}
func (p *fakePoller) SetOnError(func(error))                    {}
func (p *fakePoller) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
func (p *fakePoller) Latest() ([]adam.CounterReading, time.Time) { return p.latest, time.Time{} }
func (p *fakePoller) IsOnline() bool                             { return p.online }

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	states    []string
	counters  []string
	cycles    []production.Cycle
	health    []mqtt.HealthMessage
	handler   mqtt.CommandHandler
}

func (p *fakePublisher) PublishMachineState(id string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, id)
	return nil
}

func (p *fakePublisher) PublishCounter(id string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters = append(p.counters, id)
	return nil
}

func (p *fakePublisher) PublishCycle(_ string, cycle any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cycles = append(p.cycles, cycle.(production.Cycle))
	return nil
}

func (p *fakePublisher) PublishHealth(msg mqtt.HealthMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health = append(p.health, msg)
	return nil
}

func (p *fakePublisher) SubscribeCommands(handler mqtt.CommandHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
	return nil
}

func (p *fakePublisher) IsConnected() bool { return p.connected }

type fakeSeries struct {
	mu        sync.Mutex
	connected bool
	writes    map[string]int
}

func newFakeSeries() *fakeSeries {
	return &fakeSeries{connected: true, writes: make(map[string]int)}
}

func (s *fakeSeries) inc(name string) {
	s.mu.Lock()
	s.writes[name]++
	s.mu.Unlock()
}

func (s *fakeSeries) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[name]
}

func (s *fakeSeries) WriteCounter(string, int, uint64, time.Time) { s.inc("counter") }
func (s *fakeSeries) WriteEstimate(string, *float64, string, string, bool, time.Time) {
	s.inc("estimate")
}
func (s *fakeSeries) WriteMachineState(string, string, string, *int64, time.Time) { s.inc("state") }
func (s *fakeSeries) WriteCycle(string, time.Time, time.Time, float64)           { s.inc("cycle") }
func (s *fakeSeries) WriteOEE(string, float64, float64, float64, float64, time.Time) {
	s.inc("oee")
}
func (s *fakeSeries) IsConnected() bool { return s.connected }

type fakeUplink struct {
	mu      sync.Mutex
	records []uplink.Record
	status  uplink.Status
	err     error
	onFlush func(uplink.FlushResult)
}

func (u *fakeUplink) Submit(rec uplink.Record) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.records = append(u.records, rec)
	return nil
}

func (u *fakeUplink) SetOnFlush(cb func(uplink.FlushResult)) { u.onFlush = cb }
func (u *fakeUplink) Status() uplink.Status                  { return u.status }
func (u *fakeUplink) IsOnline() bool                         { return u.status.IsOnline }

func (u *fakeUplink) submitted() []uplink.Record {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]uplink.Record, len(u.records))
	copy(out, u.records)
	return out
}

type broadcast struct {
	channel string
	payload any
}

type fakeHub struct {
	mu   sync.Mutex
	sent []broadcast
}

func (h *fakeHub) Broadcast(channel string, payload any) {
	h.mu.Lock()
	h.sent = append(h.sent, broadcast{channel, payload})
	h.mu.Unlock()
}

func (h *fakeHub) on(channel string) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []any
	for _, b := range h.sent {
		if b.channel == channel {
			out = append(out, b.payload)
		}
	}
	return out
}

type fakeStore struct {
	mu      sync.Mutex
	samples []production.Sample
	cycles  []production.Cycle
}

func (s *fakeStore) RecordSample(_ context.Context, smp production.Sample) error {
	s.mu.Lock()
	s.samples = append(s.samples, smp)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) ListCycles(context.Context, string, time.Time, time.Time) ([]production.Cycle, error) {
	return s.cycles, nil
}

func (s *fakeStore) recorded() []production.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]production.Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

type fakeAnalyzer struct {
	result production.Result
}

func (a *fakeAnalyzer) Analyze(_ context.Context, id string, from, to time.Time) (production.Result, error) {
	res := a.result
	res.MachineID, res.From, res.To = id, from, to
	return res, nil
}

type fakeAgent struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
}

func (a *fakeAgent) Start(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = true
	a.starts++
	return nil
}

func (a *fakeAgent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	a.stops++
	return nil
}

func (a *fakeAgent) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *fakeAgent) PID() int          { return 4242 }
func (a *fakeAgent) RestartCount() int { return 0 }
func (a *fakeAgent) Status() process.Status {
	if a.IsRunning() {
		return process.StatusRunning
	}
	return process.StatusStopped
}

type fakeDB struct{ err error }

func (d fakeDB) HealthCheck(context.Context) error { return d.err }

// --- helpers -----------------------------------------------------------

type harness struct {
	gw       *Gateway
	registry *fakeRegistry
	poller   *fakePoller
	pub      *fakePublisher
	series   *fakeSeries
	up       *fakeUplink
	hub      *fakeHub
	store    *fakeStore
}

func testConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{ID: "edge-test", SnapshotInterval: 10},
		Machines: []config.MachineConfig{
			{ID: "M01", Name: "Lathe 1", Host: "10.0.0.5", Port: 7878, ProgramSource: "program"},
		},
		ADAM: config.ADAMConfig{
			Enabled:  true,
			Channels: []config.ChannelConfig{{Channel: 0, MachineID: "SR-22", Name: "Swiss 22", Mode: "counter"}},
		},
	}
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()

	h := &harness{
		registry: newFakeRegistry(),
		poller:   &fakePoller{online: true},
		pub:      &fakePublisher{connected: true},
		series:   newFakeSeries(),
		up:       &fakeUplink{status: uplink.Status{IsOnline: true}},
		hub:      &fakeHub{},
		store:    &fakeStore{},
	}
	h.registry.connected["M01"] = false

	deps := Deps{
		Config:    testConfig(),
		Logger:    logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard),
		Registry:  h.registry,
		Estimator: cycletime.New(cycletime.Config{}),
		Counters:  h.poller,
		Publisher: h.pub,
		Series:    h.series,
		Uplink:    h.up,
		Hub:       h.hub,
		Store:     h.store,
		Version:   "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	gw, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.gw = gw
	return h
}

func int64p(v int64) *int64 { return &v }

// --- tests -------------------------------------------------------------

func TestNew_RequiresDeps(t *testing.T) {
	base := func() Deps {
		return Deps{
			Config:    testConfig(),
			Logger:    logging.Default(),
			Registry:  newFakeRegistry(),
			Estimator: cycletime.New(cycletime.Config{}),
		}
	}

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"missing config", func(d *Deps) { d.Config = nil }},
		{"missing logger", func(d *Deps) { d.Logger = nil }},
		{"missing registry", func(d *Deps) { d.Registry = nil }},
		{"missing estimator", func(d *Deps) { d.Estimator = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base()
			tt.mutate(&d)
			if _, err := New(d); !errors.Is(err, ErrInvalidDeps) {
				t.Errorf("New() error = %v, want ErrInvalidDeps", err)
			}
		})
	}

	if _, err := New(base()); err != nil {
		t.Errorf("New() with all required deps error = %v", err)
	}
}

func TestLineEvent_SamplesOnChange(t *testing.T) {
	h := newHarness(t, nil)
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	h.registry.set(shdr.MachineState{
		DeviceID: "M01", Connected: true, Execution: "ACTIVE", PartCount: int64p(10), LastUpdate: at,
	})
	rec := shdr.Event{Type: shdr.EventRecord, DeviceID: "M01", Time: at}
	h.gw.handleLineEvent(rec)
	h.gw.handleLineEvent(rec)

	if got := len(h.store.recorded()); got != 1 {
		t.Fatalf("samples after unchanged record = %d, want 1", got)
	}

	h.registry.set(shdr.MachineState{
		DeviceID: "M01", Connected: true, Execution: "ACTIVE", PartCount: int64p(11), LastUpdate: at.Add(time.Minute),
	})
	rec.Time = at.Add(time.Minute)
	h.gw.handleLineEvent(rec)

	samples := h.store.recorded()
	if len(samples) != 2 {
		t.Fatalf("samples = %d, want 2", len(samples))
	}
	last := samples[1]
	if last.Source != production.SourceLine || last.PartCount == nil || *last.PartCount != 11 {
		t.Errorf("sample = %+v, want line source with count 11", last)
	}

	if got := len(h.pub.states); got != 2 {
		t.Errorf("published states = %d, want 2", got)
	}
	if got := h.series.count("state"); got != 2 {
		t.Errorf("state writes = %d, want 2", got)
	}
	if got := len(h.hub.on(api.ChannelMachineState)); got != 2 {
		t.Errorf("state broadcasts = %d, want 2", got)
	}

	st, ok := h.gw.deps.Estimator.Stats("M01")
	if !ok || st.Entries != 1 {
		t.Errorf("estimator entries = %d (tracked %v), want 1", st.Entries, ok)
	}
}

func TestLineEvent_ConnectionChanges(t *testing.T) {
	h := newHarness(t, nil)

	// No data yet: nothing to publish.
	h.gw.handleLineEvent(shdr.Event{Type: shdr.EventConnected, DeviceID: "M01"})
	if got := len(h.pub.states); got != 0 {
		t.Errorf("published states without data = %d, want 0", got)
	}

	h.registry.set(shdr.MachineState{DeviceID: "M01", Connected: false, Execution: "UNAVAILABLE"})
	h.gw.handleLineEvent(shdr.Event{Type: shdr.EventDisconnected, DeviceID: "M01", Err: errors.New("eof")})
	if got := len(h.pub.states); got != 1 {
		t.Errorf("published states after disconnect = %d, want 1", got)
	}
}

func TestHandleReadings(t *testing.T) {
	h := newHarness(t, nil)
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	h.gw.now = func() time.Time { return at }

	h.gw.handleReadings([]adam.CounterReading{
		{Channel: 0, MachineID: "SR-22", MachineName: "SR-22", Mode: adam.ModeCounter, Count: 5, Present: true, Timestamp: at},
		{Channel: 7, Present: true, Timestamp: at},
	})

	recs := h.up.submitted()
	if len(recs) != 1 {
		t.Fatalf("uplink records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.MachineName != "Swiss 22" {
		t.Errorf("MachineName = %q, want configured name %q", rec.MachineName, "Swiss 22")
	}

	tests := []struct {
		field string
		want  any
	}{
		{"partCount", uint64(5)},
		{"channel", 0},
		{"executionStatus", production.ExecutionReady},
		{"machineStatus", "IDLE"},
		{"isAnomalous", false},
		{"idleTimeMinutes", 0},
	}
	for _, tt := range tests {
		if got := rec.Data[tt.field]; got != tt.want {
			t.Errorf("Data[%q] = %v (%T), want %v (%T)", tt.field, got, got, tt.want, tt.want)
		}
	}
	if _, ok := rec.Data["cycleTime"]; ok {
		t.Error("cycleTime should be absent without an estimate")
	}

	samples := h.store.recorded()
	if len(samples) != 1 || samples[0].Source != production.SourceADAM {
		t.Fatalf("samples = %+v, want one adam sample", samples)
	}
	if got := len(h.pub.counters); got != 1 {
		t.Errorf("published counters = %d, want 1", got)
	}
	if h.series.count("counter") != 1 || h.series.count("estimate") != 1 {
		t.Errorf("series writes = %v, want one counter and one estimate", h.series.writes)
	}
	if len(h.hub.on(api.ChannelCounter)) != 1 || len(h.hub.on(api.ChannelEstimate)) != 1 {
		t.Error("expected one counter and one estimate broadcast")
	}
}

func TestHandleReadings_EstimateBecomesActive(t *testing.T) {
	h := newHarness(t, nil)
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		at := start.Add(time.Duration(i) * 30 * time.Second)
		h.gw.now = func() time.Time { return at }
		h.gw.handleReadings([]adam.CounterReading{
			{Channel: 0, MachineID: "SR-22", Count: uint64(100 + i), Present: true, Timestamp: at},
		})
	}

	recs := h.up.submitted()
	last := recs[len(recs)-1]
	if got := last.Data["executionStatus"]; got != production.ExecutionActive {
		t.Errorf("executionStatus = %v, want %s", got, production.ExecutionActive)
	}
	if got, ok := last.Data["cycleTime"].(float64); !ok || got != 30 {
		t.Errorf("cycleTime = %v, want 30", last.Data["cycleTime"])
	}
	if got := len(h.store.recorded()); got != 3 {
		t.Errorf("samples = %d, want 3", got)
	}
}

func TestHandleReadings_DiscreteChannelIsPresence(t *testing.T) {
	h := newHarness(t, nil)
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	for i, present := range []bool{true, false, true, false} {
		at := start.Add(time.Duration(i) * 10 * time.Second)
		h.gw.now = func() time.Time { return at }
		var value uint64
		if present {
			value = 1
		}
		h.gw.handleReadings([]adam.CounterReading{
			{Channel: 0, MachineID: "SR-22", Mode: adam.ModeDiscrete, Count: value, Present: present, Timestamp: at},
		})
	}

	if _, ok := h.gw.deps.Estimator.Stats("SR-22"); ok {
		t.Error("discrete channel should not feed the estimator")
	}

	samples := h.store.recorded()
	if len(samples) != 4 {
		t.Fatalf("samples = %d, want 4", len(samples))
	}
	wantExec := []string{production.ExecutionActive, production.ExecutionReady, production.ExecutionActive, production.ExecutionReady}
	for i, smp := range samples {
		if smp.PartCount != nil {
			t.Errorf("samples[%d].PartCount = %d, want nil", i, *smp.PartCount)
		}
		if smp.ExecutionStatus != wantExec[i] {
			t.Errorf("samples[%d].ExecutionStatus = %q, want %q", i, smp.ExecutionStatus, wantExec[i])
		}
	}

	recs := h.up.submitted()
	if len(recs) != 4 {
		t.Fatalf("uplink records = %d, want 4", len(recs))
	}
	first := recs[0]
	if got := first.Data["present"]; got != true {
		t.Errorf("Data[present] = %v, want true", got)
	}
	if got := first.Data["machineStatus"]; got != "ACTIVE" {
		t.Errorf("Data[machineStatus] = %v, want ACTIVE", got)
	}
	if _, ok := first.Data["partCount"]; ok {
		t.Error("partCount should be absent for a presence channel")
	}

	if got := h.series.count("estimate"); got != 0 {
		t.Errorf("estimate writes = %d, want 0", got)
	}
	if got := len(h.hub.on(api.ChannelEstimate)); got != 0 {
		t.Errorf("estimate broadcasts = %d, want 0", got)
	}
	if got := len(h.hub.on(api.ChannelCounter)); got != 4 {
		t.Errorf("counter broadcasts = %d, want 4", got)
	}
}

func TestHandleCounterError_DiscreteChannelUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.poller.latest = []adam.CounterReading{{Channel: 0, MachineID: "SR-22", Mode: adam.ModeDiscrete, Count: 1, Present: true}}

	h.gw.handleCounterError(errors.New("connection refused"))

	recs := h.up.submitted()
	if len(recs) != 1 {
		t.Fatalf("uplink records = %d, want 1", len(recs))
	}
	if got := recs[0].Data["executionStatus"]; got != production.ExecutionUnavailable {
		t.Errorf("executionStatus = %v, want %s", got, production.ExecutionUnavailable)
	}
	if got := recs[0].Data["machineStatus"]; got != "OFFLINE" {
		t.Errorf("machineStatus = %v, want OFFLINE", got)
	}
	if _, ok := h.gw.deps.Estimator.Stats("SR-22"); ok {
		t.Error("discrete channel should not feed the estimator")
	}
}

func TestHandleCounterError_ReportsOffline(t *testing.T) {
	h := newHarness(t, nil)
	h.poller.latest = []adam.CounterReading{{Channel: 0, MachineID: "SR-22", Count: 9}}

	h.gw.handleCounterError(errors.New("connection refused"))

	recs := h.up.submitted()
	if len(recs) != 1 {
		t.Fatalf("uplink records = %d, want 1", len(recs))
	}
	if got := recs[0].Data["machineStatus"]; got != "OFFLINE" {
		t.Errorf("machineStatus = %v, want OFFLINE", got)
	}
	if got := recs[0].Data["executionStatus"]; got != production.ExecutionUnavailable {
		t.Errorf("executionStatus = %v, want %s", got, production.ExecutionUnavailable)
	}
}

func TestSubmit_QueueFullIsCounted(t *testing.T) {
	h := newHarness(t, nil)
	h.up.err = uplink.ErrQueueFull

	h.gw.handleReadings([]adam.CounterReading{{Channel: 0, MachineID: "SR-22", Count: 1, Timestamp: time.Now()}})

	if got := len(h.up.submitted()); got != 0 {
		t.Errorf("records = %d, want 0", got)
	}
	// The sample is still stored even though delivery was refused.
	if got := len(h.store.recorded()); got != 1 {
		t.Errorf("samples = %d, want 1", got)
	}
}

func TestSnapshotData(t *testing.T) {
	ms := 12345.0
	tests := []struct {
		name  string
		state shdr.MachineState
		est   cycletime.Estimate
		want  map[string]any
	}{
		{
			name:  "nothing known",
			state: shdr.MachineState{Execution: "UNAVAILABLE", Program: "UNAVAILABLE"},
			want:  nil,
		},
		{
			name:  "execution only",
			state: shdr.MachineState{Execution: "READY"},
			want:  map[string]any{"executionStatus": "READY"},
		},
		{
			name:  "full with estimate",
			state: shdr.MachineState{Execution: "ACTIVE", Program: "O1234", PartCount: int64p(7)},
			est:   cycletime.Estimate{CycleTimeMs: &ms, Confidence: cycletime.ConfidenceMedium, IdleTime: 3 * time.Minute},
			want: map[string]any{
				"executionStatus":     "ACTIVE",
				"program":             "O1234",
				"partCount":           int64(7),
				"cycleTime":           12.35,
				"cycleTimeConfidence": "medium",
				"idleTimeMinutes":     3,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := snapshotData(tt.state, tt.est)
			if tt.want == nil {
				if got != nil {
					t.Errorf("snapshotData() = %v, want nil", got)
				}
				return
			}
			if len(got) != len(tt.want) {
				t.Errorf("snapshotData() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("snapshotData()[%q] = %v (%T), want %v (%T)", k, got[k], got[k], v, v)
				}
			}
		})
	}
}

func TestForwardSnapshots_Line(t *testing.T) {
	h := newHarness(t, nil)
	h.registry.set(shdr.MachineState{
		DeviceID: "M01", Connected: true, Execution: "ACTIVE", Program: "O1234", PartCount: int64p(42),
	})

	h.gw.forwardSnapshots(context.Background())

	recs := h.up.submitted()
	if len(recs) != 1 {
		t.Fatalf("uplink records = %d, want 1", len(recs))
	}
	if recs[0].MachineName != "Lathe 1" || recs[0].Data["partCount"] != int64(42) {
		t.Errorf("record = %+v", recs[0])
	}

	events := h.hub.on(api.ChannelAcquisition)
	if len(events) != 1 || events[0].(AcquisitionEvent).Strategy != "line" {
		t.Errorf("acquisition events = %v, want one line event", events)
	}
	// Line state was already published as it arrived.
	if got := len(h.pub.states); got != 0 {
		t.Errorf("published states = %d, want 0", got)
	}
}

func TestForwardSnapshots_SkipsUnreachable(t *testing.T) {
	h := newHarness(t, nil)

	h.gw.forwardSnapshots(context.Background())

	if got := len(h.up.submitted()); got != 0 {
		t.Errorf("uplink records = %d, want 0", got)
	}
}

func TestForwardSnapshots_AgentFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "2026-03-02T08:00:05.000Z|avail|AVAILABLE|execution|ACTIVE|part_count|11|program|O0005\n")
	}))
	defer srv.Close()

	h := newHarness(t, func(d *Deps) {
		d.Config.Machines[0].Agent.URL = srv.URL
	})

	h.gw.forwardSnapshots(context.Background())

	recs := h.up.submitted()
	if len(recs) != 1 {
		t.Fatalf("uplink records = %d, want 1", len(recs))
	}
	if recs[0].Data["program"] != "O0005" || recs[0].Data["partCount"] != int64(11) {
		t.Errorf("record data = %v", recs[0].Data)
	}
	if got := len(h.pub.states); got != 1 {
		t.Errorf("published states = %d, want 1 for agent-sourced state", got)
	}

	view, err := h.gw.Machine("M01")
	if err != nil {
		t.Fatalf("Machine() error = %v", err)
	}
	if view.Strategy != "agent" {
		t.Errorf("Strategy = %q, want agent", view.Strategy)
	}
}

func TestRestartMachine(t *testing.T) {
	agent := &fakeAgent{}
	h := newHarness(t, func(d *Deps) {
		d.Agents = map[string]AgentProcess{"M01": agent}
	})

	if err := h.gw.RestartMachine(context.Background(), "NOPE"); !errors.Is(err, shdr.ErrUnknownDevice) {
		t.Errorf("RestartMachine(unknown) error = %v, want ErrUnknownDevice", err)
	}

	if err := h.gw.RestartMachine(context.Background(), "M01"); err != nil {
		t.Fatalf("RestartMachine() error = %v", err)
	}
	if len(h.registry.restarts) != 1 {
		t.Errorf("registry restarts = %v, want [M01]", h.registry.restarts)
	}
	if agent.starts != 1 {
		t.Errorf("agent starts = %d, want 1", agent.starts)
	}

	// A running agent is left alone.
	if err := h.gw.RestartMachine(context.Background(), "M01"); err != nil {
		t.Fatalf("RestartMachine() error = %v", err)
	}
	if agent.starts != 1 {
		t.Errorf("agent starts = %d, want 1", agent.starts)
	}
}

func TestStartStop(t *testing.T) {
	agent := &fakeAgent{}
	h := newHarness(t, func(d *Deps) {
		d.Agents = map[string]AgentProcess{"M01": agent}
	})

	if err := h.gw.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.gw.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	if !h.registry.started || h.registry.onEvent == nil {
		t.Error("registry should be started with an event handler")
	}
	if h.up.onFlush == nil {
		t.Error("uplink flush callback not wired")
	}
	if !agent.IsRunning() {
		t.Error("helper agent should be started")
	}

	if h.pub.handler == nil {
		t.Fatal("command handler not subscribed")
	}
	if err := h.pub.handler(mqtt.Command{MachineID: "M01", Action: mqtt.CommandRestart}); err != nil {
		t.Errorf("command handler error = %v", err)
	}
	if len(h.registry.restarts) != 1 {
		t.Errorf("registry restarts = %v, want [M01]", h.registry.restarts)
	}

	h.gw.Stop()
	if !h.registry.closed {
		t.Error("registry should be closed on Stop")
	}
	if agent.stops != 1 {
		t.Errorf("agent stops = %d, want 1", agent.stops)
	}

	h.gw.Stop()
	if agent.stops != 1 {
		t.Errorf("agent stops after second Stop = %d, want 1", agent.stops)
	}
}

func TestAnalyze_ForwardsFreshCycles(t *testing.T) {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	cycles := []production.Cycle{
		{MachineID: "M01", StartTime: start, EndTime: start.Add(time.Minute), DurationSeconds: 60},
		{MachineID: "M01", StartTime: start.Add(2 * time.Minute), EndTime: start.Add(3 * time.Minute), DurationSeconds: 60},
	}
	h := newHarness(t, func(d *Deps) {
		d.Analyzer = &fakeAnalyzer{result: production.Result{OEE: 50, Cycles: cycles}}
	})

	for i := 0; i < 2; i++ {
		res, err := h.gw.Analyze(context.Background(), "M01", start, start.Add(time.Hour))
		if err != nil {
			t.Fatalf("Analyze() error = %v", err)
		}
		if res.OEE != 50 {
			t.Errorf("OEE = %v, want 50", res.OEE)
		}
	}

	if got := len(h.pub.cycles); got != 2 {
		t.Errorf("published cycles = %d, want 2", got)
	}
	if got := h.series.count("cycle"); got != 2 {
		t.Errorf("cycle writes = %d, want 2", got)
	}
	if got := h.series.count("oee"); got != 2 {
		t.Errorf("oee writes = %d, want 2", got)
	}
	if got := len(h.hub.on(api.ChannelCycle)); got != 2 {
		t.Errorf("cycle broadcasts = %d, want 2", got)
	}
}

func TestAnalyze_NotConfigured(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.gw.Analyze(context.Background(), "M01", time.Now().Add(-time.Hour), time.Now()); !errors.Is(err, ErrNoAnalyzer) {
		t.Errorf("Analyze() error = %v, want ErrNoAnalyzer", err)
	}
}

func TestEstimate(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.gw.Estimate("SR-22"); !errors.Is(err, shdr.ErrUnknownDevice) {
		t.Errorf("Estimate(untracked) error = %v, want ErrUnknownDevice", err)
	}

	h.gw.handleReadings([]adam.CounterReading{{Channel: 0, MachineID: "SR-22", Count: 1, Timestamp: time.Now()}})

	est, err := h.gw.Estimate("SR-22")
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if est.Status != cycletime.StatusIdle {
		t.Errorf("Status = %q, want idle", est.Status)
	}

	h.poller.online = false
	if got := h.gw.Estimates(); len(got) != 1 || got[0].Status != cycletime.StatusOffline {
		t.Errorf("Estimates() = %+v, want one offline estimate", got)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*harness)
		want   string
	}{
		{
			name:   "all healthy",
			mutate: func(h *harness) { h.registry.connected["M01"] = true },
			want:   api.HealthOK,
		},
		{
			name: "uplink offline",
			mutate: func(h *harness) {
				h.registry.connected["M01"] = true
				h.up.status.IsOnline = false
			},
			want: api.HealthDegraded,
		},
		{
			name:   "no machine connected",
			mutate: func(*harness) {},
			want:   api.HealthDegraded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(d *Deps) { d.Database = fakeDB{} })
			tt.mutate(h)

			got := h.gw.Health(context.Background())
			if got.Status != tt.want {
				t.Errorf("Status = %q, want %q (components %+v)", got.Status, tt.want, got.Components)
			}
			if got.GatewayID != "edge-test" {
				t.Errorf("GatewayID = %q, want edge-test", got.GatewayID)
			}
			if c := got.Components[ComponentDatabase]; !c.Enabled || !c.Healthy {
				t.Errorf("database component = %+v, want enabled and healthy", c)
			}
		})
	}
}

func TestReportHealth(t *testing.T) {
	h := newHarness(t, nil)
	h.registry.connected["M01"] = true
	h.up.status = uplink.Status{IsOnline: true, BufferSize: 3}

	h.gw.reportHealth(context.Background())

	if len(h.pub.health) != 1 {
		t.Fatalf("health messages = %d, want 1", len(h.pub.health))
	}
	msg := h.pub.health[0]
	if !msg.Machines["M01"] || msg.UplinkPending != 3 || msg.ADAMOnline == nil || !*msg.ADAMOnline {
		t.Errorf("health message = %+v", msg)
	}
}

func TestHandleFlush(t *testing.T) {
	h := newHarness(t, nil)
	h.gw.handleFlush(uplink.FlushResult{BatchID: "b1", Records: 4, Duration: 25 * time.Millisecond, Err: errors.New("503")})

	events := h.hub.on(api.ChannelUplink)
	if len(events) != 1 {
		t.Fatalf("uplink broadcasts = %d, want 1", len(events))
	}
	ev := events[0].(FlushEvent)
	if ev.Records != 4 || ev.Error != "503" || ev.DurationMs != 25 {
		t.Errorf("FlushEvent = %+v", ev)
	}
}

type stubPruner struct {
	n   int64
	err error
}

func (p stubPruner) Prune(context.Context, time.Time) (int64, error) { return p.n, p.err }

func TestMeteredPruner(t *testing.T) {
	p := NewMeteredPruner(stubPruner{n: 3}, nil)
	n, err := p.Prune(context.Background(), time.Now())
	if err != nil || n != 3 {
		t.Errorf("Prune() = %d, %v, want 3, nil", n, err)
	}

	boom := errors.New("locked")
	p = NewMeteredPruner(stubPruner{err: boom}, nil)
	if _, err := p.Prune(context.Background(), time.Now()); !errors.Is(err, boom) {
		t.Errorf("Prune() error = %v, want %v", err, boom)
	}
}
