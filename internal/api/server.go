package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/bridges/adam"
	"github.com/nerrad567/gray-logic-gateway/internal/bridges/shdr"
	"github.com/nerrad567/gray-logic-gateway/internal/cycletime"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/production"
	"github.com/nerrad567/gray-logic-gateway/internal/uplink"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ComponentHealth is the state of one gateway subsystem.
type ComponentHealth struct {
	Enabled bool   `json:"enabled"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Health is the gateway health report.
type Health struct {
	Status     string                     `json:"status"`
	GatewayID  string                     `json:"gatewayId"`
	Version    string                     `json:"version"`
	Uptime     float64                    `json:"uptimeSeconds"`
	Components map[string]ComponentHealth `json:"components"`
}

// Health status values.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// MachineView is a machine as reported by the API.
type MachineView struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Connected bool               `json:"connected"`
	Strategy  string             `json:"strategy,omitempty"`
	State     *shdr.MachineState `json:"state,omitempty"`
	Agent     *AgentView         `json:"agent,omitempty"`
}

// AgentView describes a supervised helper agent.
type AgentView struct {
	Running  bool   `json:"running"`
	PID      int    `json:"pid,omitempty"`
	Restarts int    `json:"restarts"`
	Status   string `json:"status"`
}

// Provider supplies everything the API reports. Unknown machines are
// reported with errors wrapping shdr.ErrUnknownDevice.
type Provider interface {
	Machines() []MachineView
	Machine(id string) (MachineView, error)
	RestartMachine(ctx context.Context, id string) error

	Counters() []adam.CounterReading
	Estimates() []cycletime.Estimate
	Estimate(id string) (cycletime.Estimate, error)

	Cycles(ctx context.Context, id string, from, to time.Time) ([]production.Cycle, error)
	Analyze(ctx context.Context, id string, from, to time.Time) (production.Result, error)

	UplinkStatus() uplink.Status
	Health(ctx context.Context) Health
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Provider Provider

	// Hub, if set, is used instead of creating one. The orchestrator
	// publishes into it.
	Hub *Hub

	// Metrics serves /metrics when set.
	Metrics http.Handler

	Version string
}

// Server is the HTTP API server for the gateway.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	provider Provider
	metrics  http.Handler
	version  string
	started  time.Time

	hub         *Hub
	externalHub bool

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// Parameters:
//   - deps: Required dependencies (logger, provider)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		provider: deps.Provider,
		metrics:  deps.Metrics,
		version:  deps.Version,
		started:  time.Now(),
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the full router. Start uses it; tests call it directly.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// The listener is bound synchronously so a port conflict is returned
// here; serving continues in a background goroutine until Close.
//
// Parameters:
//   - ctx: Parent context for the hub and background goroutines
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		cancel()
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.listener = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	s.server = nil
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
