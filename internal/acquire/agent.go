package acquire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/bridges/shdr"
)

// Agent defaults.
const (
	DefaultAgentPath    = "/current"
	DefaultAgentTimeout = 5 * time.Second

	maxAgentBody = 1 << 20
)

// ProcessState reports whether a supervised helper is up.
// It is satisfied by *process.Manager.
type ProcessState interface {
	IsRunning() bool
}

// AgentConfig configures an AgentStrategy.
type AgentConfig struct {
	MachineID string

	// URL is the agent base URL, for example http://127.0.0.1:5000.
	URL string

	// Path defaults to /current.
	Path string

	Timeout time.Duration

	// AllowedItems filters records like the line client does. Empty allows all.
	AllowedItems []string

	// Transform post-processes records. Nil means shdr.Identity.
	Transform shdr.Transform

	// Process, when set, short-circuits attempts while the helper is down.
	Process ProcessState

	HTTPClient *http.Client
}

// AgentStrategy reads a helper agent's HTTP endpoint and parses the last
// data line in its response.
type AgentStrategy struct {
	cfg     AgentConfig
	client  *http.Client
	allowed map[string]bool
	now     func() time.Time
}

// NewAgentStrategy creates an agent strategy.
//
// Returns:
//   - *AgentStrategy: Strategy ready for Attempt
//   - error: ErrInvalidConfig if the machine id or URL is missing
func NewAgentStrategy(cfg AgentConfig) (*AgentStrategy, error) {
	if cfg.MachineID == "" || strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%w: agent requires machine id and url", ErrInvalidConfig)
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Path == "" {
		cfg.Path = DefaultAgentPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAgentTimeout
	}
	if cfg.Transform == nil {
		cfg.Transform = shdr.Identity
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	var allowed map[string]bool
	if len(cfg.AllowedItems) > 0 {
		allowed = make(map[string]bool, len(cfg.AllowedItems))
		for _, item := range cfg.AllowedItems {
			allowed[item] = true
		}
	}

	return &AgentStrategy{cfg: cfg, client: client, allowed: allowed, now: time.Now}, nil
}

// Name returns "agent".
func (s *AgentStrategy) Name() string { return "agent" }

// Attempt fetches the agent's current data once.
func (s *AgentStrategy) Attempt(ctx context.Context) (Result, error) {
	if s.cfg.Process != nil && !s.cfg.Process.IsRunning() {
		return Result{}, fmt.Errorf("%w: agent for %s is not running", ErrUnavailable, s.cfg.MachineID)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL+s.cfg.Path, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Result{}, fmt.Errorf("%w: agent returned HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAgentBody))
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading agent response: %w", ErrUnavailable, err)
	}

	line, ok := shdr.LastDataLine(string(body))
	if !ok {
		return Result{}, fmt.Errorf("%w: no data line from agent for %s", ErrNoData, s.cfg.MachineID)
	}

	now := s.now()
	records, err := shdr.ParseLine(s.cfg.MachineID, line, now)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrNoData, err)
	}

	snap := make(shdr.Snapshot, len(records))
	for _, rec := range records {
		for _, out := range s.cfg.Transform(rec) {
			if s.allowed != nil && !s.allowed[out.Item] {
				continue
			}
			snap[out.Item] = out
		}
	}
	if len(snap) == 0 {
		return Result{}, fmt.Errorf("%w: agent line for %s had no allowed items", ErrNoData, s.cfg.MachineID)
	}

	return Result{
		MachineID: s.cfg.MachineID,
		Strategy:  s.Name(),
		State:     shdr.StateFromSnapshot(s.cfg.MachineID, snap, true),
		At:        now,
	}, nil
}

var _ Strategy = (*AgentStrategy)(nil)
