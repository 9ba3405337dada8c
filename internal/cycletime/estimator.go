package cycletime

import (
	"sort"
	"sync"
	"time"
)

// Defaults for the estimator.
const (
	// DefaultHistorySize bounds the change log per machine.
	DefaultHistorySize = 50

	// DefaultIdleTimeout is how long without a count change before a
	// producing machine reads as idle.
	DefaultIdleTimeout = 5 * time.Minute

	// DefaultAnomalyFactor flags a machine whose time since the last part
	// exceeds this multiple of its average cycle.
	DefaultAnomalyFactor = 3.0

	mediumConfidenceEntries = 3
	highConfidenceEntries   = 5
)

// Confidence is the reliability tier of an estimate.
type Confidence string

const (
	ConfidenceNone   Confidence = "none"
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ConfidenceFor returns the tier for a number of history entries.
func ConfidenceFor(entries int) Confidence {
	switch {
	case entries >= highConfidenceEntries:
		return ConfidenceHigh
	case entries >= mediumConfidenceEntries:
		return ConfidenceMedium
	case entries >= 2:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// MachineStatus is the derived production state.
type MachineStatus string

const (
	StatusActive  MachineStatus = "active"
	StatusIdle    MachineStatus = "idle"
	StatusOffline MachineStatus = "offline"
)

// Entry is one observed counter increase.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Count     uint64    `json:"count"`
	Delta     uint64    `json:"delta"`
}

// Estimate is the derived cycle-time view of one machine.
type Estimate struct {
	MachineID string `json:"machineId"`

	// CycleTimeMs is nil when no estimate is available.
	CycleTimeMs   *float64      `json:"cycleTimeMs,omitempty"`
	PartsInWindow uint64        `json:"partsInWindow"`
	WindowMs      int64         `json:"windowMs"`
	Entries       int           `json:"entries"`
	Confidence    Confidence    `json:"confidence"`
	IsAnomalous   bool          `json:"isAnomalous"`
	Status        MachineStatus `json:"status"`
	LastCount     uint64        `json:"lastCount"`
	LastChange    time.Time     `json:"lastChange"`
	IdleTime      time.Duration `json:"idleTime"`
}

// UpdateResult describes what an Update did.
type UpdateResult struct {
	// Seeded is true for the first observation of a machine.
	Seeded bool

	// Delta is the count increase, zero when unchanged or reset.
	Delta uint64

	// Reset is true when a decrease cleared the history.
	Reset bool
}

// Config holds estimator settings.
type Config struct {
	HistorySize   int
	IdleTimeout   time.Duration
	AnomalyFactor float64
}

// history is the per-machine change log.
//
// The baseline is the observation every entry is measured from: the first
// reading, the reading after a reset, or the entry most recently evicted
// from a full log.
type history struct {
	mu sync.Mutex

	baseline    Entry
	hasBaseline bool
	entries     []Entry
	lastCount   uint64
	lastChange  time.Time

	restoredIdle time.Duration
	hasRestored  bool

	updatesTotal uint64
	resetsTotal  uint64
}

// Estimator tracks part counters per machine and derives cycle time.
//
// Thread Safety:
//   - All methods are safe for concurrent use. State is partitioned per
//     machine; updates to different machines do not contend beyond the
//     machine lookup.
type Estimator struct {
	cfg Config

	mu       sync.RWMutex
	machines map[string]*history
}

// New creates an Estimator. Zero config values take defaults.
func New(cfg Config) *Estimator {
	if cfg.HistorySize < 2 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.AnomalyFactor <= 0 {
		cfg.AnomalyFactor = DefaultAnomalyFactor
	}
	return &Estimator{cfg: cfg, machines: make(map[string]*history)}
}

func (e *Estimator) get(machineID string) *history {
	e.mu.RLock()
	h := e.machines[machineID]
	e.mu.RUnlock()
	return h
}

func (e *Estimator) getOrCreate(machineID string) *history {
	if h := e.get(machineID); h != nil {
		return h
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if h := e.machines[machineID]; h != nil {
		return h
	}
	h := &history{}
	e.machines[machineID] = h
	return h
}

// Update records a counter reading taken at the given time.
//
// The first reading seeds the machine without a history entry. An increase
// appends an entry, evicting the oldest when the log is full. A decrease
// clears the log and re-seeds from the new count. An equal reading is a
// no-op.
func (e *Estimator) Update(machineID string, count uint64, at time.Time) UpdateResult {
	h := e.getOrCreate(machineID)
	h.mu.Lock()
	defer h.mu.Unlock()

	h.updatesTotal++

	if !h.hasBaseline {
		h.baseline = Entry{Timestamp: at, Count: count}
		h.lastCount = count
		h.lastChange = at
		h.hasBaseline = true
		return UpdateResult{Seeded: true}
	}

	switch {
	case count > h.lastCount:
		delta := count - h.lastCount
		h.entries = append(h.entries, Entry{Timestamp: at, Count: count, Delta: delta})
		if len(h.entries) > e.cfg.HistorySize {
			h.baseline = h.entries[0]
			h.entries = append(h.entries[:0:0], h.entries[1:]...)
		}
		h.lastCount = count
		h.lastChange = at
		return UpdateResult{Delta: delta}

	case count < h.lastCount:
		h.entries = nil
		h.baseline = Entry{Timestamp: at, Count: count}
		h.lastCount = count
		h.lastChange = at
		h.resetsTotal++
		return UpdateResult{Reset: true}

	default:
		return UpdateResult{}
	}
}

// Estimate returns the cycle-time estimate without status derivation.
// Unknown machines and machines with fewer than two entries report
// ConfidenceNone.
func (e *Estimator) Estimate(machineID string) Estimate {
	est := Estimate{MachineID: machineID, Confidence: ConfidenceNone}
	h := e.get(machineID)
	if h == nil {
		return est
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.estimate(machineID)
}

func (h *history) estimate(machineID string) Estimate {
	est := Estimate{
		MachineID:  machineID,
		Confidence: ConfidenceNone,
		Entries:    len(h.entries),
		LastCount:  h.lastCount,
		LastChange: h.lastChange,
	}
	if len(h.entries) < 2 {
		return est
	}

	last := h.entries[len(h.entries)-1]
	totalMs := last.Timestamp.Sub(h.baseline.Timestamp).Milliseconds()
	if totalMs <= 0 || last.Count <= h.baseline.Count {
		return est
	}
	parts := last.Count - h.baseline.Count

	avg := float64(totalMs) / float64(parts)
	est.CycleTimeMs = &avg
	est.PartsInWindow = parts
	est.WindowMs = totalMs
	est.Confidence = ConfidenceFor(len(h.entries))
	return est
}

// Evaluate returns the estimate with status, anomaly and idle time derived
// for the given reachability and time.
func (e *Estimator) Evaluate(machineID string, reachable bool, now time.Time) Estimate {
	h := e.get(machineID)
	if h == nil {
		est := Estimate{MachineID: machineID, Confidence: ConfidenceNone}
		est.Status = DeriveStatus(est, reachable, now, e.cfg.IdleTimeout)
		return est
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	est := h.estimate(machineID)
	est.Status = DeriveStatus(est, reachable, now, e.cfg.IdleTimeout)
	est.IsAnomalous = isAnomalous(est, now, e.cfg.AnomalyFactor)

	if est.Status == StatusIdle {
		est.IdleTime = now.Sub(h.lastChange)
		if est.IdleTime < 0 {
			est.IdleTime = 0
		}
		if h.hasRestored {
			est.IdleTime += h.restoredIdle
		}
	} else if est.Status == StatusActive && h.hasRestored {
		// Production resumed; the carried-over idle time no longer applies.
		h.hasRestored = false
		h.restoredIdle = 0
	}
	return est
}

// DeriveStatus maps an estimate to a machine status.
//
// An unreachable device is offline. A machine with no estimate, or whose
// last count change is older than idleTimeout, is idle. Otherwise it is
// active.
func DeriveStatus(est Estimate, reachable bool, now time.Time, idleTimeout time.Duration) MachineStatus {
	if !reachable {
		return StatusOffline
	}
	if est.CycleTimeMs == nil || est.LastChange.IsZero() {
		return StatusIdle
	}
	if now.Sub(est.LastChange) > idleTimeout {
		return StatusIdle
	}
	return StatusActive
}

// isAnomalous reports an active machine overdue for its next part.
func isAnomalous(est Estimate, now time.Time, factor float64) bool {
	if est.Status != StatusActive || est.CycleTimeMs == nil {
		return false
	}
	since := float64(now.Sub(est.LastChange).Milliseconds())
	return since > factor*(*est.CycleTimeMs)
}

// RestoreIdleTime carries idle time accumulated before a restart. It is
// added to the reported idle time until the machine is next active.
func (e *Estimator) RestoreIdleTime(machineID string, d time.Duration) {
	h := e.getOrCreate(machineID)
	h.mu.Lock()
	h.restoredIdle = d
	h.hasRestored = d > 0
	h.mu.Unlock()
}

// History returns a copy of the machine's change log.
func (e *Estimator) History(machineID string) []Entry {
	h := e.get(machineID)
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Reset forgets a machine entirely. The next Update seeds it again.
func (e *Estimator) Reset(machineID string) {
	e.mu.Lock()
	delete(e.machines, machineID)
	e.mu.Unlock()
}

// Machines returns the tracked machine ids in sorted order.
func (e *Estimator) Machines() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.machines))
	for id := range e.machines {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stats holds per-machine counters.
type Stats struct {
	Updates uint64 `json:"updates"`
	Resets  uint64 `json:"resets"`
	Entries int    `json:"entries"`
}

// Stats returns counters for one machine.
func (e *Estimator) Stats(machineID string) (Stats, bool) {
	h := e.get(machineID)
	if h == nil {
		return Stats{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Updates: h.updatesTotal, Resets: h.resetsTotal, Entries: len(h.entries)}, true
}
