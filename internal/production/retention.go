package production

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRetentionSchedule prunes once a day at 03:00.
const DefaultRetentionSchedule = "0 3 * * *"

const pruneTimeout = 2 * time.Minute

// Pruner deletes records older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// Retention prunes old samples and cycles on a cron schedule.
type Retention struct {
	pruner Pruner
	keep   time.Duration
	cron   *cron.Cron
	logger Logger
	now    func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	pruned  int64
}

// NewRetention creates a retention job that keeps the given duration of
// history. An empty schedule uses DefaultRetentionSchedule.
//
// Returns:
//   - *Retention: Job ready for Start
//   - error: ErrInvalidSchedule if the expression does not parse
func NewRetention(pruner Pruner, schedule string, keep time.Duration, logger Logger) (*Retention, error) {
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}
	if logger == nil {
		logger = noopLogger{}
	}

	r := &Retention{
		pruner: pruner,
		keep:   keep,
		cron:   cron.New(),
		logger: logger,
		now:    time.Now,
	}
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, schedule, err)
	}
	return r, nil
}

// Start begins running the schedule in the background.
func (r *Retention) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running prune to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}

// RunNow prunes immediately.
//
// Returns:
//   - int64: Rows deleted
//   - error: Error from the pruner
func (r *Retention) RunNow(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.keep)
	n, err := r.pruner.Prune(ctx, cutoff)

	r.mu.Lock()
	r.lastRun = r.now()
	r.pruned += n
	r.mu.Unlock()

	if err != nil {
		return n, err
	}
	r.logger.Info("retention prune complete", "deleted", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	return n, nil
}

// LastRun returns when the job last ran and the total rows it has deleted.
func (r *Retention) LastRun() (time.Time, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun, r.pruned
}

func (r *Retention) run() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()

	if _, err := r.RunNow(ctx); err != nil {
		r.logger.Error("retention prune failed", "error", err)
	}
}
