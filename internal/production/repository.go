package production

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SampleRepository stores machine samples and reconstructed cycles.
//
// Implementations must be safe for concurrent use.
type SampleRepository interface {
	// RecordSample persists one sample.
	RecordSample(ctx context.Context, s Sample) error

	// ListSamples returns the machine's samples in [from, to], oldest first.
	ListSamples(ctx context.Context, machineID string, from, to time.Time) ([]Sample, error)

	// LatestSample returns the newest sample for the machine, or nil if none exists.
	LatestSample(ctx context.Context, machineID string) (*Sample, error)

	// RecordCycles stores cycles, ignoring ones already recorded.
	RecordCycles(ctx context.Context, cycles []Cycle) error

	// ListCycles returns cycles that ended in [from, to], oldest first.
	ListCycles(ctx context.Context, machineID string, from, to time.Time) ([]Cycle, error)

	// Prune deletes samples and cycles older than the cutoff.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// SQLiteSampleRepository implements SampleRepository using SQLite.
//
// Timestamps are stored as Unix milliseconds so window queries compare
// integers and keep sub-second ordering.
type SQLiteSampleRepository struct {
	db *sql.DB
}

// NewSQLiteSampleRepository creates a repository over an open database
// with the production migrations applied.
func NewSQLiteSampleRepository(db *sql.DB) *SQLiteSampleRepository {
	return &SQLiteSampleRepository{db: db}
}

// RecordSample persists one sample. An empty source defaults to "line".
func (r *SQLiteSampleRepository) RecordSample(ctx context.Context, s Sample) error {
	if s.MachineID == "" {
		return ErrMachineIDRequired
	}
	if s.Source == "" {
		s.Source = SourceLine
	}

	var partCount sql.NullInt64
	if s.PartCount != nil {
		partCount = sql.NullInt64{Int64: *s.PartCount, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO production_samples (machine_id, ts_ms, execution_status, part_count, source)
		 VALUES (?, ?, ?, ?, ?)`,
		s.MachineID,
		s.Timestamp.UnixMilli(),
		s.ExecutionStatus,
		partCount,
		s.Source,
	)
	if err != nil {
		return fmt.Errorf("inserting sample: %w", err)
	}
	return nil
}

// ListSamples returns the machine's samples in [from, to], oldest first.
// Samples sharing a timestamp keep insertion order.
func (r *SQLiteSampleRepository) ListSamples(ctx context.Context, machineID string, from, to time.Time) ([]Sample, error) {
	if machineID == "" {
		return nil, ErrMachineIDRequired
	}
	if to.Before(from) {
		return nil, ErrInvalidWindow
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT machine_id, ts_ms, execution_status, part_count, source
		 FROM production_samples
		 WHERE machine_id = ? AND ts_ms >= ? AND ts_ms <= ?
		 ORDER BY ts_ms ASC, id ASC`,
		machineID,
		from.UnixMilli(),
		to.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	samples := make([]Sample, 0)
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating samples: %w", err)
	}
	return samples, nil
}

// LatestSample returns the newest sample for the machine, or nil if none exists.
func (r *SQLiteSampleRepository) LatestSample(ctx context.Context, machineID string) (*Sample, error) {
	if machineID == "" {
		return nil, ErrMachineIDRequired
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT machine_id, ts_ms, execution_status, part_count, source
		 FROM production_samples
		 WHERE machine_id = ?
		 ORDER BY ts_ms DESC, id DESC
		 LIMIT 1`,
		machineID,
	)
	s, err := scanSample(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// RecordCycles stores cycles in one transaction. A cycle already stored for
// the same machine and start time is left unchanged.
func (r *SQLiteSampleRepository) RecordCycles(ctx context.Context, cycles []Cycle) error {
	if len(cycles) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO production_cycles (machine_id, start_ms, end_ms, duration_seconds)
		 VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing cycle insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range cycles {
		if c.MachineID == "" {
			return ErrMachineIDRequired
		}
		if _, err := stmt.ExecContext(ctx, c.MachineID, c.StartTime.UnixMilli(), c.EndTime.UnixMilli(), c.DurationSeconds); err != nil {
			return fmt.Errorf("inserting cycle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cycles: %w", err)
	}
	return nil
}

// ListCycles returns cycles that ended in [from, to], oldest first.
func (r *SQLiteSampleRepository) ListCycles(ctx context.Context, machineID string, from, to time.Time) ([]Cycle, error) {
	if machineID == "" {
		return nil, ErrMachineIDRequired
	}
	if to.Before(from) {
		return nil, ErrInvalidWindow
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT machine_id, start_ms, end_ms, duration_seconds
		 FROM production_cycles
		 WHERE machine_id = ? AND end_ms >= ? AND end_ms <= ?
		 ORDER BY start_ms ASC`,
		machineID,
		from.UnixMilli(),
		to.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying cycles: %w", err)
	}
	defer rows.Close()

	cycles := make([]Cycle, 0)
	for rows.Next() {
		var c Cycle
		var startMs, endMs int64
		if err := rows.Scan(&c.MachineID, &startMs, &endMs, &c.DurationSeconds); err != nil {
			return nil, fmt.Errorf("scanning cycle: %w", err)
		}
		c.StartTime = time.UnixMilli(startMs).UTC()
		c.EndTime = time.UnixMilli(endMs).UTC()
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cycles: %w", err)
	}
	return cycles, nil
}

// Prune deletes samples and cycles older than the cutoff.
//
// Returns:
//   - int64: Total rows deleted across both tables
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteSampleRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := olderThan.UnixMilli()

	var total int64
	for _, q := range []string{
		"DELETE FROM production_samples WHERE ts_ms < ?",
		"DELETE FROM production_cycles WHERE end_ms < ?",
	} {
		result, err := r.db.ExecContext(ctx, q, cutoff)
		if err != nil {
			return total, fmt.Errorf("pruning: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSample(row rowScanner) (Sample, error) {
	var s Sample
	var tsMs int64
	var partCount sql.NullInt64
	if err := row.Scan(&s.MachineID, &tsMs, &s.ExecutionStatus, &partCount, &s.Source); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Sample{}, err
		}
		return Sample{}, fmt.Errorf("scanning sample: %w", err)
	}
	s.Timestamp = time.UnixMilli(tsMs).UTC()
	if partCount.Valid {
		n := partCount.Int64
		s.PartCount = &n
	}
	return s, nil
}

var _ SampleRepository = (*SQLiteSampleRepository)(nil)
