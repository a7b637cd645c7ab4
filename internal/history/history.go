// Package history records probe runs in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/torosent/probefire/internal/metrics"
	"github.com/torosent/probefire/internal/runner"
)

// ErrLocked is returned by Open when another process holds the database.
var ErrLocked = errors.New("history database is locked by another process")

// timeFormat is the format used for storing timestamps in SQLite.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Store is an exclusive handle on a history database.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

// RunRecord is one stored run.
type RunRecord struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	Total      int       `json:"total"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Errored    int       `json:"errored"`
	Attempts   int       `json:"attempts"`
	Retries    int       `json:"retries"`
	DurationMs float64   `json:"duration_ms"`
	P95Ms      float64   `json:"p95_ms"`
}

// OK reports whether every probe of the run passed.
func (r RunRecord) OK() bool {
	return r.Failed == 0 && r.Errored == 0
}

// Open opens or creates the database at path, holding <path>.lock until Close.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock history: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, lock: lock}, nil
}

// Close closes the database and releases the lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

// Save stores the run and all of its outcomes in one transaction.
func (s *Store) Save(ctx context.Context, run metrics.RunResult) (err error) {
	summary := metrics.Summarize(run)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, started_at, total, passed, failed, errored, attempts, retries, duration_ms, p95_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), formatTime(startedAt(run)), summary.Total, summary.Passed, summary.Failed,
		summary.Errored, summary.Attempts, summary.Retries, summary.DurationMs, summary.Latency.P95LatencyMs)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO outcomes
		(run_id, seq, batch, spec_id, verdict, attempts, status, elapsed_ms, error_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare outcome insert: %w", err)
	}
	defer stmt.Close()

	seq := 0
	for _, b := range run.Batches {
		for _, o := range b.Outcomes {
			status, elapsedMs := finalResponse(o)
			if _, err = stmt.ExecContext(ctx, run.ID.String(), seq, b.Name, o.SpecID, string(o.Verdict),
				len(o.Attempts), status, elapsedMs, string(o.ErrorKind())); err != nil {
				return fmt.Errorf("insert outcome %s: %w", o.SpecID, err)
			}
			seq++
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Recent returns up to n runs, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]RunRecord, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, started_at, total, passed, failed, errored,
		attempts, retries, duration_ms, p95_ms
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var started string
		if err := rows.Scan(&rec.ID, &started, &rec.Total, &rec.Passed, &rec.Failed, &rec.Errored,
			&rec.Attempts, &rec.Retries, &rec.DurationMs, &rec.P95Ms); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.StartedAt, _ = time.Parse(timeFormat, started)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// OutcomeCount returns the number of outcomes stored for a run.
func (s *Store) OutcomeCount(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM outcomes WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

func startedAt(run metrics.RunResult) time.Time {
	var earliest time.Time
	for _, b := range run.Batches {
		if b.StartedAt.IsZero() {
			continue
		}
		if earliest.IsZero() || b.StartedAt.Before(earliest) {
			earliest = b.StartedAt
		}
	}
	if earliest.IsZero() {
		return ulid.Time(run.ID.Time())
	}
	return earliest
}

func finalResponse(o runner.ProbeOutcome) (sql.NullInt64, sql.NullFloat64) {
	last := o.Last()
	if last == nil || last.Response == nil {
		return sql.NullInt64{}, sql.NullFloat64{}
	}
	return sql.NullInt64{Int64: int64(last.Response.Status), Valid: true},
		sql.NullFloat64{Float64: float64(last.Response.Elapsed) / float64(time.Millisecond), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}
