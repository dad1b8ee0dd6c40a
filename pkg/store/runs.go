package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunStatus is the recorded outcome of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusAwaiting  RunStatus = "awaiting"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAbandoned RunStatus = "abandoned"
)

// Terminal reports whether no further updates are expected for the run.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusAbandoned
}

// Run is one pipeline run as recorded in history.
type Run struct {
	ID          string
	Username    string
	Status      RunStatus
	Attempts    int // restarts after an external hand-off count as attempts
	Completed   int // stages passed
	Total       int // stages in the pipeline
	FailedStage string
	FailureKind string
	Message     string
	PostureHash string
	DeviceID    string
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// Duration returns how long the run took, or time since start if unfinished.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Username string
	Status   RunStatus
	Since    time.Time
	Limit    int
}

const runColumns = `id, username, status, attempts, completed, total, failed_stage, failure_kind,
	message, posture_hash, device_id, started_at, finished_at`

// SaveRun upserts a run record by ID.
func (s *Store) SaveRun(r *Run) error {
	if r.ID == "" {
		return errors.New("run id is required")
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	var finished sql.NullInt64
	if r.FinishedAt != nil {
		finished = sql.NullInt64{Int64: r.FinishedAt.UnixMilli(), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO attestation_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			status = excluded.status,
			attempts = excluded.attempts,
			completed = excluded.completed,
			total = excluded.total,
			failed_stage = excluded.failed_stage,
			failure_kind = excluded.failure_kind,
			message = excluded.message,
			posture_hash = excluded.posture_hash,
			device_id = excluded.device_id,
			finished_at = excluded.finished_at
	`, r.ID, r.Username, string(r.Status), r.Attempts, r.Completed, r.Total, r.FailedStage, r.FailureKind,
		r.Message, r.PostureHash, r.DeviceID, r.StartedAt.UnixMilli(), finished)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns an error wrapping ErrNotFound if absent.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM attestation_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// LatestRun returns the most recently started run for username, or
// ErrNotFound if there is none.
func (s *Store) LatestRun(username string) (*Run, error) {
	runs, err := s.ListRuns(RunFilter{Username: username, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("run for %s: %w", username, ErrNotFound)
	}
	return runs[0], nil
}

// ListRuns returns runs matching filter, newest first.
func (s *Store) ListRuns(filter RunFilter) ([]*Run, error) {
	var conditions []string
	var args []any

	if filter.Username != "" {
		conditions = append(conditions, "username = ?")
		args = append(args, filter.Username)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, filter.Since.UnixMilli())
	}

	query := `SELECT ` + runColumns + ` FROM attestation_runs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// PruneRuns deletes runs started before cutoff and returns how many were removed.
func (s *Store) PruneRuns(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM attestation_runs WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var status string
	var started int64
	var finished sql.NullInt64

	err := row.Scan(&r.ID, &r.Username, &status, &r.Attempts, &r.Completed, &r.Total, &r.FailedStage,
		&r.FailureKind, &r.Message, &r.PostureHash, &r.DeviceID, &started, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	r.Status = RunStatus(status)
	r.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		r.FinishedAt = &t
	}
	return &r, nil
}
