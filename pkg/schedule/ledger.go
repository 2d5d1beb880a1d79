// Package schedule keeps a small ledger of scheduled job runs so operators
// can answer "when did this job last run and how did it go" without digging
// through logs. One row per job name, overwritten on every run.
package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a job has never run.
var ErrNotFound = errors.New("job run not found")

var jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vendor_job_runs_total",
	Help: "Total recorded job runs by job name and status",
}, []string{"job", "status"})

// Run is one recorded job execution.
type Run struct {
	JobName       string
	TaskType      string
	RunID         string
	LastRunAt     time.Time
	LastStatus    string
	LastError     string
	NextScheduled time.Time
}

// Ledger persists the latest run per job in SQLite. It shares the engine's
// database with the watermark store.
type Ledger struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewLedger creates a run ledger and ensures its schema.
func NewLedger(db *sql.DB) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS job_runs (
			job_name          TEXT PRIMARY KEY,
			task_type         TEXT NOT NULL,
			run_id            TEXT NOT NULL,
			last_run_at       INTEGER NOT NULL,
			last_status       TEXT NOT NULL,
			last_error        TEXT NOT NULL DEFAULT '',
			next_scheduled_at INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create job_runs table: %w", err)
	}

	return &Ledger{
		db:     db,
		logger: log.With().Str("component", "schedule-ledger").Logger(),
	}, nil
}

// RecordRun stores the outcome of one job run, replacing the previous
// record for the job. A fresh run ID is assigned per call.
func (l *Ledger) RecordRun(ctx context.Context, jobName, taskType, status, errMsg string, ranAt, next time.Time) (string, error) {
	runID := uuid.NewString()

	var nextUnix int64
	if !next.IsZero() {
		nextUnix = next.Unix()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO job_runs (job_name, task_type, run_id, last_run_at, last_status, last_error, next_scheduled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_name) DO UPDATE SET
			task_type         = excluded.task_type,
			run_id            = excluded.run_id,
			last_run_at       = excluded.last_run_at,
			last_status       = excluded.last_status,
			last_error        = excluded.last_error,
			next_scheduled_at = excluded.next_scheduled_at
	`, jobName, taskType, runID, ranAt.Unix(), status, errMsg, nextUnix)
	if err != nil {
		return "", fmt.Errorf("record run for job %s: %w", jobName, err)
	}

	jobRunsTotal.WithLabelValues(jobName, status).Inc()
	l.logger.Info().
		Str("job", jobName).
		Str("task_type", taskType).
		Str("run_id", runID).
		Str("status", status).
		Msg("Job run recorded")

	return runID, nil
}

// Status returns the latest recorded run of a job.
func (l *Ledger) Status(ctx context.Context, jobName string) (*Run, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT task_type, run_id, last_run_at, last_status, last_error, next_scheduled_at
		FROM job_runs
		WHERE job_name = ?
	`, jobName)

	var (
		run      = Run{JobName: jobName}
		ranAt    int64
		nextUnix int64
	)
	err := row.Scan(&run.TaskType, &run.RunID, &ranAt, &run.LastStatus, &run.LastError, &nextUnix)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job run: %w", err)
	}

	run.LastRunAt = time.Unix(ranAt, 0)
	if nextUnix > 0 {
		run.NextScheduled = time.Unix(nextUnix, 0)
	}
	return &run, nil
}

// All returns every recorded job run, ordered by job name.
func (l *Ledger) All(ctx context.Context) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT job_name, task_type, run_id, last_run_at, last_status, last_error, next_scheduled_at
		FROM job_runs
		ORDER BY job_name
	`)
	if err != nil {
		return nil, fmt.Errorf("query job runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			ranAt    int64
			nextUnix int64
		)
		if err := rows.Scan(&run.JobName, &run.TaskType, &run.RunID, &ranAt, &run.LastStatus, &run.LastError, &nextUnix); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		run.LastRunAt = time.Unix(ranAt, 0)
		if nextUnix > 0 {
			run.NextScheduled = time.Unix(nextUnix, 0)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
