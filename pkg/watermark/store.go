package watermark

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotFound indicates no watermark row exists for the key.
var ErrNotFound = errors.New("watermark not found")

var (
	watermarkUpsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendor_watermark_upserts_total",
		Help: "Total watermark upserts by recorded status",
	}, []string{"status"})

	watermarkLagDays = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vendor_watermark_lag_days",
		Help: "Days between the last synced boundary and yesterday, by task",
	}, []string{"task_type"})
)

// Status is the persisted outcome of one run.
type Status string

const (
	// StatusSuccess means the whole window was fetched and the boundary
	// advanced.
	StatusSuccess Status = "success"

	// StatusPartial means the fetch terminated early with partial data;
	// the boundary did NOT advance.
	StatusPartial Status = "partial"

	// StatusFailed means the run failed before any usable data; the
	// boundary did NOT advance.
	StatusFailed Status = "failed"

	// StatusEmpty means the computed window was empty and the run was
	// skipped.
	StatusEmpty Status = "empty"
)

// Watermark is one persisted row. LastEnd is zero until the first fully
// successful run for the key.
type Watermark struct {
	Key
	LastEnd         time.Time
	LastSyncAt      time.Time
	LastRecordCount int
	LastStatus      Status
	LastError       string
}

// Update carries the fields to record after a run. Nil fields are left
// untouched on existing rows and take explicit defaults on creation.
type Update struct {
	LastEnd         *time.Time
	LastSyncAt      *time.Time
	LastRecordCount *int
	LastStatus      *Status
	LastError       *string
}

// Store persists watermarks in SQLite.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenDB opens the engine's SQLite database with WAL mode and a busy
// timeout suitable for a single long-running process.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// NewStore creates a watermark store and ensures its schema.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sync_watermarks (
			account_id        TEXT NOT NULL,
			task_type         TEXT NOT NULL,
			shard_key         TEXT NOT NULL,
			last_end          TEXT NOT NULL DEFAULT '',
			last_sync_at      INTEGER NOT NULL DEFAULT 0,
			last_record_count INTEGER NOT NULL DEFAULT 0,
			last_status       TEXT NOT NULL DEFAULT '',
			last_error        TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (account_id, task_type, shard_key)
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("creating sync_watermarks table: %w", err)
	}

	return &Store{
		db:     db,
		logger: log.With().Str("component", "watermark-store").Logger(),
	}, nil
}

// Get returns the watermark row for key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key Key) (*Watermark, error) {
	key.Shard = NormalizeShard(key.Shard)

	row := s.db.QueryRowContext(ctx, `
		SELECT last_end, last_sync_at, last_record_count, last_status, last_error
		FROM sync_watermarks
		WHERE account_id = ? AND task_type = ? AND shard_key = ?
	`, key.AccountID, key.TaskType, key.Shard)

	var (
		lastEnd    string
		lastSyncAt int64
		wm         = Watermark{Key: key}
	)
	err := row.Scan(&lastEnd, &lastSyncAt, &wm.LastRecordCount, (*string)(&wm.LastStatus), &wm.LastError)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan watermark: %w", err)
	}

	if lastEnd != "" {
		t, err := time.Parse("2006-01-02", lastEnd)
		if err != nil {
			return nil, fmt.Errorf("parse last_end %q: %w", lastEnd, err)
		}
		wm.LastEnd = t
	}
	if lastSyncAt > 0 {
		wm.LastSyncAt = time.Unix(lastSyncAt, 0)
	}
	return &wm, nil
}

// NextWindow computes the fetch window for the next run of key.
//
// Without a prior boundary the window covers LookbackDays ending at the end
// boundary. With one, the window starts the day after the recorded end. A
// start past the end yields Empty=true, which signals "skip", not an error.
func (s *Store) NextWindow(ctx context.Context, key Key, opts WindowOptions) (Window, error) {
	key.Shard = NormalizeShard(key.Shard)
	loc := opts.location()
	end := opts.endBoundary()

	var start time.Time
	wm, err := s.Get(ctx, key)
	switch {
	case err == nil && !wm.LastEnd.IsZero():
		start = DateOnly(wm.LastEnd, loc).AddDate(0, 0, 1)
	case err == nil || errors.Is(err, ErrNotFound):
		// Row absent, or present without a successful boundary yet
		// (first run recorded a failure): full lookback window.
		start = end.AddDate(0, 0, -(opts.lookbackDays() - 1))
	default:
		return Window{}, fmt.Errorf("load watermark: %w", err)
	}

	if start.After(end) {
		s.logger.Debug().
			Str("account_id", key.AccountID).
			Str("task_type", key.TaskType).
			Str("shard", key.Shard).
			Time("window_start", start).
			Time("window_end", end).
			Msg("Watermark already at boundary - empty window")
		return Window{Start: start, End: end, Empty: true}, nil
	}

	return Window{Start: start, End: end}, nil
}

// Upsert records a run outcome. Creation supplies explicit defaults for
// unset fields; updates leave unset fields untouched. Identical repeated
// calls leave the row unchanged.
func (s *Store) Upsert(ctx context.Context, key Key, update Update) error {
	key.Shard = NormalizeShard(key.Shard)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	existing := Watermark{Key: key}
	var (
		lastEnd    string
		lastSyncAt int64
	)
	row := tx.QueryRowContext(ctx, `
		SELECT last_end, last_sync_at, last_record_count, last_status, last_error
		FROM sync_watermarks
		WHERE account_id = ? AND task_type = ? AND shard_key = ?
	`, key.AccountID, key.TaskType, key.Shard)
	err = row.Scan(&lastEnd, &lastSyncAt, &existing.LastRecordCount, (*string)(&existing.LastStatus), &existing.LastError)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("load watermark for upsert: %w", err)
	}

	// Merge: nil update fields keep the existing (or default) value.
	if update.LastEnd != nil {
		lastEnd = DateOnly(*update.LastEnd, update.LastEnd.Location()).Format("2006-01-02")
	}
	if update.LastSyncAt != nil {
		lastSyncAt = update.LastSyncAt.Unix()
	}
	if update.LastRecordCount != nil {
		existing.LastRecordCount = *update.LastRecordCount
	}
	if update.LastStatus != nil {
		existing.LastStatus = *update.LastStatus
	}
	if update.LastError != nil {
		existing.LastError = *update.LastError
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_watermarks
			(account_id, task_type, shard_key, last_end, last_sync_at, last_record_count, last_status, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, task_type, shard_key) DO UPDATE SET
			last_end = excluded.last_end,
			last_sync_at = excluded.last_sync_at,
			last_record_count = excluded.last_record_count,
			last_status = excluded.last_status,
			last_error = excluded.last_error
	`, key.AccountID, key.TaskType, key.Shard,
		lastEnd, lastSyncAt, existing.LastRecordCount, string(existing.LastStatus), existing.LastError)
	if err != nil {
		return fmt.Errorf("upsert watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}

	if update.LastStatus != nil {
		watermarkUpsertsTotal.WithLabelValues(string(*update.LastStatus)).Inc()
	}
	if update.LastEnd != nil {
		lag := time.Since(*update.LastEnd).Hours()/24 - 1
		if lag < 0 {
			lag = 0
		}
		watermarkLagDays.WithLabelValues(key.TaskType).Set(lag)
	}

	return nil
}
