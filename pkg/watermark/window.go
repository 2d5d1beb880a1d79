// Package watermark computes incremental fetch windows and durably records
// run outcomes per (account, task, shard) key.
//
// Windows are date-grained: one unit is one calendar day, and the end
// boundary is always "yesterday" in the configured location, so a window
// never covers a day that is still accumulating records.
package watermark

import (
	"time"
)

// ShardNone is the canonical shard key for unsharded tasks. It is never
// NULL and never 0; every watermark row carries exactly this sentinel or a
// real shard identifier.
const ShardNone = "-"

// Key identifies one watermark row.
type Key struct {
	AccountID string
	TaskType  string
	Shard     string
}

// NormalizeShard maps the empty string to ShardNone so callers cannot
// introduce a second "no shard" representation.
func NormalizeShard(shard string) string {
	if shard == "" {
		return ShardNone
	}
	return shard
}

// Window is the ephemeral fetch window for one run. Start and End are
// inclusive dates at midnight in the window's location.
type Window struct {
	Start time.Time
	End   time.Time

	// Empty is true when Start is after End: the watermark is already at
	// the boundary and the run should be skipped, not failed.
	Empty bool
}

// Days returns the number of days the window covers.
func (w Window) Days() int {
	if w.Empty {
		return 0
	}
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

// WindowOptions controls window computation.
type WindowOptions struct {
	// LookbackDays is the window length for keys without a prior
	// watermark (default 7).
	LookbackDays int

	// EndBoundary overrides the computed end boundary. Zero means
	// "yesterday" in Location.
	EndBoundary time.Time

	// Location for day boundaries (default time.UTC).
	Location *time.Location
}

// DateOnly truncates t to midnight in loc.
func DateOnly(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Yesterday returns yesterday's date at midnight in loc.
func Yesterday(loc *time.Location) time.Time {
	return DateOnly(time.Now().In(loc), loc).AddDate(0, 0, -1)
}

func (o WindowOptions) location() *time.Location {
	if o.Location != nil {
		return o.Location
	}
	return time.UTC
}

func (o WindowOptions) lookbackDays() int {
	if o.LookbackDays <= 0 {
		return 7
	}
	return o.LookbackDays
}

// endBoundary resolves the window end: the explicit override when given,
// otherwise yesterday.
func (o WindowOptions) endBoundary() time.Time {
	loc := o.location()
	if !o.EndBoundary.IsZero() {
		return DateOnly(o.EndBoundary, loc)
	}
	return Yesterday(loc)
}
