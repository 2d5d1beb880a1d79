// Package spool persists fetched pages incrementally in Redis so a crash
// mid-run does not lose already-fetched data. Entries are keyed by the
// (account, task, shard, window) they belong to and age out via TTL.
package spool

import (
	"fmt"
	"time"
)

// Key identifies the spool entry for one fetch window.
type Key struct {
	// AccountID is the tenant account.
	AccountID string

	// TaskType is the abstract task identifier.
	TaskType string

	// Shard is the shard key ("-" when unsharded).
	Shard string

	// WindowStart and WindowEnd are the fetch window boundaries.
	WindowStart time.Time
	WindowEnd   time.Time
}

// String generates a deterministic spool key string.
// Format: spool:account:task:shard:20240804:20240810
func (k Key) String() string {
	return fmt.Sprintf("spool:%s:%s:%s:%s:%s",
		k.AccountID,
		k.TaskType,
		k.Shard,
		k.WindowStart.Format("20060102"),
		k.WindowEnd.Format("20060102"),
	)
}
