// Package sync decouples "what tasks exist" from "iterate accounts and run
// them". A registry built at startup maps task types to fetch adapters; the
// orchestrator walks task types, accounts, and shards strictly sequentially
// and isolates failures per unit.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/vendor-sync/pkg/vendorapi"
	"github.com/Sternrassler/vendor-sync/pkg/watermark"
)

// TaskType is the abstract identifier for one kind of synchronized record.
type TaskType string

// FetchOptions tunes one fetch run.
type FetchOptions struct {
	// PageSize requested per page call.
	PageSize int

	// PageDelay between successive page calls.
	PageDelay time.Duration

	// MaxRetries for throttled calls inside the run.
	MaxRetries int

	// BaseDelay is the linear throttle-backoff unit.
	BaseDelay time.Duration
}

// FetchResult is the uniform outcome every adapter returns.
type FetchResult struct {
	// Records accumulated for the window.
	Records int

	// Pages fetched.
	Pages int

	// Partial is true when the fetch terminated early with partial data.
	// The orchestrator must not advance the watermark for partial runs.
	Partial bool

	// Err carries the failure that made the result partial.
	Err error
}

// Adapter is the closed, uniform fetch surface for one task type.
type Adapter interface {
	// FetchWindow retrieves all records of the task's type for one
	// account (and, for sharded tasks, the shard bound inside the
	// adapter) within the window.
	FetchWindow(ctx context.Context, account vendorapi.Account, window watermark.Window, opts FetchOptions) (FetchResult, error)
}

// ShardLister enumerates the shards of an account for a sharded task
// (e.g. its active shops).
type ShardLister func(ctx context.Context, account vendorapi.Account) ([]string, error)

// ShardedAdapter builds the adapter bound to one shard. Sharded task
// definitions provide this instead of a fixed Adapter.
type ShardedAdapter func(shard string) Adapter

// Definition declares one task type.
type Definition struct {
	TaskType    TaskType
	Description string

	// Adapter serves unsharded tasks.
	Adapter Adapter

	// Shards and ForShard together serve sharded tasks.
	Shards   ShardLister
	ForShard ShardedAdapter
}

func (d Definition) sharded() bool {
	return d.Shards != nil
}

// Registry maps task types to definitions. It is built explicitly at
// startup and passed into the orchestrator; there is no package-level
// global registry.
type Registry struct {
	defs  map[TaskType]Definition
	order []TaskType
}

// NewRegistry builds a registry from the given definitions.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{
		defs: make(map[TaskType]Definition, len(defs)),
	}
	for _, def := range defs {
		if def.TaskType == "" {
			return nil, fmt.Errorf("task type is required")
		}
		if _, exists := r.defs[def.TaskType]; exists {
			return nil, fmt.Errorf("duplicate task type %q", def.TaskType)
		}
		if def.sharded() {
			if def.ForShard == nil {
				return nil, fmt.Errorf("task %q: sharded task needs ForShard", def.TaskType)
			}
		} else if def.Adapter == nil {
			return nil, fmt.Errorf("task %q: adapter is required", def.TaskType)
		}
		r.defs[def.TaskType] = def
		r.order = append(r.order, def.TaskType)
	}
	return r, nil
}

// Get returns the definition for a task type.
func (r *Registry) Get(taskType TaskType) (Definition, bool) {
	def, ok := r.defs[taskType]
	return def, ok
}

// TaskTypes returns all registered task types in registration order.
func (r *Registry) TaskTypes() []TaskType {
	out := make([]TaskType, len(r.order))
	copy(out, r.order)
	return out
}

// AccountSource lists the active tenant accounts to iterate.
type AccountSource interface {
	ListActive(ctx context.Context) ([]vendorapi.Account, error)
}
