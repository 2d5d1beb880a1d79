package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/vendor-sync/pkg/watermark"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/vendor-sync/pkg/vendorapi"
)

// Prometheus metrics for orchestrated runs.
var (
	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendor_sync_runs_total",
		Help: "Total shard runs by task type and final state",
	}, []string{"task_type", "state"})

	syncRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendor_sync_records_total",
		Help: "Total records synced by task type",
	}, []string{"task_type"})

	syncRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vendor_sync_run_duration_seconds",
		Help:    "Duration of one shard run by task type",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"task_type"})
)

// RunState is the state of one shard run.
type RunState string

const (
	StatePending        RunState = "pending"
	StateWindowComputed RunState = "window_computed"
	StateEmptySkipped   RunState = "empty_skipped"
	StateFetching       RunState = "fetching"
	StateSuccess        RunState = "success"
	StatePartial        RunState = "partial"
	StateFailed         RunState = "failed"
)

// Options tunes one orchestrated run.
type Options struct {
	// Window controls window computation for every key.
	Window watermark.WindowOptions

	// Fetch is passed through to every adapter.
	Fetch FetchOptions

	// ShardDelay paces successive shards of one account.
	ShardDelay time.Duration

	// AccountDelay paces successive accounts of one task type.
	AccountDelay time.Duration
}

// DefaultOptions returns conservative pacing defaults.
func DefaultOptions() Options {
	return Options{
		Fetch: FetchOptions{
			PageSize:   100,
			PageDelay:  200 * time.Millisecond,
			MaxRetries: 3,
			BaseDelay:  time.Second,
		},
		ShardDelay:   500 * time.Millisecond,
		AccountDelay: time.Second,
	}
}

// ShardRun is the outcome of one (account, task, shard) run.
type ShardRun struct {
	Key     watermark.Key
	Window  watermark.Window
	State   RunState
	Records int
	Pages   int
	Err     error
}

// AccountResult aggregates the shard runs of one account for one task.
type AccountResult struct {
	AccountID string
	TaskType  TaskType
	Shards    []ShardRun
	Records   int
	Failed    bool
}

// Summary aggregates one task type across accounts.
type Summary struct {
	TaskType     TaskType
	SuccessCount int
	FailCount    int
	TotalRecords int
	Accounts     []AccountResult
}

// TotalSummary aggregates a RunAll invocation.
type TotalSummary struct {
	Tasks        []Summary
	SuccessCount int
	FailCount    int
	TotalRecords int
}

// Orchestrator sequences runs over task types, accounts, and shards.
// Everything is strictly sequential; throughput control is sequencing plus
// the executor's capacity gate.
type Orchestrator struct {
	registry *Registry
	accounts AccountSource
	store    *watermark.Store
	logger   zerolog.Logger
}

// NewOrchestrator wires a registry, an account source, and the watermark
// store.
func NewOrchestrator(registry *Registry, accounts AccountSource, store *watermark.Store) (*Orchestrator, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if accounts == nil {
		return nil, fmt.Errorf("account source is required")
	}
	if store == nil {
		return nil, fmt.Errorf("watermark store is required")
	}
	return &Orchestrator{
		registry: registry,
		accounts: accounts,
		store:    store,
		logger:   log.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// RunForAccount runs one task type for one account. Shard-less tasks run
// once under the canonical no-shard sentinel; sharded tasks enumerate and
// run their shards sequentially, one shard's failure never aborting its
// siblings.
func (o *Orchestrator) RunForAccount(ctx context.Context, account vendorapi.Account, taskType TaskType, opts Options) (*AccountResult, error) {
	def, ok := o.registry.Get(taskType)
	if !ok {
		return nil, fmt.Errorf("unknown task type %q", taskType)
	}

	result := &AccountResult{AccountID: account.ID, TaskType: taskType}

	shards := []string{watermark.ShardNone}
	if def.sharded() {
		listed, err := def.Shards(ctx, account)
		if err != nil {
			// Shard enumeration failing fails the whole account for
			// this task; there is nothing to isolate yet.
			return nil, fmt.Errorf("list shards for account %s: %w", account.ID, err)
		}
		shards = listed
	}

	for i, shard := range shards {
		if i > 0 && opts.ShardDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(opts.ShardDelay):
			}
		}

		adapter := def.Adapter
		if def.sharded() {
			adapter = def.ForShard(shard)
		}

		run := o.runShard(ctx, adapter, account, taskType, shard, opts)
		result.Shards = append(result.Shards, run)
		result.Records += run.Records
		if run.State == StateFailed {
			result.Failed = true
		}
	}

	return result, nil
}

// runShard executes the per-shard state machine:
// PENDING -> WINDOW_COMPUTED -> {EMPTY_SKIPPED | FETCHING -> SUCCESS/PARTIAL/FAILED}.
// Only SUCCESS advances the watermark boundary; PARTIAL and FAILED record
// the outcome with the boundary untouched, so the next run retries the
// same window.
func (o *Orchestrator) runShard(ctx context.Context, adapter Adapter, account vendorapi.Account, taskType TaskType, shard string, opts Options) ShardRun {
	start := time.Now()
	defer func() {
		syncRunDuration.WithLabelValues(string(taskType)).Observe(time.Since(start).Seconds())
	}()

	key := watermark.Key{
		AccountID: account.ID,
		TaskType:  string(taskType),
		Shard:     watermark.NormalizeShard(shard),
	}
	run := ShardRun{Key: key, State: StatePending}

	logger := o.logger.With().
		Str("account_id", key.AccountID).
		Str("task_type", key.TaskType).
		Str("shard", key.Shard).
		Logger()

	window, err := o.store.NextWindow(ctx, key, opts.Window)
	if err != nil {
		run.State = StateFailed
		run.Err = err
		logger.Error().Err(err).Msg("Window computation failed")
		o.record(ctx, key, run, time.Now())
		return run
	}
	run.Window = window
	run.State = StateWindowComputed

	if window.Empty {
		run.State = StateEmptySkipped
		logger.Debug().Msg("Empty window - run skipped")
		o.record(ctx, key, run, time.Now())
		return run
	}

	run.State = StateFetching
	logger.Info().
		Time("window_start", window.Start).
		Time("window_end", window.End).
		Msg("Fetching window")

	result, err := adapter.FetchWindow(ctx, account, window, opts.Fetch)
	now := time.Now()
	if err != nil {
		run.State = StateFailed
		run.Err = err
		logger.Error().
			Err(err).
			Str("error_class", string(vendorapi.Classify(err))).
			Msg("Run failed")
		o.record(ctx, key, run, now)
		return run
	}

	run.Records = result.Records
	run.Pages = result.Pages
	if result.Partial {
		run.State = StatePartial
		run.Err = result.Err
		logger.Warn().
			Err(result.Err).
			Int("records", result.Records).
			Msg("Run completed with partial data - boundary not advanced")
	} else {
		run.State = StateSuccess
		logger.Info().
			Int("records", result.Records).
			Int("pages", result.Pages).
			Msg("Run complete")
		syncRecordsTotal.WithLabelValues(string(taskType)).Add(float64(result.Records))
	}

	o.record(ctx, key, run, now)
	return run
}

// record persists the run outcome on the shard's watermark. Persistence
// failures are logged and do not change the run outcome; already-fetched
// data has been handled by the adapter.
func (o *Orchestrator) record(ctx context.Context, key watermark.Key, run ShardRun, at time.Time) {
	syncRunsTotal.WithLabelValues(key.TaskType, string(run.State)).Inc()

	update := watermark.Update{LastSyncAt: &at}

	var status watermark.Status
	var errMsg string
	switch run.State {
	case StateSuccess:
		status = watermark.StatusSuccess
		update.LastEnd = &run.Window.End
		update.LastRecordCount = &run.Records
	case StatePartial:
		status = watermark.StatusPartial
		update.LastRecordCount = &run.Records
		if run.Err != nil {
			errMsg = run.Err.Error()
		}
	case StateEmptySkipped:
		status = watermark.StatusEmpty
	default:
		status = watermark.StatusFailed
		if run.Err != nil {
			errMsg = run.Err.Error()
		}
	}
	update.LastStatus = &status
	update.LastError = &errMsg

	if err := o.store.Upsert(ctx, key, update); err != nil {
		o.logger.Error().
			Err(err).
			Str("account_id", key.AccountID).
			Str("task_type", key.TaskType).
			Str("shard", key.Shard).
			Str("error_class", string(vendorapi.ErrorClassPersistence)).
			Msg("Watermark upsert failed")
	}
}

// RunByTaskType runs one task type for every active account, sequentially.
// Per-account failures are isolated and aggregated.
func (o *Orchestrator) RunByTaskType(ctx context.Context, taskType TaskType, opts Options) (*Summary, error) {
	if _, ok := o.registry.Get(taskType); !ok {
		return nil, fmt.Errorf("unknown task type %q", taskType)
	}

	accounts, err := o.accounts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}

	summary := &Summary{TaskType: taskType}
	for i, account := range accounts {
		if i > 0 && opts.AccountDelay > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(opts.AccountDelay):
			}
		}

		result, err := o.RunForAccount(ctx, account, taskType, opts)
		if err != nil {
			summary.FailCount++
			summary.Accounts = append(summary.Accounts, AccountResult{
				AccountID: account.ID,
				TaskType:  taskType,
				Failed:    true,
			})
			o.logger.Error().
				Err(err).
				Str("account_id", account.ID).
				Str("task_type", string(taskType)).
				Msg("Account run failed")
			continue
		}

		summary.Accounts = append(summary.Accounts, *result)
		summary.TotalRecords += result.Records
		if result.Failed {
			summary.FailCount++
		} else {
			summary.SuccessCount++
		}
	}

	o.logger.Info().
		Str("task_type", string(taskType)).
		Int("success", summary.SuccessCount).
		Int("failed", summary.FailCount).
		Int("records", summary.TotalRecords).
		Msg("Task type run complete")

	return summary, nil
}

// RunAll runs every registered task type (or only the given filter),
// sequentially, and aggregates a top-level summary. One task type's
// failure never aborts the others.
func (o *Orchestrator) RunAll(ctx context.Context, opts Options, filter ...TaskType) (*TotalSummary, error) {
	taskTypes := o.registry.TaskTypes()
	if len(filter) > 0 {
		taskTypes = filter
	}

	total := &TotalSummary{}
	for _, taskType := range taskTypes {
		summary, err := o.RunByTaskType(ctx, taskType, opts)
		if err != nil {
			o.logger.Error().
				Err(err).
				Str("task_type", string(taskType)).
				Msg("Task type run failed")
			total.FailCount++
			continue
		}
		total.Tasks = append(total.Tasks, *summary)
		total.SuccessCount += summary.SuccessCount
		total.FailCount += summary.FailCount
		total.TotalRecords += summary.TotalRecords

		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	return total, nil
}
