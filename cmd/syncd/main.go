// syncd is the vendor sync daemon. It runs the registered sync tasks for
// every configured account on a fixed cadence and exposes health, status,
// and metrics endpoints.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/vendor-sync/pkg/logging"
	"github.com/Sternrassler/vendor-sync/pkg/pagination"
	"github.com/Sternrassler/vendor-sync/pkg/ratelimit"
	"github.com/Sternrassler/vendor-sync/pkg/schedule"
	"github.com/Sternrassler/vendor-sync/pkg/spool"
	syncpkg "github.com/Sternrassler/vendor-sync/pkg/sync"
	"github.com/Sternrassler/vendor-sync/pkg/vendorapi"
	"github.com/Sternrassler/vendor-sync/pkg/watermark"
)

func main() {
	// Configuration from environment
	configPath := getEnv("CONFIG_PATH", "config.yaml")
	redisURL := getEnv("REDIS_URL", "localhost:6379")
	dbPath := getEnv("DB_PATH", "vendor-sync.db")
	port := getEnv("PORT", "8080")
	logLevel := getEnv("LOG_LEVEL", "info")

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(logLevel),
		Output: os.Stderr,
	})

	cfg, err := LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", redisURL).Msg("Failed to connect to Redis")
	}
	log.Info().Str("addr", redisURL).Msg("Connected to Redis")

	// Setup SQLite
	db, err := watermark.OpenDB(dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", dbPath).Msg("Failed to open database")
	}
	defer db.Close()

	store, err := watermark.NewStore(db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create watermark store")
	}
	ledger, err := schedule.NewLedger(db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create run ledger")
	}

	// Vendor API client
	gate := ratelimit.NewGate(ratelimit.DefaultGateConfig())
	tracker := ratelimit.NewTracker(redisClient, log.Logger)

	clientCfg := vendorapi.DefaultConfig(cfg.Vendor.BaseURL, gate)
	clientCfg.Tracker = tracker
	clientCfg.UserAgent = cfg.Vendor.UserAgent
	client, err := vendorapi.New(clientCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create vendor client")
	}

	pageSpool := spool.New(redisClient, spool.DefaultTTL)

	registry, err := buildRegistry(cfg, client, pageSpool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build task registry")
	}

	accounts := make([]vendorapi.Account, len(cfg.Accounts))
	for i, entry := range cfg.Accounts {
		accounts[i] = vendorapi.Account{
			ID:         entry.ID,
			AppKey:     entry.AppKey,
			AppSecret:  entry.AppSecret,
			SessionKey: entry.SessionKey,
		}
	}

	orch, err := syncpkg.NewOrchestrator(registry, staticAccounts(accounts), store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create orchestrator")
	}

	opts := syncpkg.Options{
		Window: watermark.WindowOptions{LookbackDays: cfg.Schedule.LookbackDays},
		Fetch: syncpkg.FetchOptions{
			PageDelay:  cfg.Schedule.PageDelay,
			MaxRetries: cfg.Schedule.MaxRetries,
			BaseDelay:  cfg.Schedule.BaseDelay,
		},
		ShardDelay:   cfg.Schedule.ShardDelay,
		AccountDelay: cfg.Schedule.AccountDelay,
	}

	// HTTP Server
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient, db))
	mux.HandleFunc("/status", statusHandler(ledger))
	mux.HandleFunc("/status/", statusHandler(ledger))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go runLoop(runCtx, orch, ledger, registry, opts, cfg.Schedule.Interval)

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
}

// runLoop executes all registered tasks immediately and then on every
// interval tick until the context is cancelled.
func runLoop(ctx context.Context, orch *syncpkg.Orchestrator, ledger *schedule.Ledger, registry *syncpkg.Registry, opts syncpkg.Options, interval time.Duration) {
	runOnce(ctx, orch, ledger, registry, opts, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, orch, ledger, registry, opts, interval)
		}
	}
}

// runOnce runs every task type sequentially and records one ledger entry
// per task.
func runOnce(ctx context.Context, orch *syncpkg.Orchestrator, ledger *schedule.Ledger, registry *syncpkg.Registry, opts syncpkg.Options, interval time.Duration) {
	for _, taskType := range registry.TaskTypes() {
		if ctx.Err() != nil {
			return
		}

		ranAt := time.Now()
		summary, err := orch.RunByTaskType(ctx, taskType, opts)

		status := "success"
		errMsg := ""
		switch {
		case err != nil:
			status = "failed"
			errMsg = err.Error()
		case summary.FailCount > 0:
			status = "partial"
			errMsg = fmt.Sprintf("%d of %d accounts failed", summary.FailCount, summary.FailCount+summary.SuccessCount)
		}

		jobName := string(taskType) + "-sync"
		next := ranAt.Add(interval)
		if _, lerr := ledger.RecordRun(ctx, jobName, string(taskType), status, errMsg, ranAt, next); lerr != nil {
			log.Error().Err(lerr).Str("job", jobName).Msg("Failed to record job run")
		}
	}
}

// buildRegistry constructs the task registry from configuration. Every
// task uses the generic paged adapter; sharded tasks derive their shard
// list from the configured vendor endpoint.
func buildRegistry(cfg *Config, client *vendorapi.Client, pageSpool *spool.Spool) (*syncpkg.Registry, error) {
	defs := make([]syncpkg.Definition, 0, len(cfg.Tasks))
	for _, task := range cfg.Tasks {
		task := task

		newAdapter := func(shard string) *syncpkg.PagedEndpointAdapter {
			return &syncpkg.PagedEndpointAdapter{
				Client:      client,
				Endpoint:    task.Endpoint,
				Weight:      task.Weight,
				PageSize:    task.PageSize,
				MaxPageSize: task.MaxPageSize,
				Sink: func(account vendorapi.Account, window watermark.Window) pagination.PageSink {
					return pageSpool.Sink(spoolKey(account, task.Type, shard, window))
				},
				Cleanup: func(ctx context.Context, account vendorapi.Account, window watermark.Window) error {
					return pageSpool.Clear(ctx, spoolKey(account, task.Type, shard, window))
				},
			}
		}

		def := syncpkg.Definition{
			TaskType:    syncpkg.TaskType(task.Type),
			Description: task.Endpoint,
		}
		if task.ShardSource != nil {
			source := *task.ShardSource
			def.Shards = shardLister(client, source)
			def.ForShard = func(shard string) syncpkg.Adapter {
				adapter := newAdapter(shard)
				adapter.Filter = shardFilter(shard, adapter.Filter)
				return adapter
			}
		} else {
			def.Adapter = newAdapter(watermark.ShardNone)
		}
		defs = append(defs, def)
	}

	return syncpkg.NewRegistry(defs...)
}

func spoolKey(account vendorapi.Account, taskType, shard string, window watermark.Window) spool.Key {
	return spool.Key{
		AccountID:   account.ID,
		TaskType:    taskType,
		Shard:       watermark.NormalizeShard(shard),
		WindowStart: window.Start,
		WindowEnd:   window.End,
	}
}

// shardFilter adds the shard identifier to the window filter.
func shardFilter(shard string, base func(watermark.Window) map[string]any) func(watermark.Window) map[string]any {
	return func(window watermark.Window) map[string]any {
		var filter map[string]any
		if base != nil {
			filter = base(window)
		} else {
			filter = map[string]any{
				"start_date": window.Start.Format("2006-01-02"),
				"end_date":   window.End.Format("2006-01-02"),
			}
		}
		filter["shop_id"] = shard
		return filter
	}
}

// shardLister enumerates an account's shards from a vendor endpoint. The
// endpoint's data array may hold bare strings or objects keyed by Field.
func shardLister(client *vendorapi.Client, source ShardSource) syncpkg.ShardLister {
	return func(ctx context.Context, account vendorapi.Account) ([]string, error) {
		resp, err := client.Execute(ctx, account, source.Endpoint, nil, 1)
		if err != nil {
			return nil, fmt.Errorf("list shards via %s: %w", source.Endpoint, err)
		}

		var items []json.RawMessage
		if len(resp.Data) > 0 && strings.TrimSpace(string(resp.Data)) != "null" {
			if err := json.Unmarshal(resp.Data, &items); err != nil {
				return nil, fmt.Errorf("decode shard list: %w", err)
			}
		}

		shards := make([]string, 0, len(items))
		for _, item := range items {
			var s string
			if err := json.Unmarshal(item, &s); err == nil {
				shards = append(shards, s)
				continue
			}
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(item, &obj); err != nil {
				return nil, fmt.Errorf("decode shard item: %w", err)
			}
			raw, ok := obj[source.Field]
			if !ok {
				return nil, fmt.Errorf("shard item missing field %q", source.Field)
			}
			if err := json.Unmarshal(raw, &s); err != nil {
				// Numeric shard identifiers are accepted too.
				var n json.Number
				if nerr := json.Unmarshal(raw, &n); nerr != nil {
					return nil, fmt.Errorf("decode shard field %q: %w", source.Field, err)
				}
				s = n.String()
			}
			shards = append(shards, s)
		}
		return shards, nil
	}
}

// staticAccounts adapts a fixed account list to the orchestrator's
// account source.
type staticAccounts []vendorapi.Account

func (s staticAccounts) ListActive(_ context.Context) ([]vendorapi.Account, error) {
	return s, nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports readiness based on Redis and SQLite connectivity.
func readyHandler(redisClient *redis.Client, db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			http.Error(w, fmt.Sprintf("redis unavailable: %v", err), http.StatusServiceUnavailable)
			return
		}
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, fmt.Sprintf("database unavailable: %v", err), http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// statusHandler serves the run ledger: /status lists all jobs, /status/{job}
// one job.
func statusHandler(ledger *schedule.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobName := strings.TrimPrefix(r.URL.Path, "/status")
		jobName = strings.Trim(jobName, "/")

		w.Header().Set("Content-Type", "application/json")

		if jobName == "" {
			runs, err := ledger.All(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(w).Encode(runs)
			return
		}

		run, err := ledger.Status(r.Context(), jobName)
		if err == schedule.ErrNotFound {
			http.Error(w, "unknown job", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(run)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
