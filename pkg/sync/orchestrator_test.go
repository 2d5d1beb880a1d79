package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/vendor-sync/pkg/vendorapi"
	"github.com/Sternrassler/vendor-sync/pkg/watermark"
)

type staticAccounts struct {
	accounts []vendorapi.Account
	err      error
}

func (s *staticAccounts) ListActive(_ context.Context) ([]vendorapi.Account, error) {
	return s.accounts, s.err
}

func newTestStore(t *testing.T) *watermark.Store {
	t.Helper()
	db, err := watermark.OpenDB(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := watermark.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

// fastOptions pins the window end boundary and removes pacing delays so
// tests are deterministic.
func fastOptions(end time.Time) Options {
	return Options{
		Window: watermark.WindowOptions{
			LookbackDays: 7,
			EndBoundary:  end,
		},
		Fetch: FetchOptions{PageSize: 100},
	}
}

var testEnd = time.Date(2024, 8, 10, 0, 0, 0, 0, time.UTC)

func TestRunForAccount_SuccessAdvancesWatermark(t *testing.T) {
	store := newTestStore(t)
	adapter := &stubAdapter{result: FetchResult{Records: 42, Pages: 1}}
	registry, _ := NewRegistry(Definition{TaskType: "orders", Adapter: adapter})

	orch, err := NewOrchestrator(registry, &staticAccounts{}, store)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}

	account := vendorapi.Account{ID: "acct-1"}
	result, err := orch.RunForAccount(context.Background(), account, "orders", fastOptions(testEnd))
	if err != nil {
		t.Fatalf("RunForAccount() error = %v", err)
	}

	if len(result.Shards) != 1 {
		t.Fatalf("got %d shard runs, want 1", len(result.Shards))
	}
	run := result.Shards[0]
	if run.State != StateSuccess {
		t.Errorf("State = %v, want success", run.State)
	}
	if run.Key.Shard != watermark.ShardNone {
		t.Errorf("Shard = %q, want canonical sentinel", run.Key.Shard)
	}
	if result.Records != 42 {
		t.Errorf("Records = %d, want 42", result.Records)
	}

	wm, err := store.Get(context.Background(), run.Key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !wm.LastEnd.Equal(testEnd) {
		t.Errorf("LastEnd = %v, want %v", wm.LastEnd, testEnd)
	}
	if wm.LastStatus != watermark.StatusSuccess {
		t.Errorf("LastStatus = %v, want success", wm.LastStatus)
	}
	if wm.LastRecordCount != 42 {
		t.Errorf("LastRecordCount = %d, want 42", wm.LastRecordCount)
	}
}

func TestRunForAccount_PartialDoesNotAdvance(t *testing.T) {
	store := newTestStore(t)
	adapter := &stubAdapter{result: FetchResult{
		Records: 100,
		Pages:   1,
		Partial: true,
		Err:     errors.New("page 2 failed"),
	}}
	registry, _ := NewRegistry(Definition{TaskType: "orders", Adapter: adapter})
	orch, _ := NewOrchestrator(registry, &staticAccounts{}, store)

	account := vendorapi.Account{ID: "acct-1"}
	result, err := orch.RunForAccount(context.Background(), account, "orders", fastOptions(testEnd))
	if err != nil {
		t.Fatalf("RunForAccount() error = %v", err)
	}

	run := result.Shards[0]
	if run.State != StatePartial {
		t.Errorf("State = %v, want partial", run.State)
	}

	wm, err := store.Get(context.Background(), run.Key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !wm.LastEnd.IsZero() {
		t.Errorf("LastEnd = %v, want untouched zero", wm.LastEnd)
	}
	if wm.LastStatus != watermark.StatusPartial {
		t.Errorf("LastStatus = %v, want partial", wm.LastStatus)
	}
	if wm.LastError == "" {
		t.Error("expected partial cause recorded")
	}

	// The next run must retry the same window.
	window, err := store.NextWindow(context.Background(), run.Key, watermark.WindowOptions{LookbackDays: 7, EndBoundary: testEnd})
	if err != nil {
		t.Fatalf("NextWindow() error = %v", err)
	}
	if window.Empty {
		t.Fatal("expected non-empty retry window")
	}
	if !window.Start.Equal(time.Date(2024, 8, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("retry window start = %v, want 2024-08-04", window.Start)
	}
}

func TestRunForAccount_FailureDoesNotAdvance(t *testing.T) {
	store := newTestStore(t)
	adapter := &stubAdapter{err: errors.New("transport down")}
	registry, _ := NewRegistry(Definition{TaskType: "orders", Adapter: adapter})
	orch, _ := NewOrchestrator(registry, &staticAccounts{}, store)

	account := vendorapi.Account{ID: "acct-1"}
	result, err := orch.RunForAccount(context.Background(), account, "orders", fastOptions(testEnd))
	if err != nil {
		t.Fatalf("RunForAccount() error = %v", err)
	}

	run := result.Shards[0]
	if run.State != StateFailed {
		t.Errorf("State = %v, want failed", run.State)
	}
	if !result.Failed {
		t.Error("expected account result marked failed")
	}

	wm, err := store.Get(context.Background(), run.Key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !wm.LastEnd.IsZero() {
		t.Errorf("LastEnd = %v, want untouched zero", wm.LastEnd)
	}
	if wm.LastStatus != watermark.StatusFailed {
		t.Errorf("LastStatus = %v, want failed", wm.LastStatus)
	}
}

func TestRunForAccount_EmptyWindowSkipsFetch(t *testing.T) {
	store := newTestStore(t)
	adapter := &stubAdapter{result: FetchResult{Records: 1, Pages: 1}}
	registry, _ := NewRegistry(Definition{TaskType: "orders", Adapter: adapter})
	orch, _ := NewOrchestrator(registry, &staticAccounts{}, store)

	account := vendorapi.Account{ID: "acct-1"}
	key := watermark.Key{AccountID: "acct-1", TaskType: "orders", Shard: watermark.ShardNone}

	// Caught up: the boundary already sits at the window end.
	end := testEnd
	status := watermark.StatusSuccess
	if err := store.Upsert(context.Background(), key, watermark.Update{
		LastEnd:    &end,
		LastStatus: &status,
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	result, err := orch.RunForAccount(context.Background(), account, "orders", fastOptions(testEnd))
	if err != nil {
		t.Fatalf("RunForAccount() error = %v", err)
	}

	if result.Shards[0].State != StateEmptySkipped {
		t.Errorf("State = %v, want empty_skipped", result.Shards[0].State)
	}
	if adapter.calls != 0 {
		t.Errorf("adapter called %d times, want 0", adapter.calls)
	}
}

func TestRunForAccount_ShardFailureIsolated(t *testing.T) {
	store := newTestStore(t)
	good := &stubAdapter{result: FetchResult{Records: 10, Pages: 1}}
	bad := &stubAdapter{err: errors.New("shard down")}

	registry, _ := NewRegistry(Definition{
		TaskType: "shop_orders",
		Shards: func(_ context.Context, _ vendorapi.Account) ([]string, error) {
			return []string{"shop-1", "shop-2", "shop-3"}, nil
		},
		ForShard: func(shard string) Adapter {
			if shard == "shop-2" {
				return bad
			}
			return good
		},
	})
	orch, _ := NewOrchestrator(registry, &staticAccounts{}, store)

	account := vendorapi.Account{ID: "acct-1"}
	result, err := orch.RunForAccount(context.Background(), account, "shop_orders", fastOptions(testEnd))
	if err != nil {
		t.Fatalf("RunForAccount() error = %v", err)
	}

	if len(result.Shards) != 3 {
		t.Fatalf("got %d shard runs, want 3", len(result.Shards))
	}
	states := []RunState{result.Shards[0].State, result.Shards[1].State, result.Shards[2].State}
	want := []RunState{StateSuccess, StateFailed, StateSuccess}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("shard %d state = %v, want %v", i, states[i], want[i])
		}
	}
	if good.calls != 2 {
		t.Errorf("good adapter called %d times, want 2", good.calls)
	}
	if result.Records != 20 {
		t.Errorf("Records = %d, want 20", result.Records)
	}

	// Each shard has its own watermark; the failed one stays behind.
	okKey := watermark.Key{AccountID: "acct-1", TaskType: "shop_orders", Shard: "shop-1"}
	failKey := watermark.Key{AccountID: "acct-1", TaskType: "shop_orders", Shard: "shop-2"}

	wmOK, err := store.Get(context.Background(), okKey)
	if err != nil {
		t.Fatalf("Get(ok) error = %v", err)
	}
	if !wmOK.LastEnd.Equal(testEnd) {
		t.Errorf("ok shard LastEnd = %v, want %v", wmOK.LastEnd, testEnd)
	}

	wmFail, err := store.Get(context.Background(), failKey)
	if err != nil {
		t.Fatalf("Get(fail) error = %v", err)
	}
	if !wmFail.LastEnd.IsZero() {
		t.Errorf("failed shard LastEnd = %v, want zero", wmFail.LastEnd)
	}
}

func TestRunForAccount_UnknownTaskType(t *testing.T) {
	store := newTestStore(t)
	registry, _ := NewRegistry()
	orch, _ := NewOrchestrator(registry, &staticAccounts{}, store)

	_, err := orch.RunForAccount(context.Background(), vendorapi.Account{ID: "acct-1"}, "nope", fastOptions(testEnd))
	if err == nil {
		t.Fatal("expected error for unknown task type")
	}
}

func TestRunByTaskType_IteratesAllAccounts(t *testing.T) {
	store := newTestStore(t)
	adapter := &stubAdapter{result: FetchResult{Records: 5, Pages: 1}}
	registry, _ := NewRegistry(Definition{TaskType: "orders", Adapter: adapter})

	accounts := &staticAccounts{accounts: []vendorapi.Account{
		{ID: "acct-1"},
		{ID: "acct-2"},
		{ID: "acct-3"},
	}}
	orch, _ := NewOrchestrator(registry, accounts, store)

	summary, err := orch.RunByTaskType(context.Background(), "orders", fastOptions(testEnd))
	if err != nil {
		t.Fatalf("RunByTaskType() error = %v", err)
	}

	if summary.SuccessCount != 3 {
		t.Errorf("SuccessCount = %d, want 3", summary.SuccessCount)
	}
	if summary.FailCount != 0 {
		t.Errorf("FailCount = %d, want 0", summary.FailCount)
	}
	if summary.TotalRecords != 15 {
		t.Errorf("TotalRecords = %d, want 15", summary.TotalRecords)
	}
	if adapter.calls != 3 {
		t.Errorf("adapter called %d times, want 3", adapter.calls)
	}
}

func TestRunByTaskType_AccountFailureIsolated(t *testing.T) {
	store := newTestStore(t)

	// Shard enumeration fails for one account only.
	registry, _ := NewRegistry(Definition{
		TaskType: "shop_orders",
		Shards: func(_ context.Context, account vendorapi.Account) ([]string, error) {
			if account.ID == "acct-2" {
				return nil, fmt.Errorf("shop list unavailable")
			}
			return []string{"shop-1"}, nil
		},
		ForShard: func(_ string) Adapter {
			return &stubAdapter{result: FetchResult{Records: 1, Pages: 1}}
		},
	})

	accounts := &staticAccounts{accounts: []vendorapi.Account{
		{ID: "acct-1"},
		{ID: "acct-2"},
		{ID: "acct-3"},
	}}
	orch, _ := NewOrchestrator(registry, accounts, store)

	summary, err := orch.RunByTaskType(context.Background(), "shop_orders", fastOptions(testEnd))
	if err != nil {
		t.Fatalf("RunByTaskType() error = %v", err)
	}

	if summary.SuccessCount != 2 {
		t.Errorf("SuccessCount = %d, want 2", summary.SuccessCount)
	}
	if summary.FailCount != 1 {
		t.Errorf("FailCount = %d, want 1", summary.FailCount)
	}
	if summary.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", summary.TotalRecords)
	}
}

func TestRunAll_Filter(t *testing.T) {
	store := newTestStore(t)
	orders := &stubAdapter{result: FetchResult{Records: 1, Pages: 1}}
	refunds := &stubAdapter{result: FetchResult{Records: 1, Pages: 1}}
	registry, _ := NewRegistry(
		Definition{TaskType: "orders", Adapter: orders},
		Definition{TaskType: "refunds", Adapter: refunds},
	)

	accounts := &staticAccounts{accounts: []vendorapi.Account{{ID: "acct-1"}}}
	orch, _ := NewOrchestrator(registry, accounts, store)

	total, err := orch.RunAll(context.Background(), fastOptions(testEnd), "refunds")
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}

	if len(total.Tasks) != 1 {
		t.Fatalf("got %d task summaries, want 1", len(total.Tasks))
	}
	if total.Tasks[0].TaskType != "refunds" {
		t.Errorf("TaskType = %v, want refunds", total.Tasks[0].TaskType)
	}
	if orders.calls != 0 {
		t.Errorf("orders adapter called %d times, want 0", orders.calls)
	}
	if refunds.calls != 1 {
		t.Errorf("refunds adapter called %d times, want 1", refunds.calls)
	}
}

func TestRunAll_AllRegistered(t *testing.T) {
	store := newTestStore(t)
	orders := &stubAdapter{result: FetchResult{Records: 2, Pages: 1}}
	refunds := &stubAdapter{result: FetchResult{Records: 3, Pages: 1}}
	registry, _ := NewRegistry(
		Definition{TaskType: "orders", Adapter: orders},
		Definition{TaskType: "refunds", Adapter: refunds},
	)

	accounts := &staticAccounts{accounts: []vendorapi.Account{{ID: "acct-1"}}}
	orch, _ := NewOrchestrator(registry, accounts, store)

	total, err := orch.RunAll(context.Background(), fastOptions(testEnd))
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}

	if len(total.Tasks) != 2 {
		t.Fatalf("got %d task summaries, want 2", len(total.Tasks))
	}
	if total.SuccessCount != 2 {
		t.Errorf("SuccessCount = %d, want 2", total.SuccessCount)
	}
	if total.TotalRecords != 5 {
		t.Errorf("TotalRecords = %d, want 5", total.TotalRecords)
	}
}
