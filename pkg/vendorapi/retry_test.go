package vendorapi

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.BaseDelay != 1*time.Second {
		t.Errorf("BaseDelay = %v, want 1s", cfg.BaseDelay)
	}
}

func TestCallWithRetry_ImmediateSuccess(t *testing.T) {
	callCount := 0
	err := CallWithRetry(context.Background(), DefaultRetryConfig(), func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestCallWithRetry_NonThrottledNotRetried(t *testing.T) {
	rejected := &VendorError{Code: "1004", Message: "invalid session"}

	callCount := 0
	err := CallWithRetry(context.Background(), DefaultRetryConfig(), func() error {
		callCount++
		return rejected
	})

	if !errors.Is(err, rejected) {
		t.Errorf("Expected rejection to propagate, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call for non-throttled error, got %d", callCount)
	}
}

func TestCallWithRetry_TransportNotRetried(t *testing.T) {
	callCount := 0
	err := CallWithRetry(context.Background(), DefaultRetryConfig(), func() error {
		callCount++
		return &TransportError{Endpoint: "orders.list", Err: errors.New("timeout")}
	})

	if err == nil {
		t.Fatal("Expected transport error to propagate")
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call for transport error, got %d", callCount)
	}
}

// Throttled twice then succeeding must wait baseDelay, then 2×baseDelay
// (linear backoff), and return without error.
func TestCallWithRetry_LinearBackoffThenSuccess(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: 50 * time.Millisecond}

	callCount := 0
	start := time.Now()
	err := CallWithRetry(context.Background(), cfg, func() error {
		callCount++
		if callCount < 3 {
			return &VendorError{Code: CodeThrottled, Message: "call budget exhausted"}
		}
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Errorf("Expected success after retries, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
	// Waits: 1×50ms + 2×50ms = 150ms minimum.
	if elapsed < 150*time.Millisecond {
		t.Errorf("Elapsed %v, want >= 150ms of linear backoff", elapsed)
	}
}

func TestCallWithRetry_Exhausted(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, BaseDelay: 10 * time.Millisecond}

	callCount := 0
	err := CallWithRetry(context.Background(), cfg, func() error {
		callCount++
		return &VendorError{Code: CodeThrottled}
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls (initial + 2 retries), got %d", callCount)
	}
}

func TestCallWithRetry_ContextCancelled(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := CallWithRetry(ctx, cfg, func() error {
		return &VendorError{Code: CodeThrottled}
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
}
