package vendorapi

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	vendorRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vendor_retries_total",
		Help: "Total number of throttle retry attempts",
	})

	vendorRetryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vendor_retry_backoff_seconds",
		Help:    "Backoff duration for throttle retries",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})

	vendorRetryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vendor_retry_exhausted_total",
		Help: "Total number of times throttle retry attempts were exhausted",
	})
)

// RetryConfig holds the configuration for throttle retry logic.
type RetryConfig struct {
	// MaxRetries is the number of retry attempts after the initial call.
	MaxRetries int

	// BaseDelay is the linear backoff unit: attempt N waits N × BaseDelay.
	BaseDelay time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
	}
}

// CallWithRetry executes fn, retrying ONLY throttled vendor errors with
// linear backoff (wait = BaseDelay × attempt number). All other errors
// propagate immediately. The throttle budget is shared across callers, so
// linear rather than exponential growth keeps total stall time bounded for
// the strictly sequential pipeline.
func CallWithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 0 {
				log.Info().
					Int("attempt", attempt+1).
					Msg("Vendor call succeeded after throttle retry")
			}
			return nil
		}

		if !IsThrottled(err) {
			return err
		}
		lastErr = err

		if attempt >= cfg.MaxRetries {
			break
		}

		wait := time.Duration(attempt+1) * cfg.BaseDelay
		vendorRetriesTotal.Inc()
		vendorRetryBackoffSeconds.Observe(wait.Seconds())

		log.Debug().
			Int("attempt", attempt+1).
			Dur("backoff", wait).
			Msg("Throttled - retrying vendor call after backoff")

		select {
		case <-ctx.Done():
			log.Warn().
				Int("attempt", attempt+1).
				Msg("Context cancelled during throttle backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(wait):
		}
	}

	vendorRetryExhaustedTotal.Inc()
	log.Warn().
		Int("max_retries", cfg.MaxRetries).
		Msg("Throttle retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, cfg.MaxRetries+1, lastErr)
}
