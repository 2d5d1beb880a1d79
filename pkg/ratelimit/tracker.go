package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for throttle tracking.
var (
	throttlePenaltiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendor_throttle_penalties_total",
		Help: "Total throttle penalties recorded by endpoint",
	}, []string{"endpoint"})

	throttleBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendor_throttle_blocks_total",
		Help: "Total requests blocked due to an open throttle penalty",
	}, []string{"endpoint"})

	throttleWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendor_throttle_waits_total",
		Help: "Total requests delayed waiting out a short throttle penalty",
	}, []string{"endpoint"})
)

// Tracker shares vendor throttle penalties across processes via Redis.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new throttle tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

func throttleKey(accountID, endpoint string) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyThrottlePrefix, accountID, endpoint)
}

// GetState retrieves the current throttle state for one (account, endpoint).
// Returns a default healthy state if no data exists in Redis.
func (t *Tracker) GetState(ctx context.Context, accountID, endpoint string) (*ThrottleState, error) {
	data, err := t.redis.Get(ctx, throttleKey(accountID, endpoint)).Bytes()
	if err != nil {
		if err == redis.Nil {
			t.logger.Debug().
				Str("account_id", accountID).
				Str("endpoint", endpoint).
				Msg("No throttle state in Redis, returning healthy state")
			return &ThrottleState{}, nil
		}
		return nil, fmt.Errorf("get throttle state: %w", err)
	}

	var state ThrottleState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse throttle state: %w", err)
	}

	return &state, nil
}

// RecordThrottle records a throttle response for one (account, endpoint) and
// opens a penalty window shared with all other processes.
// Pass retryAfter <= 0 to apply DefaultPenalty.
func (t *Tracker) RecordThrottle(ctx context.Context, accountID, endpoint string, retryAfter time.Duration) error {
	if retryAfter <= 0 {
		retryAfter = DefaultPenalty
	}

	state, err := t.GetState(ctx, accountID, endpoint)
	if err != nil {
		return err
	}

	now := time.Now()
	state.RetryAt = now.Add(retryAfter)
	state.LastThrottle = now
	state.Count++

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal throttle state: %w", err)
	}

	if err := t.redis.Set(ctx, throttleKey(accountID, endpoint), data, stateTTL).Err(); err != nil {
		return fmt.Errorf("store throttle state in redis: %w", err)
	}

	throttlePenaltiesTotal.WithLabelValues(endpoint).Inc()

	t.logger.Warn().
		Str("account_id", accountID).
		Str("endpoint", endpoint).
		Time("retry_at", state.RetryAt).
		Int("count", state.Count).
		Msg("Vendor throttle penalty recorded")

	return nil
}

// ShouldAllowRequest checks if a request should be allowed based on the
// shared throttle state. Short penalties are waited out; penalties longer
// than PenaltyBlockThreshold reject the request.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, accountID, endpoint string) (bool, error) {
	state, err := t.GetState(ctx, accountID, endpoint)
	if err != nil {
		return false, fmt.Errorf("get throttle state: %w", err)
	}

	if !state.Penalized() {
		return true, nil
	}

	if state.NeedsBlock() {
		t.logger.Error().
			Str("account_id", accountID).
			Str("endpoint", endpoint).
			Dur("wait_duration", state.TimeUntilRetry()).
			Msg("Throttle penalty too long - blocking request")

		throttleBlocksTotal.WithLabelValues(endpoint).Inc()
		return false, nil
	}

	// Short penalty: wait it out so the caller does not burn another
	// throttle response.
	wait := state.TimeUntilRetry()
	t.logger.Warn().
		Str("account_id", accountID).
		Str("endpoint", endpoint).
		Dur("wait_duration", wait).
		Msg("Waiting out throttle penalty")

	throttleWaitsTotal.WithLabelValues(endpoint).Inc()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(wait):
	}

	return true, nil
}
