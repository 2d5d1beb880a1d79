// Package ratelimit implements per-endpoint capacity gating and shared
// throttle-penalty tracking. The gate serializes access to each vendor
// endpoint's capacity budget; the tracker shares throttle penalties across
// processes so a second worker does not burn the same budget.
package ratelimit

import (
	"time"
)

// Redis key prefix for shared throttle state. Full key:
// vendor:throttle:<account_id>:<endpoint>
const redisKeyThrottlePrefix = "vendor:throttle"

// Thresholds for throttle-penalty decisions.
const (
	// PenaltyBlockThreshold blocks requests outright when the remaining
	// penalty exceeds this duration. Waiting longer than this inside the
	// gate would stall the whole sequential pipeline.
	PenaltyBlockThreshold = 30 * time.Second

	// DefaultPenalty is applied when the vendor reports throttling without
	// a retry hint.
	DefaultPenalty = 5 * time.Second

	// stateTTL bounds how long throttle state lives in Redis. Stale
	// penalties must not outlive the vendor's own limit windows.
	stateTTL = 10 * time.Minute
)

// ThrottleState is the shared throttle-penalty state for one
// (account, endpoint) pair. It is stored in Redis so all processes
// targeting the same endpoint observe the same penalty.
type ThrottleState struct {
	// RetryAt is the earliest time a request may be attempted again.
	RetryAt time.Time `json:"retry_at"`

	// LastThrottle is when the vendor last reported throttling.
	LastThrottle time.Time `json:"last_throttle"`

	// Count is the number of throttle responses observed since the state
	// was last reset.
	Count int `json:"count"`
}

// Penalized returns true while the penalty window is still open.
func (s *ThrottleState) Penalized() bool {
	return time.Now().Before(s.RetryAt)
}

// TimeUntilRetry returns the remaining penalty duration.
// Returns 0 if the penalty has already expired.
func (s *ThrottleState) TimeUntilRetry() time.Duration {
	d := time.Until(s.RetryAt)
	if d < 0 {
		return 0
	}
	return d
}

// NeedsBlock returns true if the remaining penalty is long enough that the
// request should be rejected instead of waited out.
func (s *ThrottleState) NeedsBlock() bool {
	return s.TimeUntilRetry() > PenaltyBlockThreshold
}
