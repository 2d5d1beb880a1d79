package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var (
	gateWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vendor_gate_wait_seconds",
		Help:    "Time spent waiting for endpoint capacity",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	gateAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendor_gate_acquisitions_total",
		Help: "Total capacity acquisitions by endpoint",
	}, []string{"endpoint"})
)

// GateConfig holds capacity settings for one vendor endpoint.
type GateConfig struct {
	// Capacity is the shared concurrent-weight budget. Most vendor
	// endpoints here run with Capacity 1, which degenerates to mutual
	// exclusion.
	Capacity int

	// RequestsPerSecond is the sustained pacing rate per endpoint.
	RequestsPerSecond float64

	// Burst is the token-bucket burst size.
	Burst int
}

// DefaultGateConfig returns conservative defaults for vendor endpoints.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Capacity:          1,
		RequestsPerSecond: 2.0,
		Burst:             2,
	}
}

// Gate provides admission control per (account, endpoint). Every call
// acquires declared capacity weight before hitting the vendor and releases
// it afterwards; acquisition blocks until capacity is available.
type Gate struct {
	mu       sync.Mutex
	defaults GateConfig
	configs  map[string]GateConfig // per-endpoint overrides
	entries  map[string]*gateEntry
}

type gateEntry struct {
	limiter *rate.Limiter
	slots   chan struct{}
}

// NewGate creates a gate with the given default endpoint configuration.
func NewGate(defaults GateConfig) *Gate {
	if defaults.Capacity <= 0 {
		defaults.Capacity = 1
	}
	if defaults.RequestsPerSecond <= 0 {
		defaults.RequestsPerSecond = 2.0
	}
	if defaults.Burst <= 0 {
		defaults.Burst = 1
	}

	return &Gate{
		defaults: defaults,
		configs:  make(map[string]GateConfig),
		entries:  make(map[string]*gateEntry),
	}
}

// SetEndpointConfig overrides the capacity settings for one endpoint.
// Must be called before the first Acquire against that endpoint.
func (g *Gate) SetEndpointConfig(endpoint string, cfg GateConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.configs[endpoint] = cfg
}

func (g *Gate) entry(accountID, endpoint string) *gateEntry {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := accountID + ":" + endpoint
	if e, ok := g.entries[key]; ok {
		return e
	}

	cfg, ok := g.configs[endpoint]
	if !ok {
		cfg = g.defaults
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}

	slots := make(chan struct{}, cfg.Capacity)
	for i := 0; i < cfg.Capacity; i++ {
		slots <- struct{}{}
	}

	e := &gateEntry{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		slots:   slots,
	}
	g.entries[key] = e
	return e
}

// Acquire blocks until `weight` units of the endpoint's capacity budget are
// available, then returns a release function. The caller must invoke the
// release function when the vendor call completes.
func (g *Gate) Acquire(ctx context.Context, accountID, endpoint string, weight int) (func(), error) {
	if weight <= 0 {
		weight = 1
	}

	e := g.entry(accountID, endpoint)

	if weight > cap(e.slots) {
		return nil, fmt.Errorf("weight %d exceeds endpoint capacity %d", weight, cap(e.slots))
	}

	start := time.Now()

	// Pace first so a freed slot is not held across the token wait.
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate wait: %w", err)
	}

	acquired := 0
	for acquired < weight {
		select {
		case <-ctx.Done():
			// Return what we took.
			for i := 0; i < acquired; i++ {
				e.slots <- struct{}{}
			}
			return nil, ctx.Err()
		case <-e.slots:
			acquired++
		}
	}

	gateWaitSeconds.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	gateAcquisitionsTotal.WithLabelValues(endpoint).Inc()

	var once sync.Once
	release := func() {
		once.Do(func() {
			for i := 0; i < weight; i++ {
				e.slots <- struct{}{}
			}
		})
	}
	return release, nil
}
