// Package vendorapi provides the core vendor API client with capacity
// gating, throttle tracking, and error handling.
package vendorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/vendor-sync/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for vendor API operations.
var (
	vendorRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendor_requests_total",
		Help: "Total vendor requests by endpoint and result",
	}, []string{"endpoint", "result"})

	vendorRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vendor_request_duration_seconds",
		Help:    "Vendor request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	vendorErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendor_errors_total",
		Help: "Total vendor errors by class",
	}, []string{"class"})
)

// Account holds one tenant's vendor credentials. Read-only to the engine.
type Account struct {
	ID         string
	AppKey     string
	AppSecret  string
	SessionKey string
}

// Response is the parsed vendor envelope for one successful call.
type Response struct {
	Code    string
	Message string
	Data    json.RawMessage
	Total   int
}

// envelope mirrors the vendor wire format. Code arrives either as a JSON
// number or a string depending on endpoint generation.
type envelope struct {
	Code        json.RawMessage `json:"code"`
	Message     string          `json:"message"`
	Description string          `json:"description"`
	Action      string          `json:"action"`
	Data        json.RawMessage `json:"data"`
	Total       int             `json:"total"`
}

// normalizeCode reduces numeric and stringified forms of the same vendor
// code to one canonical string ("0", "200", "4003").
func normalizeCode(raw json.RawMessage) (string, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", fmt.Errorf("missing result code")
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return "", fmt.Errorf("parse result code: %w", err)
		}
		return strings.TrimSpace(str), nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return "", fmt.Errorf("parse result code: %w", err)
	}
	return num.String(), nil
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the vendor API gateway.
	BaseURL string

	// Gate provides per-endpoint admission control (REQUIRED).
	Gate *ratelimit.Gate

	// Tracker shares throttle penalties across processes (optional).
	Tracker *ratelimit.Tracker

	// HTTPClient used for vendor calls (default: 30s timeout).
	HTTPClient *http.Client

	// UserAgent header sent on every request.
	UserAgent string

	// SuccessCodes is the allow-list of envelope codes treated as success.
	SuccessCodes []string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string, gate *ratelimit.Gate) Config {
	return Config{
		BaseURL:      baseURL,
		Gate:         gate,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		UserAgent:    "vendor-sync/0.1.0",
		SuccessCodes: []string{"0", "200"},
	}
}

// Client is the rate-limit-aware vendor API client.
type Client struct {
	httpClient *http.Client
	gate       *ratelimit.Gate
	tracker    *ratelimit.Tracker
	config     Config
	success    map[string]struct{}
	logger     zerolog.Logger
}

// New creates a new vendor API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("capacity gate is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if len(cfg.SuccessCodes) == 0 {
		cfg.SuccessCodes = []string{"0", "200"}
	}

	success := make(map[string]struct{}, len(cfg.SuccessCodes)*2)
	for _, code := range cfg.SuccessCodes {
		success[code] = struct{}{}
		// Also index the canonical numeric rendering so "007" and "7"
		// match the same envelope code.
		if n, err := strconv.Atoi(code); err == nil {
			success[strconv.Itoa(n)] = struct{}{}
		}
	}

	logger := log.With().Str("component", "vendor-client").Logger()

	return &Client{
		httpClient: cfg.HTTPClient,
		gate:       cfg.Gate,
		tracker:    cfg.Tracker,
		config:     cfg,
		success:    success,
		logger:     logger,
	}, nil
}

// Execute performs one gated call against one vendor endpoint for one
// account. It blocks until endpoint capacity is available. A non-success
// envelope code yields a *VendorError; network failures yield a
// *TransportError.
func (c *Client) Execute(ctx context.Context, account Account, endpoint string, payload map[string]any, weight int) (*Response, error) {
	startTime := time.Now()
	defer func() {
		vendorRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Shared throttle state. An open penalty is surfaced as a
	// throttled VendorError so callers apply their normal backoff.
	if c.tracker != nil {
		allowed, err := c.tracker.ShouldAllowRequest(ctx, account.ID, endpoint)
		if err != nil {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Throttle state check failed")
		} else if !allowed {
			vendorRequestsTotal.WithLabelValues(endpoint, "blocked").Inc()
			return nil, &VendorError{
				Code:    CodeThrottled,
				Message: "call budget exhausted",
				Action:  "retry after penalty window",
			}
		}
	}

	// Step 2: Acquire endpoint capacity. Blocks until the declared weight
	// is available.
	release, err := c.gate.Acquire(ctx, account.ID, endpoint, weight)
	if err != nil {
		return nil, fmt.Errorf("acquire capacity: %w", err)
	}
	defer release()

	// Step 3: Build the request body. Credentials travel alongside the
	// endpoint payload.
	body := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		body[k] = v
	}
	body["app_key"] = account.AppKey
	body["session_key"] = account.SessionKey

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("account_id", account.ID).
		Str("endpoint", endpoint).
		Int("weight", weight).
		Msg("Executing vendor request")

	// Step 4: Execute.
	resp, err := c.httpClient.Do(req)
	if err != nil {
		vendorErrorsTotal.WithLabelValues(string(ErrorClassTransport)).Inc()
		vendorRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		vendorErrorsTotal.WithLabelValues(string(ErrorClassTransport)).Inc()
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}

	if resp.StatusCode >= 500 {
		vendorErrorsTotal.WithLabelValues(string(ErrorClassTransport)).Inc()
		vendorRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()
		return nil, &TransportError{
			Endpoint: endpoint,
			Err:      fmt.Errorf("gateway status %d", resp.StatusCode),
		}
	}

	// Step 5: Parse the envelope. Success is determined by the code
	// allow-list, not the HTTP status.
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		vendorErrorsTotal.WithLabelValues(string(ErrorClassTransport)).Inc()
		return nil, &TransportError{
			Endpoint: endpoint,
			Err:      fmt.Errorf("decode envelope: %w", err),
		}
	}

	code, err := normalizeCode(env.Code)
	if err != nil {
		vendorErrorsTotal.WithLabelValues(string(ErrorClassTransport)).Inc()
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}

	if _, ok := c.success[code]; !ok {
		ve := &VendorError{
			Code:        code,
			Message:     env.Message,
			Description: env.Description,
			Action:      env.Action,
		}
		vendorErrorsTotal.WithLabelValues(string(ve.Class())).Inc()
		vendorRequestsTotal.WithLabelValues(endpoint, code).Inc()

		c.logger.Warn().
			Str("account_id", account.ID).
			Str("endpoint", endpoint).
			Str("code", code).
			Str("error_class", string(ve.Class())).
			Msg("Vendor request rejected")

		if ve.Class() == ErrorClassThrottled && c.tracker != nil {
			if terr := c.tracker.RecordThrottle(ctx, account.ID, endpoint, 0); terr != nil {
				c.logger.Warn().Err(terr).Msg("Failed to record throttle penalty")
			}
		}
		return nil, ve
	}

	vendorRequestsTotal.WithLabelValues(endpoint, "ok").Inc()

	return &Response{
		Code:    code,
		Message: env.Message,
		Data:    env.Data,
		Total:   env.Total,
	}, nil
}
