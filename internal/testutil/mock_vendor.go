// Package testutil provides testing utilities for the vendor sync engine.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// Envelope is the vendor wire envelope used by the mock server.
// Code is `any` so tests can exercise both numeric and string codes.
type Envelope struct {
	Code        any    `json:"code"`
	Message     string `json:"message,omitempty"`
	Description string `json:"description,omitempty"`
	Action      string `json:"action,omitempty"`
	Data        any    `json:"data,omitempty"`
	Total       int    `json:"total,omitempty"`
}

// MockVendor is a configurable mock vendor API server for testing.
type MockVendor struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount   int
	EndpointCounts map[string]int
	LastBody       map[string]any
}

// NewMockVendor creates a new mock vendor server.
func NewMockVendor() *MockVendor {
	mock := &MockVendor{
		handlers:       make(map[string]func(w http.ResponseWriter, r *http.Request)),
		EndpointCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path[1:] // strip leading "/"

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		mock.mu.Lock()
		mock.RequestCount++
		mock.EndpointCounts[endpoint]++
		mock.LastBody = body
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[endpoint]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		// Default: empty success envelope
		WriteEnvelope(w, Envelope{Code: 0, Message: "ok"})
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockVendor) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockVendor) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockVendor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.EndpointCounts = make(map[string]int)
	m.LastBody = nil
}

// Requests returns the request count for one endpoint.
func (m *MockVendor) Requests(endpoint string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.EndpointCounts[endpoint]
}

// SetHandler registers a custom handler for one endpoint.
func (m *MockVendor) SetHandler(endpoint string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[endpoint] = handler
}

// RespondWith makes an endpoint always answer with the given envelope.
func (m *MockVendor) RespondWith(endpoint string, env Envelope) {
	m.SetHandler(endpoint, func(w http.ResponseWriter, r *http.Request) {
		WriteEnvelope(w, env)
	})
}

// ThrottleTimes makes an endpoint answer with a throttle envelope for the
// first n calls, then with the given envelope.
func (m *MockVendor) ThrottleTimes(endpoint string, n int, then Envelope) {
	var mu sync.Mutex
	calls := 0
	m.SetHandler(endpoint, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		throttle := calls <= n
		mu.Unlock()

		if throttle {
			WriteEnvelope(w, Envelope{
				Code:    4003,
				Message: "call budget exhausted",
				Action:  "reduce call frequency",
			})
			return
		}
		WriteEnvelope(w, then)
	})
}

// ServePaginated makes an endpoint serve slices of items, honoring the
// offset/length fields of the request payload and reporting len(items) as
// the authoritative total.
func (m *MockVendor) ServePaginated(endpoint string, items []map[string]any) {
	m.SetHandler(endpoint, func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		body := m.LastBody
		m.mu.RUnlock()

		offset := intField(body, "offset")
		length := intField(body, "length")
		if length <= 0 {
			length = len(items)
		}

		end := offset + length
		if offset > len(items) {
			offset = len(items)
		}
		if end > len(items) {
			end = len(items)
		}

		WriteEnvelope(w, Envelope{
			Code:  0,
			Data:  items[offset:end],
			Total: len(items),
		})
	})
}

// WriteEnvelope serializes an envelope as a vendor API response.
func WriteEnvelope(w http.ResponseWriter, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(env)
}

func intField(body map[string]any, key string) int {
	if body == nil {
		return 0
	}
	switch v := body[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
