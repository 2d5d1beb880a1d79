package vendorapi

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestVendorError_Class(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		expected ErrorClass
	}{
		{
			name:     "throttle code",
			code:     CodeThrottled,
			expected: ErrorClassThrottled,
		},
		{
			name:     "validation code",
			code:     "1004",
			expected: ErrorClassRejected,
		},
		{
			name:     "auth code",
			code:     "4001",
			expected: ErrorClassRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ve := &VendorError{Code: tt.code, Message: "msg"}
			if got := ve.Class(); got != tt.expected {
				t.Errorf("Class() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestVendorError_Error(t *testing.T) {
	ve := &VendorError{
		Code:        "1004",
		Message:     "invalid session",
		Description: "session key expired",
	}

	msg := ve.Error()
	if !strings.Contains(msg, "1004") {
		t.Errorf("Error() = %q, want code included", msg)
	}
	if !strings.Contains(msg, "session key expired") {
		t.Errorf("Error() = %q, want description included", msg)
	}
}

func TestIsThrottled(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "throttled vendor error",
			err:      &VendorError{Code: CodeThrottled},
			expected: true,
		},
		{
			name:     "wrapped throttled error",
			err:      fmt.Errorf("fetch page: %w", &VendorError{Code: CodeThrottled}),
			expected: true,
		},
		{
			name:     "rejected vendor error",
			err:      &VendorError{Code: "1004"},
			expected: false,
		},
		{
			name:     "transport error",
			err:      &TransportError{Endpoint: "orders.list", Err: errors.New("timeout")},
			expected: false,
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsThrottled(tt.err); got != tt.expected {
				t.Errorf("IsThrottled() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	te := &TransportError{Endpoint: "orders.list", Err: inner}

	if !errors.Is(te, inner) {
		t.Error("errors.Is should reach the wrapped error")
	}
	if !strings.Contains(te.Error(), "orders.list") {
		t.Errorf("Error() = %q, want endpoint included", te.Error())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{
			name:     "throttled",
			err:      &VendorError{Code: CodeThrottled},
			expected: ErrorClassThrottled,
		},
		{
			name:     "rejected",
			err:      &VendorError{Code: "2001"},
			expected: ErrorClassRejected,
		},
		{
			name:     "transport",
			err:      &TransportError{Endpoint: "x", Err: errors.New("eof")},
			expected: ErrorClassTransport,
		},
		{
			name:     "unknown defaults to transport",
			err:      errors.New("boom"),
			expected: ErrorClassTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify() = %v, want %v", got, tt.expected)
			}
		})
	}
}
