package vendorapi

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// CodeThrottled is the vendor result code denoting an exhausted call budget.
// It is the only code the engine treats as retryable.
const CodeThrottled = "4003"

// ErrorClass represents a classification of sync-engine errors.
type ErrorClass string

const (
	// ErrorClassThrottled represents vendor throttle responses (retryable).
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassRejected represents vendor business/validation rejections
	// (not retryable).
	ErrorClassRejected ErrorClass = "rejected"

	// ErrorClassTransport represents network/timeout errors.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassPersistence represents local write failures for fetched
	// data or watermarks.
	ErrorClassPersistence ErrorClass = "persistence"
)

// VendorError represents a non-success result code from the vendor API.
type VendorError struct {
	Code        string
	Message     string
	Description string
	Action      string
}

// Error implements the error interface.
func (e *VendorError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("vendor error %s: %s (%s)", e.Code, e.Message, e.Description)
	}
	return fmt.Sprintf("vendor error %s: %s", e.Code, e.Message)
}

// Class returns the error classification for this vendor error.
func (e *VendorError) Class() ErrorClass {
	if e.Code == CodeThrottled {
		return ErrorClassThrottled
	}
	return ErrorClassRejected
}

// TransportError represents a network-level failure talking to the vendor.
type TransportError struct {
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s: %v", e.Endpoint, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsThrottled reports whether err is a vendor throttle response.
// Only throttled errors are eligible for backoff-and-retry.
func IsThrottled(err error) bool {
	var ve *VendorError
	return errors.As(err, &ve) && ve.Class() == ErrorClassThrottled
}

// Classify categorizes an error for observability and handling.
func Classify(err error) ErrorClass {
	var ve *VendorError
	if errors.As(err, &ve) {
		return ve.Class()
	}
	var te *TransportError
	if errors.As(err, &te) {
		return ErrorClassTransport
	}
	return ErrorClassTransport
}
