package evaluator

import (
	"fmt"
	"net/http"
)

// TransportError is a network-level failure talking to the provider: a
// dropped connection, a timeout, or a non-2xx response.
type TransportError struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s transport: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s transport: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed. Client errors
// other than 408 and 429 will fail the same way again.
func (e *TransportError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// EmptyResponseError means the provider answered but carried no content.
type EmptyResponseError struct {
	Provider string
	Reason   string
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("%s returned empty content: %s", e.Provider, e.Reason)
}

// MalformedOutputError means the content is not a JSON object. Raw is kept
// for offline inspection. The client never retries this on its own.
type MalformedOutputError struct {
	Provider string
	Raw      string
	Err      error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("%s returned malformed output: %v", e.Provider, e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// CancelledError means the caller abandoned the evaluation.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string { return "evaluation cancelled: " + e.Err.Error() }

func (e *CancelledError) Unwrap() error { return e.Err }
