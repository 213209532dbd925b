package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// errNoResponse is returned when a transport finishes without ever seeing a response.
var errNoResponse = errors.New("no response received")

// =============================================================================
// Configuration / Validation Errors
// =============================================================================

// ConfigurationError reports malformed or missing session credentials.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// ValidationError reports malformed operation input for a single item.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// Transport Errors
// =============================================================================

// TransportError is a transport-level failure: no response, launch failure, broken connection.
type TransportError struct {
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TransportTimeoutError is returned when an outbound call exceeds its deadline.
type TransportTimeoutError struct {
	Transport string
	Err       error
}

func (e *TransportTimeoutError) Error() string {
	return fmt.Sprintf("%s transport timed out: %v", e.Transport, e.Err)
}

func (e *TransportTimeoutError) Unwrap() error {
	return e.Err
}

// RemoteAPIError is a non-2xx or unparsable response from the remote service.
type RemoteAPIError struct {
	StatusCode   int
	Body         []byte
	BotChallenge bool
	Err          error
}

func (e *RemoteAPIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote api: unparsable response (status %d): %v", e.StatusCode, e.Err)
	}
	preview := string(e.Body)
	if len(preview) > 500 {
		preview = preview[:500]
	}
	if e.BotChallenge {
		return fmt.Sprintf("remote api: bot challenge (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("remote api: unexpected status %d: %s", e.StatusCode, preview)
}

func (e *RemoteAPIError) Unwrap() error {
	return e.Err
}

// classifyTransportError wraps err as a timeout when ctx or err says the deadline passed.
func classifyTransportError(ctx context.Context, transport string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || isNetworkTimeout(err) {
		return &TransportTimeoutError{Transport: transport, Err: err}
	}
	return &TransportError{Transport: transport, Err: err}
}

// =============================================================================
// Fatal Item Errors
// =============================================================================

// ItemError is returned by the processor when an item fails and the host does
// not continue on failure. It stops the run.
type ItemError struct {
	Index int
	Stage ItemStage
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d failed (%s): %v", e.Index, e.Stage, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Retryable Errors
// =============================================================================

// retryableErrorPatterns contains error message substrings that indicate retryable errors.
var retryableErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"TLS handshake timeout",
	"EOF",
	"malformed HTTP response",
	"transport connection broken",
	"use of closed network connection",
}

// IsRetryableError reports whether a new attempt might succeed. Authorization
// failures are never retryable: session tokens are short-lived and retrying
// them only hides the real problem.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var cfgErr *ConfigurationError
	var valErr *ValidationError
	if errors.As(err, &cfgErr) || errors.As(err, &valErr) {
		return false
	}

	var remoteErr *RemoteAPIError
	if errors.As(err, &remoteErr) {
		return remoteErr.StatusCode == 429 || remoteErr.StatusCode >= 500
	}

	var timeoutErr *TransportTimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}

	if isNetworkTimeout(err) {
		return true
	}

	return containsRetryablePattern(err.Error())
}

func isNetworkTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func containsRetryablePattern(errStr string) bool {
	for _, pattern := range retryableErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
