package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrKind categorizes a fetch failure.
type ErrKind string

const (
	// KindConnection covers DNS failures, refused and reset
	// connections. Retryable.
	KindConnection ErrKind = "connection"
	// KindTimeout covers both the total attempt deadline and the
	// idle-read deadline. Retryable.
	KindTimeout ErrKind = "timeout"
	// KindHTTPStatus covers non-2xx responses. 5xx is retryable; 4xx is
	// terminal, commonly "no data published for this date".
	KindHTTPStatus ErrKind = "http_status"
	// KindReadIncomplete means the connection closed before the
	// declared content length was received. Retried at most once.
	KindReadIncomplete ErrKind = "read_incomplete"
	// KindInternal covers recovered panics and other faults inside a
	// unit. Terminal.
	KindInternal ErrKind = "internal"
)

// ErrInfo is a classified fetch failure.
type ErrInfo struct {
	Kind    ErrKind
	Code    int // HTTP status code, when Kind is KindHTTPStatus
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ErrInfo) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is and errors.As on the underlying cause.
func (e *ErrInfo) Unwrap() error {
	return e.Cause
}

// Retryable reports whether another attempt may succeed.
func (e *ErrInfo) Retryable() bool {
	switch e.Kind {
	case KindConnection, KindTimeout, KindReadIncomplete:
		return true
	case KindHTTPStatus:
		return e.Code >= 500
	default:
		return false
	}
}

func newConnectionError(cause error) *ErrInfo {
	return &ErrInfo{Kind: KindConnection, Message: "network request failed", Cause: cause}
}

func newTimeoutError(message string, cause error) *ErrInfo {
	return &ErrInfo{Kind: KindTimeout, Message: message, Cause: cause}
}

func newStatusError(code int) *ErrInfo {
	return &ErrInfo{Kind: KindHTTPStatus, Code: code, Message: fmt.Sprintf("unexpected status %d", code)}
}

func newReadIncompleteError(got, want int64, cause error) *ErrInfo {
	return &ErrInfo{
		Kind:    KindReadIncomplete,
		Message: fmt.Sprintf("connection closed after %d of %d bytes", got, want),
		Cause:   cause,
	}
}

// classifyTransport maps a transport-level error onto the taxonomy.
// idleFired distinguishes an idle-read abort from an ordinary cancel.
func classifyTransport(err error, idleFired bool) *ErrInfo {
	if idleFired {
		return newTimeoutError("idle-read deadline exceeded", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newTimeoutError("attempt deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return newTimeoutError("attempt canceled", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newTimeoutError("attempt deadline exceeded", err)
	}
	return newConnectionError(err)
}
