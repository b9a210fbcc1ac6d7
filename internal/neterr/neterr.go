// Package neterr classifies transport failures into tagged network errors.
//
// Every failure produced while delivering a message (a transport error, an
// unexpected HTTP status, a cancelled context, an unreadable body) is turned
// into exactly one *Error carrying a Kind and a Retryable flag. The retry
// policy only ever looks at the flag; the UI layer renders the Kind.
//
// Classification is deterministic and side-effect free.
package neterr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Kind tags the failure category of a classified network error.
type Kind string

const (
	// KindNetwork is a transport-level failure with no usable response
	// (connection refused, DNS failure, reset). Retryable.
	KindNetwork Kind = "network"

	// KindTimeout is a deadline-driven cancellation. Retryable.
	KindTimeout Kind = "timeout"

	// KindHTTP is a non-2xx HTTP response. Retryable for 5xx, not for 4xx.
	KindHTTP Kind = "http"

	// KindCORS is a cross-origin rejection with no usable response.
	// Never retryable: the origin policy will not change between attempts.
	KindCORS Kind = "cors"

	// KindParse is a malformed body on an otherwise successful response.
	// Never retryable.
	KindParse Kind = "parse"

	// KindAbort is an intentional caller-driven cancellation.
	// Never retryable.
	KindAbort Kind = "abort"
)

// Error is a classified network error. Immutable once produced.
type Error struct {
	Kind      Kind
	Status    int // HTTP status code, set only for KindHTTP
	Retryable bool
	cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Kind == KindHTTP:
		return fmt.Sprintf("%s error: status %d", e.Kind, e.Status)
	case e.cause != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.cause)
	default:
		return fmt.Sprintf("%s error", e.Kind)
	}
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Classify turns a raw transport error into a classified *Error.
//
// Rules:
//   - context.Canceled (caller abort) → abort, non-retryable
//   - context.DeadlineExceeded or a net.Error timeout → timeout, retryable
//   - anything else (connection refused, DNS, reset, EOF) → network, retryable
//
// An already-classified *Error passes through unchanged, so call sites can
// classify defensively without double-wrapping.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	// url.Error wraps the underlying cause; unwrap so the context sentinels
	// below are visible through http.Client failures.
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindAbort, Retryable: false, cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Retryable: true, cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Retryable: true, cause: err}
	}

	return &Error{Kind: KindNetwork, Retryable: true, cause: err}
}

// ClassifyStatus classifies a non-2xx HTTP status code.
// Server errors (5xx) are retryable; client errors (4xx) are not.
func ClassifyStatus(status int) *Error {
	return &Error{
		Kind:      KindHTTP,
		Status:    status,
		Retryable: status >= 500 && status <= 599,
	}
}

// Parse classifies a body decoding failure on an otherwise successful
// response. Retrying would replay the same malformed payload.
func Parse(err error) *Error {
	return &Error{Kind: KindParse, Retryable: false, cause: err}
}

// CORS classifies a request blocked by origin or egress policy before any
// response was available.
func CORS(err error) *Error {
	return &Error{Kind: KindCORS, Retryable: false, cause: err}
}

// Abort classifies an explicit caller cancellation.
func Abort(err error) *Error {
	return &Error{Kind: KindAbort, Retryable: false, cause: err}
}
