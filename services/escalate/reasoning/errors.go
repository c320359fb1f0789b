// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reasoning

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the reasoning client.
var (
	// ErrBreakerOpen indicates the circuit breaker rejected the call fast.
	ErrBreakerOpen = errors.New("circuit breaker is open, reasoning requests blocked")

	// ErrNilBackend indicates the client was constructed without a backend.
	ErrNilBackend = errors.New("backend must not be nil")

	// ErrEmptyPrompt indicates an empty or whitespace-only prompt.
	ErrEmptyPrompt = errors.New("prompt must not be empty")

	// ErrResponseEmpty indicates the backend returned no usable content.
	ErrResponseEmpty = errors.New("backend returned empty response")

	// ErrInvalidRetryConfig indicates an unusable retry configuration.
	ErrInvalidRetryConfig = errors.New("invalid retry configuration")
)

// FailureKind classifies a remote reasoning failure.
type FailureKind int

const (
	// FailureTransient is a temporary backend failure (5xx, connection reset).
	// Retried with backoff.
	FailureTransient FailureKind = iota

	// FailureRateLimited means the backend or the local limiter throttled the
	// call. Retried after the advised delay.
	FailureRateLimited

	// FailureTimeout means the call exceeded its deadline. Retried like a
	// transient failure up to the attempt cap.
	FailureTimeout

	// FailurePermanent is a non-recoverable failure (4xx, open breaker,
	// malformed request). Never retried.
	FailurePermanent
)

// String returns the human-readable name for the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailureRateLimited:
		return "rate_limited"
	case FailureTimeout:
		return "timeout"
	case FailurePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// RemoteError is the typed failure returned by Client.Invoke.
//
// Callers branch on Kind (or use IsRetryable) rather than string matching.
type RemoteError struct {
	// Kind classifies the failure for retry decisions.
	Kind FailureKind

	// RetryAfter is the backend-advised wait before retrying.
	// Zero when the backend gave no hint. Only meaningful for
	// FailureRateLimited.
	RetryAfter time.Duration

	// Backend is the logical backend name that produced the failure.
	Backend string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reasoning %s failure (backend=%s): %v", e.Kind, e.Backend, e.Err)
	}
	return fmt.Sprintf("reasoning %s failure (backend=%s)", e.Kind, e.Backend)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable transient failure.
func Transient(backend string, err error) *RemoteError {
	return &RemoteError{Kind: FailureTransient, Backend: backend, Err: err}
}

// RateLimited wraps err as a rate-limit failure with an advised wait.
func RateLimited(backend string, retryAfter time.Duration, err error) *RemoteError {
	return &RemoteError{Kind: FailureRateLimited, RetryAfter: retryAfter, Backend: backend, Err: err}
}

// Timeout wraps err as a deadline failure.
func Timeout(backend string, err error) *RemoteError {
	return &RemoteError{Kind: FailureTimeout, Backend: backend, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(backend string, err error) *RemoteError {
	return &RemoteError{Kind: FailurePermanent, Backend: backend, Err: err}
}

// KindOf extracts the failure kind from an error chain.
//
// Errors that are not RemoteError are treated as permanent: the client
// classifies everything it returns, so an unclassified error means a
// programming mistake upstream and must not be retried blindly.
func KindOf(err error) FailureKind {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	return FailurePermanent
}

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case FailureTransient, FailureRateLimited, FailureTimeout:
		return true
	default:
		return false
	}
}

// RetryAfterOf extracts the backend-advised retry delay, or zero.
func RetryAfterOf(err error) time.Duration {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}
