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
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the initial wait duration before first retry.
	// Default: 500ms
	InitialBackoff time.Duration

	// MaxBackoff is the maximum wait duration between retries.
	// Default: 15s
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier for exponential backoff.
	// Default: 2.0
	BackoffFactor float64

	// JitterFactor is the maximum jitter as a fraction of backoff (0-1).
	// Adds randomness to prevent thundering herd. Default: 0.2
	JitterFactor float64
}

// DefaultRetryConfig returns sensible defaults for retry behavior.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     15 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

// Validate checks if the retry configuration is valid.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return ErrInvalidRetryConfig
	}
	if c.InitialBackoff <= 0 {
		return ErrInvalidRetryConfig
	}
	if c.MaxBackoff < c.InitialBackoff {
		return ErrInvalidRetryConfig
	}
	if c.BackoffFactor < 1.0 {
		return ErrInvalidRetryConfig
	}
	return nil
}

// backoffState is the explicit retry state machine: attempt counter plus the
// next delay. Keeping it a value makes worst-case latency a simple function
// of the config, which the tournament round barrier depends on.
type backoffState struct {
	config  RetryConfig
	attempt int
	next    time.Duration
}

// newBackoffState returns a state positioned before the first attempt.
func newBackoffState(config RetryConfig) backoffState {
	return backoffState{config: config, next: config.InitialBackoff}
}

// Exhausted reports whether the attempt cap has been reached.
func (s *backoffState) Exhausted() bool {
	return s.attempt >= s.config.MaxAttempts
}

// Advance records that an attempt was made and returns the jittered delay to
// wait before the next one. The advised duration, when positive, takes
// precedence over the computed backoff (rate-limit hints from the backend).
func (s *backoffState) Advance(advised time.Duration) time.Duration {
	s.attempt++

	delay := withJitter(s.next, s.config.JitterFactor)
	if advised > delay {
		delay = advised
	}

	s.next = time.Duration(float64(s.next) * s.config.BackoffFactor)
	if s.next > s.config.MaxBackoff {
		s.next = s.config.MaxBackoff
	}
	return delay
}

// Attempts returns the number of attempts made so far.
func (s *backoffState) Attempts() int {
	return s.attempt
}

// withJitter spreads base into [base*(1-f), base*(1+f)].
func withJitter(base time.Duration, f float64) time.Duration {
	if f <= 0 {
		return base
	}
	jitter := (rand.Float64()*2 - 1) * f
	return time.Duration(float64(base) * (1.0 + jitter))
}

// sleepFor waits for d or until the context is cancelled.
func sleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
