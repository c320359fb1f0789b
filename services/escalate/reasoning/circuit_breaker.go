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
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed allows requests through normally.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects all requests immediately.
	BreakerOpen

	// BreakerHalfOpen allows a single probe request to test recovery.
	BreakerHalfOpen
)

// String returns the human-readable name for the breaker state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	// Default: 5
	FailureThreshold int

	// Cooldown is the duration the breaker stays open before allowing a
	// single half-open probe. A failed probe reopens the breaker and
	// restarts the cooldown. Default: 30s
	Cooldown time.Duration
}

// DefaultBreakerConfig returns sensible defaults for the circuit breaker.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern for one logical backend.
//
// States:
//   - Closed: normal operation, requests pass through
//   - Open: failure threshold exceeded, requests rejected without a network call
//   - Half-Open: cooldown elapsed, exactly one probe allowed; success closes
//     the breaker, failure reopens it and resets the cooldown
//
// Thread Safety: Safe for concurrent use.
type Breaker struct {
	config BreakerConfig

	state               BreakerState
	consecutiveFailures int
	probeInFlight       bool
	openedAt            time.Time
	lastStateChange     time.Time

	mu sync.Mutex
}

// NewBreaker creates a circuit breaker in the closed state.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &Breaker{
		config:          config,
		state:           BreakerClosed,
		lastStateChange: time.Now(),
	}
}

// Allow checks if a request should be allowed through.
//
// In the open state, a request arriving after the cooldown transitions the
// breaker to half-open and is admitted as the probe. While a probe is in
// flight all other requests are rejected.
//
// Outputs:
//   - bool: True if the request is allowed.
//
// Thread Safety: Safe for concurrent use.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case BreakerClosed:
		return true

	case BreakerOpen:
		if now.Sub(b.openedAt) >= b.config.Cooldown {
			b.transitionTo(BreakerHalfOpen, now)
			b.probeInFlight = true
			return true
		}
		return false

	case BreakerHalfOpen:
		// Only one probe at a time.
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess records a successful request.
//
// A successful half-open probe closes the breaker.
//
// Thread Safety: Safe for concurrent use.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case BreakerClosed:
		b.consecutiveFailures = 0
	case BreakerHalfOpen:
		b.transitionTo(BreakerClosed, now)
	}
}

// RecordFailure records a failed request.
//
// Consecutive failures open the breaker; a failed half-open probe reopens
// it and resets the cooldown.
//
// Thread Safety: Safe for concurrent use.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.transitionTo(BreakerOpen, now)
			b.openedAt = now
		}
	case BreakerHalfOpen:
		b.transitionTo(BreakerOpen, now)
		b.openedAt = now
	}
}

// State returns the current breaker state.
//
// Thread Safety: Safe for concurrent use.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns current breaker statistics.
//
// Thread Safety: Safe for concurrent use.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
		LastStateChange:     b.lastStateChange,
	}
}

// transitionTo changes the breaker state.
// Must be called with the lock held.
func (b *Breaker) transitionTo(next BreakerState, now time.Time) {
	b.state = next
	b.lastStateChange = now
	b.probeInFlight = false
	if next == BreakerClosed {
		b.consecutiveFailures = 0
	}
}

// BreakerSnapshot contains circuit breaker statistics for health reporting.
type BreakerSnapshot struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            time.Time    `json:"opened_at,omitzero"`
	LastStateChange     time.Time    `json:"last_state_change"`
}
