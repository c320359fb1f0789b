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
	"testing"
	"time"
)

func TestBreaker_InitialState(t *testing.T) {
	b := NewBreaker(DefaultBreakerConfig())

	if b.State() != BreakerClosed {
		t.Errorf("expected initial state closed, got %v", b.State())
	}
	if !b.Allow() {
		t.Error("expected Allow() to return true in closed state")
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: 10 * time.Second})

	for i := 0; i < 3; i++ {
		if b.State() != BreakerClosed {
			t.Fatalf("expected closed state before threshold, got %v at iteration %d", b.State(), i)
		}
		b.RecordFailure()
	}

	if b.State() != BreakerOpen {
		t.Errorf("expected open state after threshold, got %v", b.State())
	}
	if b.Allow() {
		t.Error("expected Allow() to return false in open state")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: 10 * time.Second})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != BreakerClosed {
		t.Errorf("expected closed state, got %v", b.State())
	}
}

func TestBreaker_SingleProbeAfterCooldown(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("expected open state, got %v", b.State())
	}
	if b.Allow() {
		t.Fatal("expected rejection before cooldown")
	}

	time.Sleep(20 * time.Millisecond)

	// First request after cooldown is the probe.
	if !b.Allow() {
		t.Fatal("expected probe to be admitted after cooldown")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half-open state, got %v", b.State())
	}

	// Only one probe at a time.
	if b.Allow() {
		t.Error("expected second request to be rejected while probe in flight")
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Millisecond})

	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected probe admitted")
	}
	b.RecordSuccess()

	if b.State() != BreakerClosed {
		t.Errorf("expected closed state after probe success, got %v", b.State())
	}
	if !b.Allow() {
		t.Error("expected Allow() after breaker closed")
	}
}

func TestBreaker_ProbeFailureReopensAndResetsCooldown(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 50 * time.Millisecond})

	b.RecordFailure()
	time.Sleep(60 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected probe admitted")
	}
	b.RecordFailure()

	if b.State() != BreakerOpen {
		t.Fatalf("expected open state after probe failure, got %v", b.State())
	}
	// Cooldown restarted: immediate request must be rejected.
	if b.Allow() {
		t.Error("expected rejection during restarted cooldown")
	}
}

func TestBreaker_ConcurrentRecording(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 100, Cooldown: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.RecordFailure()
		}()
		go func() {
			defer wg.Done()
			b.Allow()
		}()
	}
	wg.Wait()

	snap := b.Snapshot()
	if snap.ConsecutiveFailures != 50 {
		t.Errorf("ConsecutiveFailures = %d, want 50", snap.ConsecutiveFailures)
	}
	if snap.State != BreakerClosed {
		t.Errorf("expected closed state below threshold, got %v", snap.State)
	}
}
