// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tournament

import (
	"context"
	"sync"
	"time"
)

// Semaphore implements a counting semaphore for bounded lane concurrency.
//
// Thread Safety: Safe for concurrent use.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a new semaphore with the given capacity.
//
// Inputs:
//   - capacity: Maximum concurrent acquisitions. Must be > 0.
//
// Outputs:
//   - *Semaphore: A new semaphore.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{
		ch: make(chan struct{}, capacity),
	}
}

// Acquire acquires a slot, blocking until one is available.
//
// Inputs:
//   - ctx: Context for cancellation.
//
// Outputs:
//   - error: Non-nil if context was cancelled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release releases a slot back to the semaphore.
// Must be called after Acquire succeeds.
func (s *Semaphore) Release() {
	select {
	case <-s.ch:
	default:
		// Semaphore was empty - this is a bug in caller
		panic("semaphore: release without acquire")
	}
}

// Available returns the number of available slots.
func (s *Semaphore) Available() int {
	return cap(s.ch) - len(s.ch)
}

// laneOutcome is one lane's report back to the round barrier.
type laneOutcome struct {
	// HypothesisID identifies the evaluated hypothesis.
	HypothesisID string

	// Err is non-nil when the lane failed or was cancelled.
	Err error

	// Duration is how long the lane ran.
	Duration time.Duration
}

// runLanes executes one lane per hypothesis id, bounded by the semaphore,
// and blocks until every started lane reports. This is the round barrier:
// it returns only when no lane is left running.
//
// A cancelled context stops lanes from starting and cancels those in
// flight, but the barrier still waits for them to unwind.
func runLanes(ctx context.Context, sem *Semaphore, ids []string, run func(ctx context.Context, id string) error) []laneOutcome {
	resultCh := make(chan laneOutcome, len(ids))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			if err := sem.Acquire(ctx); err != nil {
				resultCh <- laneOutcome{HypothesisID: id, Err: err}
				return
			}
			defer sem.Release()

			start := time.Now()
			err := run(ctx, id)
			resultCh <- laneOutcome{
				HypothesisID: id,
				Err:          err,
				Duration:     time.Since(start),
			}
		}(id)
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	outcomes := make([]laneOutcome, 0, len(ids))
	for outcome := range resultCh {
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}
