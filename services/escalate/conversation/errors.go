// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import "errors"

// Sentinel errors for the conversation engine.
var (
	// ErrSessionNotFound indicates the session id is unknown or evicted.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotActive indicates the session cannot accept new turns.
	ErrSessionNotActive = errors.New("session is not active")

	// ErrSessionFailed indicates the session hit a permanent failure earlier.
	ErrSessionFailed = errors.New("session has failed")

	// ErrSessionCompleted indicates the session already produced its summary.
	ErrSessionCompleted = errors.New("session is completed")

	// ErrBudgetExhausted indicates the session budget is spent; the caller
	// must finalize.
	ErrBudgetExhausted = errors.New("session budget exhausted, finalize to collect the summary")

	// ErrInvalidBudget indicates a non-positive time or turn budget.
	ErrInvalidBudget = errors.New("budget must be positive")

	// ErrInvalidAnalysisType indicates an unknown analysis type.
	ErrInvalidAnalysisType = errors.New("unknown analysis type")

	// ErrEmptyMessage indicates an empty or whitespace-only turn message.
	ErrEmptyMessage = errors.New("message must not be empty")

	// ErrMaxTurnsExceeded indicates the hard per-session turn guard fired.
	ErrMaxTurnsExceeded = errors.New("maximum turn count exceeded")

	// ErrStoreFull indicates the session table is at capacity.
	ErrStoreFull = errors.New("session store is full")
)
