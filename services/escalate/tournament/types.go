// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tournament runs bounded-round elimination over candidate
// hypotheses.
//
// Each hypothesis is evaluated by an independent, cancellable lane that
// scores it against a shared evidence context through the remote reasoning
// client. Rounds rank the survivors, eliminate the lowest, and repeat until
// one hypothesis remains or the budget runs out.
//
// Thread Safety: The Scheduler is safe for concurrent use; each Run owns
// its hypothesis copies exclusively.
package tournament

import (
	"time"
)

// HypothesisStatus is the lifecycle state of a hypothesis.
type HypothesisStatus string

const (
	// StatusPending has not been scored in the current round.
	StatusPending HypothesisStatus = "pending"

	// StatusRunning is owned by a lane with an evaluation in flight.
	StatusRunning HypothesisStatus = "running"

	// StatusScored has a score and rationale for the current round.
	StatusScored HypothesisStatus = "scored"

	// StatusEliminated lost an elimination round. Terminal.
	StatusEliminated HypothesisStatus = "eliminated"

	// StatusWinner survived the tournament. Terminal.
	StatusWinner HypothesisStatus = "winner"
)

// Hypothesis is one candidate explanation under test.
//
// A hypothesis is exclusively owned by its lane while StatusRunning;
// ownership returns to the scheduler once scored or the lane fails.
type Hypothesis struct {
	// ID is the caller-assigned identifier, unique within a tournament.
	ID string `json:"id"`

	// Description is the candidate explanation in natural language.
	Description string `json:"description"`

	// SupportingEvidence maps evidence id to content specific to this
	// hypothesis, sent alongside the shared evidence context.
	SupportingEvidence map[string]string `json:"supporting_evidence,omitempty"`

	// Score is the latest evaluation score. Meaningless until Scored.
	Score float64 `json:"score"`

	// Scored reports whether Score has ever been set.
	Scored bool `json:"scored"`

	// Rationale is the analyzer's justification for the score.
	Rationale string `json:"rationale,omitempty"`

	// Status is the lifecycle state.
	Status HypothesisStatus `json:"status"`

	// Note records partial progress when a lane is cancelled or fails.
	Note string `json:"note,omitempty"`
}

// Elimination is one entry in the ordered elimination log.
type Elimination struct {
	// HypothesisID identifies the eliminated hypothesis.
	HypothesisID string `json:"hypothesis_id"`

	// Round is the 0-based round in which elimination happened.
	Round int `json:"round"`

	// Reason is why it was eliminated.
	Reason string `json:"reason"`
}

// Result is the outcome of one tournament run.
type Result struct {
	// Winner is the surviving hypothesis. Never nil on success.
	Winner *Hypothesis `json:"winner"`

	// Ranking is every hypothesis ordered best to worst: the winner first,
	// remaining contenders by score, then eliminations newest first.
	Ranking []Hypothesis `json:"ranking"`

	// Eliminated is the ordered elimination log.
	Eliminated []Elimination `json:"eliminated"`

	// Rounds is how many rounds completed.
	Rounds int `json:"rounds"`

	// Converged is true when the tournament narrowed to a single
	// hypothesis, false when it stopped on the round cap or the budget.
	Converged bool `json:"converged"`

	// BudgetLimited is true when the winner is provisional because the
	// tournament budget ran out with more than one hypothesis standing.
	BudgetLimited bool `json:"budget_limited"`
}

// Config configures a tournament run.
type Config struct {
	// Parallelism is the lane worker pool size. Default: 4.
	Parallelism int

	// MaxRounds caps the number of rounds. Default: 10.
	MaxRounds int

	// EliminatePerRound is how many hypotheses each round removes, floor
	// one, and never the sole survivor. Default: 1.
	EliminatePerRound int

	// RoundTimeout bounds one round; lanes still running at the deadline
	// are cancelled. Default: 2 minutes.
	RoundTimeout time.Duration

	// Budget is the shared wall-clock ceiling across all rounds and lanes.
	// Default: 10 minutes.
	Budget time.Duration
}

// DefaultConfig returns sensible defaults for a tournament.
func DefaultConfig() Config {
	return Config{
		Parallelism:       4,
		MaxRounds:         10,
		EliminatePerRound: 1,
		RoundTimeout:      2 * time.Minute,
		Budget:            10 * time.Minute,
	}
}

// Validate checks the tournament configuration.
func (c Config) Validate() error {
	if c.Parallelism < 1 || c.MaxRounds < 1 || c.EliminatePerRound < 1 {
		return ErrInvalidConfig
	}
	if c.RoundTimeout <= 0 || c.Budget <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
