// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package escalate

import (
	"time"

	"github.com/AleutianAI/AleutianEscalate/services/escalate/conversation"
	"github.com/AleutianAI/AleutianEscalate/services/escalate/reasoning"
	"github.com/AleutianAI/AleutianEscalate/services/escalate/tournament"
)

// StartConversationRequest is the request body for /conversation/start.
type StartConversationRequest struct {
	// AnalysisType selects the investigation mode.
	AnalysisType string `json:"analysis_type" binding:"required"`

	// InitialContext is the opening question plus gathered evidence.
	InitialContext string `json:"initial_context" binding:"required"`

	// TimeBudgetSeconds is the wall-clock allowance for the session.
	TimeBudgetSeconds int `json:"time_budget_seconds" binding:"required,gt=0"`

	// TurnBudget is the number of exchanges allowed after the first.
	TurnBudget int `json:"turn_budget" binding:"required,gt=0"`
}

// StartConversationResponse is the response for /conversation/start.
type StartConversationResponse struct {
	// SessionID identifies the new session.
	SessionID string `json:"session_id"`

	// Turn is the first analyzer response.
	Turn *conversation.TurnResult `json:"turn"`
}

// ContinueConversationRequest is the request body for /conversation/continue.
type ContinueConversationRequest struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id" binding:"required"`

	// Message is the requester payload for this turn.
	Message string `json:"message" binding:"required"`
}

// FinalizeConversationRequest is the request body for /conversation/finalize.
type FinalizeConversationRequest struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id" binding:"required"`
}

// HypothesisInput is one candidate explanation in a tournament request.
type HypothesisInput struct {
	// ID is the caller-assigned identifier, unique within the request.
	ID string `json:"id" binding:"required"`

	// Description is the candidate explanation.
	Description string `json:"description" binding:"required"`

	// SupportingEvidence maps evidence id to content for this hypothesis.
	SupportingEvidence map[string]string `json:"supporting_evidence,omitempty"`
}

// TournamentRequest is the request body for /tournament.
type TournamentRequest struct {
	// Evidence is the shared context every lane evaluates against.
	Evidence string `json:"evidence" binding:"required"`

	// Hypotheses are the candidates under test.
	Hypotheses []HypothesisInput `json:"hypotheses" binding:"required,min=1"`

	// MaxRounds overrides the configured round cap when positive.
	MaxRounds int `json:"max_rounds,omitempty"`

	// EliminatePerRound overrides the elimination quota when positive.
	EliminatePerRound int `json:"eliminate_per_round,omitempty"`
}

// StatsResponse is the response for /stats.
type StatsResponse struct {
	// UptimeSeconds is how long the service has been running.
	UptimeSeconds float64 `json:"uptime_seconds"`

	// ActiveSessions is the number of resident conversation sessions.
	ActiveSessions int `json:"active_sessions"`

	// RemoteCalls is the aggregate remote call statistics.
	RemoteCalls reasoning.StatsSnapshot `json:"remote_calls"`

	// Breaker is the circuit breaker state for the active backend.
	Breaker reasoning.BreakerSnapshot `json:"breaker"`
}

// HealthResponse is the response for /health.
type HealthResponse struct {
	// Status is "healthy".
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`

	// Timestamp is the server time.
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// toHypotheses converts request inputs into tournament candidates.
func toHypotheses(inputs []HypothesisInput) []tournament.Hypothesis {
	out := make([]tournament.Hypothesis, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, tournament.Hypothesis{
			ID:                 in.ID,
			Description:        in.Description,
			SupportingEvidence: in.SupportingEvidence,
		})
	}
	return out
}
