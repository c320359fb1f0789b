// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation provides the session-scoped conversation engine.
//
// A session is one stateful multi-turn investigation between the local
// analysis agent (requester) and the remote reasoning service (analyzer).
// The Store owns the session table, per-session mutual exclusion, and TTL
// eviction; the Manager drives the session lifecycle state machine.
//
// Thread Safety:
//
//	Store and Manager are safe for concurrent use. Session values must only
//	be touched inside Store.WithSession.
package conversation

import (
	"time"
)

// AnalysisType is the investigation mode, fixed at session creation.
type AnalysisType string

const (
	// AnalysisExecutionTrace follows one execution path across the code.
	AnalysisExecutionTrace AnalysisType = "execution_trace"

	// AnalysisCrossSystem investigates behavior spanning service boundaries.
	AnalysisCrossSystem AnalysisType = "cross_system"

	// AnalysisPerformance investigates latency and resource regressions.
	AnalysisPerformance AnalysisType = "performance"

	// AnalysisHypothesisTest evaluates one candidate explanation.
	AnalysisHypothesisTest AnalysisType = "hypothesis_test"
)

// Valid reports whether t is a known analysis type.
func (t AnalysisType) Valid() bool {
	switch t {
	case AnalysisExecutionTrace, AnalysisCrossSystem, AnalysisPerformance, AnalysisHypothesisTest:
		return true
	default:
		return false
	}
}

// SessionState is the lifecycle state of a session.
type SessionState int

const (
	// StateCreated is the initial state before the first turn.
	StateCreated SessionState = iota

	// StateActive accepts new turns.
	StateActive

	// StateAwaitingRemote has a remote call in flight for the current turn.
	StateAwaitingRemote

	// StateFinalizing has exhausted its budget; only Finalize is allowed.
	StateFinalizing

	// StateCompleted has produced its closing summary. Terminal.
	StateCompleted

	// StateExpired was evicted by the idle sweep. Terminal.
	StateExpired

	// StateFailed hit a permanent remote failure or the turn guard. Terminal.
	StateFailed
)

// String returns the human-readable name for the session state.
func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateAwaitingRemote:
		return "awaiting_remote"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateExpired:
		return "expired"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further turns are possible.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateExpired || s == StateFailed
}

// Turn roles.
const (
	// RoleRequester is the local analysis agent.
	RoleRequester = "requester"

	// RoleAnalyzer is the remote reasoning service.
	RoleAnalyzer = "analyzer"
)

// Turn is one exchange unit in the session transcript.
//
// Turns are immutable once appended; history is only ever extended.
type Turn struct {
	// Index is 0-based, strictly increasing, gapless within a session.
	Index int `json:"index"`

	// Role is RoleRequester or RoleAnalyzer.
	Role string `json:"role"`

	// Payload is the free-form structured content of the turn.
	Payload string `json:"payload"`

	// Timestamp is when the turn was appended.
	Timestamp time.Time `json:"timestamp"`
}

// Budget is the depleting allowance bounding a session.
//
// Both components decrease monotonically; the session transitions to
// StateFinalizing when either reaches zero.
type Budget struct {
	// TimeRemaining is the remaining wall-clock allowance.
	TimeRemaining time.Duration `json:"time_remaining"`

	// TurnsRemaining is the remaining exchange count.
	TurnsRemaining int `json:"turns_remaining"`
}

// Exhausted reports whether either budget component has run out.
func (b Budget) Exhausted() bool {
	return b.TimeRemaining <= 0 || b.TurnsRemaining <= 0
}

// Session is one investigation thread.
//
// Fields must only be accessed inside Store.WithSession; the Store's
// per-session lock guarantees exactly one in-flight turn at a time.
type Session struct {
	// ID is the opaque session identifier.
	ID string

	// State is the lifecycle state.
	State SessionState

	// AnalysisType is fixed at creation, immutable.
	AnalysisType AnalysisType

	// Turns is the ordered append-only transcript.
	Turns []Turn

	// Budget is the remaining allowance.
	Budget Budget

	// CreatedAt is the creation time.
	CreatedAt time.Time

	// LastActivityAt drives idle eviction.
	LastActivityAt time.Time

	// Findings maps finding-id to payload, merged (never replaced) per turn.
	Findings map[string]string

	// Summary is the finalize result, kept for idempotent re-finalize.
	Summary *Summary
}

// AppendTurn extends the transcript with the next gapless index.
func (s *Session) AppendTurn(role, payload string, now time.Time) Turn {
	turn := Turn{
		Index:     len(s.Turns),
		Role:      role,
		Payload:   payload,
		Timestamp: now,
	}
	s.Turns = append(s.Turns, turn)
	s.LastActivityAt = now
	return turn
}

// MergeFindings folds new findings into the accumulated set.
func (s *Session) MergeFindings(findings map[string]string) {
	if len(findings) == 0 {
		return
	}
	if s.Findings == nil {
		s.Findings = make(map[string]string, len(findings))
	}
	for id, payload := range findings {
		s.Findings[id] = payload
	}
}

// TurnResult is the caller-visible outcome of one completed exchange.
type TurnResult struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id"`

	// TurnIndex is the index of the analyzer turn produced.
	TurnIndex int `json:"turn_index"`

	// Content is the analyzer response payload.
	Content string `json:"content"`

	// Findings is a snapshot of the accumulated findings.
	Findings map[string]string `json:"findings,omitempty"`

	// Budget is the remaining allowance after this exchange.
	Budget Budget `json:"budget"`

	// State is the session state after this exchange.
	State string `json:"state"`
}

// Summary is the consolidated result of a finalized session.
type Summary struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id"`

	// Text is the consolidated summary produced by the analyzer.
	Text string `json:"text"`

	// Findings is the final accumulated findings set.
	Findings map[string]string `json:"findings,omitempty"`

	// TurnsTaken is the transcript length at finalization.
	TurnsTaken int `json:"turns_taken"`

	// GeneratedAt is when the summary was produced.
	GeneratedAt time.Time `json:"generated_at"`
}

// StatusSnapshot is a read-only, best-effort view of a session.
//
// Safe to read concurrently with an in-flight turn; it reflects the state
// as of the last completed operation.
type StatusSnapshot struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id"`

	// State is the lifecycle state name.
	State string `json:"state"`

	// AnalysisType is the investigation mode.
	AnalysisType AnalysisType `json:"analysis_type"`

	// TurnsTaken is the transcript length.
	TurnsTaken int `json:"turns_taken"`

	// Budget is the remaining allowance.
	Budget Budget `json:"budget"`

	// CreatedAt is the creation time.
	CreatedAt time.Time `json:"created_at"`

	// LastActivityAt is the last mutation time.
	LastActivityAt time.Time `json:"last_activity_at"`
}
