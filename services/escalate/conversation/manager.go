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

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianEscalate/services/escalate/reasoning"
)

var managerTracer = otel.Tracer("escalate.conversation")

var (
	turnsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escalate_turns_completed_total",
		Help: "Completed conversation exchanges by analysis type",
	}, []string{"analysis_type"})

	sessionOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escalate_session_outcomes_total",
		Help: "Terminal session outcomes by state",
	}, []string{"state"})
)

// PromptProvider supplies per-analysis-type prompt framing.
type PromptProvider interface {
	// SystemPrompt returns the system prompt for an analysis type.
	SystemPrompt(analysisType string) string

	// SummaryPrompt returns the instruction for the closing summary turn.
	SummaryPrompt() string
}

// ManagerConfig configures the conversation manager.
type ManagerConfig struct {
	// MaxTurns is the hard guard on transcript length (turn entries, both
	// roles). Exceeding it fails the session. Default: 100.
	MaxTurns int

	// TranscriptCharBudget bounds the transcript window sent to the remote
	// service. The most recent turns that fit are included. Default: 48000.
	TranscriptCharBudget int

	// ResponseMaxTokens caps analyzer responses. Default: 4096.
	ResponseMaxTokens int

	// Temperature is the sampling temperature for analysis turns.
	// Deep analysis wants focused output. Default: 0.2.
	Temperature float32
}

// DefaultManagerConfig returns sensible defaults for the manager.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxTurns:             100,
		TranscriptCharBudget: 48000,
		ResponseMaxTokens:    4096,
		Temperature:          0.2,
	}
}

// Manager drives the session lifecycle state machine.
//
// State machine:
//
//	Created -> Active on the first turn
//	Active <-> AwaitingRemote once per turn (remote call in flight)
//	Active -> Finalizing when the budget is exhausted or on request
//	Finalizing -> Completed once the closing summary is produced
//	any -> Failed on a permanent remote failure or the turn guard
//
// Thread Safety: Safe for concurrent use; per-session serialization comes
// from the Store lock.
type Manager struct {
	store   *Store
	client  reasoning.Client
	prompts PromptProvider
	config  ManagerConfig
}

// NewManager creates a conversation manager.
//
// Inputs:
//   - store: Session table. Must not be nil.
//   - client: Remote reasoning client. Must not be nil.
//   - prompts: Prompt provider. Must not be nil.
//   - config: Manager configuration.
//
// Outputs:
//   - *Manager: The configured manager.
//   - error: If any dependency is nil.
func NewManager(store *Store, client reasoning.Client, prompts PromptProvider, config ManagerConfig) (*Manager, error) {
	if store == nil || client == nil || prompts == nil {
		return nil, fmt.Errorf("store, client, and prompts must not be nil")
	}
	if config.MaxTurns <= 0 {
		config.MaxTurns = DefaultManagerConfig().MaxTurns
	}
	if config.TranscriptCharBudget <= 0 {
		config.TranscriptCharBudget = DefaultManagerConfig().TranscriptCharBudget
	}
	if config.ResponseMaxTokens <= 0 {
		config.ResponseMaxTokens = DefaultManagerConfig().ResponseMaxTokens
	}
	return &Manager{
		store:   store,
		client:  client,
		prompts: prompts,
		config:  config,
	}, nil
}

// Start opens a session and performs the first exchange.
//
// Description:
//
//	Validates the budget, allocates the session in StateCreated, appends
//	turn 0 (requester, the initial context), transitions to StateActive,
//	issues the first remote call, and appends the analyzer response as
//	turn 1.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	analysisType - Investigation mode. Fixed for the session lifetime.
//	initialContext - The opening question plus evidence.
//	budget - Initial allowance. Both components must be positive.
//
// Outputs:
//
//	string - The session id (also set on failure after allocation).
//	*TurnResult - The first analyzer response.
//	error - ErrInvalidBudget, ErrInvalidAnalysisType, or a remote failure.
func (m *Manager) Start(ctx context.Context, analysisType AnalysisType, initialContext string, budget Budget) (string, *TurnResult, error) {
	ctx, span := managerTracer.Start(ctx, "conversation.Start")
	defer span.End()
	span.SetAttributes(attribute.String("analysis_type", string(analysisType)))

	if strings.TrimSpace(initialContext) == "" {
		return "", nil, ErrEmptyMessage
	}

	id, err := m.store.Create(analysisType, budget)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}
	span.SetAttributes(attribute.String("session_id", id))

	var result *TurnResult
	err = m.store.WithSession(ctx, id, func(s *Session) error {
		s.AppendTurn(RoleRequester, initialContext, m.store.clock.Now())
		s.State = StateActive

		resp, exchErr := m.exchange(ctx, s)
		if exchErr != nil {
			return exchErr
		}
		result = m.completeExchange(s, resp, false)
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return id, nil, err
	}

	slog.Info("Conversation started",
		"session_id", id,
		"analysis_type", analysisType,
		"turn_budget", budget.TurnsRemaining,
		"time_budget", budget.TimeRemaining,
	)
	return id, result, nil
}

// Continue performs one exchange on an active session.
//
// Description:
//
//	Fails with ErrSessionNotFound for absent or evicted ids,
//	ErrSessionNotActive outside StateActive, ErrSessionFailed after a
//	permanent failure, and ErrBudgetExhausted on a spent budget (without
//	mutating the transcript). On success the time budget decreases by the
//	elapsed wall time and the turn budget by one.
//
//	A retryable remote failure (transient or rate-limited, after internal
//	retries) leaves the transcript and turn index untouched so the caller
//	may resubmit the same logical turn. A permanent failure or an
//	exhausted-timeout failure moves the session to StateFailed.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	id - Session id.
//	message - The requester payload for this turn.
//
// Outputs:
//
//	*TurnResult - The analyzer response and remaining budget.
//	error - Typed session or remote failure.
func (m *Manager) Continue(ctx context.Context, id string, message string) (*TurnResult, error) {
	ctx, span := managerTracer.Start(ctx, "conversation.Continue")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", id))

	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	var result *TurnResult
	err := m.store.WithSession(ctx, id, func(s *Session) error {
		if s.State == StateFinalizing {
			return ErrBudgetExhausted
		}
		if err := guardActive(s); err != nil {
			return err
		}
		if s.Budget.Exhausted() {
			s.State = StateFinalizing
			return ErrBudgetExhausted
		}
		if len(s.Turns) >= m.config.MaxTurns {
			m.fail(s, "turn guard")
			return ErrMaxTurnsExceeded
		}

		started := time.Now()
		resp, exchErr := m.exchangeWithPending(ctx, s, message)
		elapsed := time.Since(started)

		// Time spent is spent, success or not; one retry cycle at most.
		s.Budget.TimeRemaining -= elapsed

		if exchErr != nil {
			return exchErr
		}

		s.AppendTurn(RoleRequester, message, m.store.clock.Now())
		result = m.completeExchange(s, resp, true)
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

// Finalize produces the consolidated summary and completes the session.
//
// Description:
//
//	Allowed from StateActive or StateFinalizing. Issues one last remote
//	call asking for a consolidated summary of the accumulated findings,
//	appends the closing analyzer turn, and transitions to StateCompleted.
//	Idempotent: finalizing a completed session returns the previously
//	produced summary unchanged.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	id - Session id.
//
// Outputs:
//
//	*Summary - The consolidated summary.
//	error - Typed session or remote failure.
func (m *Manager) Finalize(ctx context.Context, id string) (*Summary, error) {
	ctx, span := managerTracer.Start(ctx, "conversation.Finalize")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", id))

	var summary *Summary
	err := m.store.WithSession(ctx, id, func(s *Session) error {
		switch s.State {
		case StateCompleted:
			summary = s.Summary
			return nil
		case StateFailed:
			return ErrSessionFailed
		case StateActive, StateFinalizing:
			// Allowed.
		default:
			return ErrSessionNotActive
		}

		resp, exchErr := m.exchangeWithPending(ctx, s, m.summaryRequest(s))
		if exchErr != nil {
			if isSessionFatal(exchErr) {
				m.fail(s, "finalize failure")
			}
			return exchErr
		}

		s.AppendTurn(RoleAnalyzer, resp.Content, m.store.clock.Now())
		s.State = StateCompleted
		s.Summary = &Summary{
			SessionID:   s.ID,
			Text:        resp.Content,
			Findings:    s.Findings,
			TurnsTaken:  len(s.Turns),
			GeneratedAt: m.store.clock.Now(),
		}
		summary = s.Summary
		sessionOutcomesTotal.WithLabelValues(StateCompleted.String()).Inc()
		slog.Info("Conversation finalized", "session_id", s.ID, "turns", len(s.Turns))
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return summary, nil
}

// Status returns a best-effort snapshot without blocking an in-flight turn.
func (m *Manager) Status(id string) (*StatusSnapshot, error) {
	return m.store.Status(id)
}

// --- internals ---

// guardActive rejects turns on sessions outside StateActive.
func guardActive(s *Session) error {
	switch s.State {
	case StateActive:
		return nil
	case StateFailed:
		return ErrSessionFailed
	case StateCompleted:
		return ErrSessionCompleted
	default:
		return ErrSessionNotActive
	}
}

// exchange issues the remote call for the transcript as it stands.
func (m *Manager) exchange(ctx context.Context, s *Session) (*reasoning.Response, error) {
	return m.exchangeWithPending(ctx, s, "")
}

// exchangeWithPending issues the remote call for the transcript plus an
// un-appended requester message. The message is only appended by the caller
// after success, which is what keeps turn indices gapless across retryable
// failures.
func (m *Manager) exchangeWithPending(ctx context.Context, s *Session, pending string) (*reasoning.Response, error) {
	callCtx := ctx
	if s.Budget.TimeRemaining > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.Budget.TimeRemaining)
		defer cancel()
	}

	prev := s.State
	s.State = StateAwaitingRemote
	resp, err := m.client.Invoke(callCtx, m.buildRequest(s, pending))
	if err != nil {
		if isSessionFatal(err) {
			m.fail(s, "remote failure")
		} else {
			s.State = prev
		}
		return nil, err
	}
	s.State = StateActive
	return resp, nil
}

// completeExchange appends the analyzer turn, merges findings, applies the
// turn budget, and assembles the caller-visible result.
func (m *Manager) completeExchange(s *Session, resp *reasoning.Response, chargeTurn bool) *TurnResult {
	turn := s.AppendTurn(RoleAnalyzer, resp.Content, m.store.clock.Now())
	s.MergeFindings(extractFindings(resp.Content))

	if chargeTurn {
		s.Budget.TurnsRemaining--
	}
	if s.Budget.Exhausted() {
		s.State = StateFinalizing
	}

	turnsCompletedTotal.WithLabelValues(string(s.AnalysisType)).Inc()
	return &TurnResult{
		SessionID: s.ID,
		TurnIndex: turn.Index,
		Content:   resp.Content,
		Findings:  s.Findings,
		Budget:    s.Budget,
		State:     s.State.String(),
	}
}

// fail moves the session to its terminal failure state.
func (m *Manager) fail(s *Session, reason string) {
	s.State = StateFailed
	sessionOutcomesTotal.WithLabelValues(StateFailed.String()).Inc()
	slog.Warn("Conversation failed", "session_id", s.ID, "reason", reason)
}

// isSessionFatal reports whether a remote failure terminates the session.
// Permanent failures and timeouts that survived the retry cap are fatal;
// transient and rate-limit failures stay retryable for the caller.
func isSessionFatal(err error) bool {
	switch reasoning.KindOf(err) {
	case reasoning.FailurePermanent, reasoning.FailureTimeout:
		return true
	default:
		return false
	}
}

// buildRequest assembles the bounded transcript window plus the pending
// message into a remote request.
func (m *Manager) buildRequest(s *Session, pending string) *reasoning.Request {
	messages := windowTranscript(s.Turns, pending, m.config.TranscriptCharBudget)
	return &reasoning.Request{
		SystemPrompt: m.prompts.SystemPrompt(string(s.AnalysisType)),
		Messages:     messages,
		MaxTokens:    m.config.ResponseMaxTokens,
		Temperature:  m.config.Temperature,
	}
}

// windowTranscript returns the most recent turns (plus the pending message)
// that fit the character budget, preserving dialogue order.
func windowTranscript(turns []Turn, pending string, charBudget int) []reasoning.Message {
	remaining := charBudget - len(pending)

	start := 0
	total := 0
	for i := len(turns) - 1; i >= 0; i-- {
		total += len(turns[i].Payload)
		if total > remaining {
			start = i + 1
			break
		}
	}

	messages := make([]reasoning.Message, 0, len(turns)-start+1)
	for _, t := range turns[start:] {
		role := reasoning.RoleRequester
		if t.Role == RoleAnalyzer {
			role = reasoning.RoleAnalyzer
		}
		messages = append(messages, reasoning.Message{Role: role, Content: t.Payload})
	}
	if pending != "" {
		messages = append(messages, reasoning.Message{Role: reasoning.RoleRequester, Content: pending})
	}
	return messages
}

// summaryRequest builds the finalize instruction with the findings so far.
func (m *Manager) summaryRequest(s *Session) string {
	var b strings.Builder
	b.WriteString(m.prompts.SummaryPrompt())
	if len(s.Findings) > 0 {
		b.WriteString("\n\nAccumulated findings:\n")
		encoded, err := json.MarshalIndent(s.Findings, "", "  ")
		if err == nil {
			b.Write(encoded)
		}
	}
	return b.String()
}

// extractFindings pulls a findings object out of an analyzer response.
//
// Accepts either a bare JSON object with a "findings" key or a fenced
// ```json block containing one. Anything unparseable is ignored: findings
// extraction is opportunistic, never a failure path.
func extractFindings(content string) map[string]string {
	candidate := content
	if idx := strings.Index(content, "```json"); idx >= 0 {
		rest := content[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate = rest[:end]
		}
	}

	var envelope struct {
		Findings map[string]json.RawMessage `json:"findings"`
	}
	decoder := json.NewDecoder(strings.NewReader(strings.TrimSpace(candidate)))
	if err := decoder.Decode(&envelope); err != nil || len(envelope.Findings) == 0 {
		return nil
	}

	out := make(map[string]string, len(envelope.Findings))
	for id, raw := range envelope.Findings {
		var asString string
		if err := json.Unmarshal(raw, &asString); err == nil {
			out[id] = asString
			continue
		}
		out[id] = string(raw)
	}
	return out
}
