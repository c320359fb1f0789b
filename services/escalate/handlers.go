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
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianEscalate/services/escalate/conversation"
	"github.com/AleutianAI/AleutianEscalate/services/escalate/reasoning"
	"github.com/AleutianAI/AleutianEscalate/services/escalate/tournament"
)

// Handlers contains the HTTP handlers for the escalation service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleStartConversation handles POST /v1/escalate/conversation/start.
//
// Request Body:
//
//	StartConversationRequest
//
// Response:
//
//	200 OK: StartConversationResponse
//	400 Bad Request: Validation error
//	429/502/503/504: Remote reasoning failure (see mapRemoteError)
func (h *Handlers) HandleStartConversation(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleStartConversation")

	var req StartConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	budget := conversation.Budget{
		TimeRemaining:  time.Duration(req.TimeBudgetSeconds) * time.Second,
		TurnsRemaining: req.TurnBudget,
	}

	id, turn, err := h.svc.StartConversation(c.Request.Context(), req.AnalysisType, req.InitialContext, budget)
	if err != nil {
		logger.Warn("Start failed", "error", err, "session_id", id)
		h.writeError(c, err)
		return
	}

	logger.Info("Conversation started", "session_id", id, "analysis_type", req.AnalysisType)
	c.JSON(http.StatusOK, StartConversationResponse{SessionID: id, Turn: turn})
}

// HandleContinueConversation handles POST /v1/escalate/conversation/continue.
//
// Response:
//
//	200 OK: conversation.TurnResult
//	404 Not Found: Unknown or evicted session
//	409 Conflict: Session not active or budget exhausted
func (h *Handlers) HandleContinueConversation(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleContinueConversation")

	var req ContinueConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	turn, err := h.svc.ContinueConversation(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		logger.Warn("Continue failed", "error", err, "session_id", req.SessionID)
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

// HandleFinalizeConversation handles POST /v1/escalate/conversation/finalize.
//
// Response:
//
//	200 OK: conversation.Summary
func (h *Handlers) HandleFinalizeConversation(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleFinalizeConversation")

	var req FinalizeConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	summary, err := h.svc.FinalizeConversation(c.Request.Context(), req.SessionID)
	if err != nil {
		logger.Warn("Finalize failed", "error", err, "session_id", req.SessionID)
		h.writeError(c, err)
		return
	}

	logger.Info("Conversation finalized", "session_id", req.SessionID)
	c.JSON(http.StatusOK, summary)
}

// HandleConversationStatus handles GET /v1/escalate/conversation/status/:id.
//
// Response:
//
//	200 OK: conversation.StatusSnapshot
//	404 Not Found: Unknown or evicted session
func (h *Handlers) HandleConversationStatus(c *gin.Context) {
	snap, err := h.svc.ConversationStatus(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// HandleTournament handles POST /v1/escalate/tournament.
//
// Response:
//
//	200 OK: tournament.Result
//	400 Bad Request: Validation error
func (h *Handlers) HandleTournament(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleTournament")

	var req TournamentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	logger.Info("Tournament starting", "hypotheses", len(req.Hypotheses))
	result, err := h.svc.RunTournament(c.Request.Context(), &req)
	if err != nil {
		logger.Warn("Tournament failed", "error", err)
		h.writeError(c, err)
		return
	}

	logger.Info("Tournament finished",
		"winner", result.Winner.ID,
		"rounds", result.Rounds,
		"converged", result.Converged,
	)
	c.JSON(http.StatusOK, result)
}

// HandleHealth handles GET /v1/escalate/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   ServiceVersion,
		Timestamp: time.Now().UTC(),
	})
}

// HandleReady handles GET /v1/escalate/ready.
//
// Ready means the remote backend's circuit breaker is not open: an open
// breaker cannot serve new investigations.
func (h *Handlers) HandleReady(c *gin.Context) {
	breaker := h.svc.client.BreakerSnapshot()
	if breaker.State == reasoning.BreakerOpen {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "remote reasoning backend unavailable",
			Code:  "BREAKER_OPEN",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// HandleStats handles GET /v1/escalate/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats())
}

// writeError maps domain errors onto HTTP responses.
func (h *Handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, conversation.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "SESSION_NOT_FOUND"})
	case errors.Is(err, conversation.ErrBudgetExhausted):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "BUDGET_EXHAUSTED"})
	case errors.Is(err, conversation.ErrSessionFailed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "SESSION_FAILED"})
	case errors.Is(err, conversation.ErrSessionCompleted),
		errors.Is(err, conversation.ErrSessionNotActive):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "SESSION_NOT_ACTIVE"})
	case errors.Is(err, conversation.ErrMaxTurnsExceeded):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "MAX_TURNS_EXCEEDED"})
	case errors.Is(err, conversation.ErrInvalidBudget),
		errors.Is(err, conversation.ErrInvalidAnalysisType),
		errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, conversation.ErrStoreFull),
		errors.Is(err, tournament.ErrNoHypotheses),
		errors.Is(err, tournament.ErrDuplicateHypothesisID),
		errors.Is(err, tournament.ErrEmptyHypothesisID),
		errors.Is(err, tournament.ErrInvalidConfig):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
	default:
		h.writeRemoteError(c, err)
	}
}

// writeRemoteError maps remote reasoning failures onto HTTP responses.
func (h *Handlers) writeRemoteError(c *gin.Context, err error) {
	if errors.Is(err, reasoning.ErrBreakerOpen) {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "BREAKER_OPEN"})
		return
	}

	switch reasoning.KindOf(err) {
	case reasoning.FailureRateLimited:
		if retryAfter := reasoning.RetryAfterOf(err); retryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		}
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: err.Error(), Code: "RATE_LIMITED"})
	case reasoning.FailureTimeout:
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: err.Error(), Code: "REMOTE_TIMEOUT"})
	case reasoning.FailureTransient:
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: "REMOTE_TRANSIENT"})
	default:
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: "REMOTE_FAILED"})
	}
}

// getOrCreateRequestID returns the X-Request-ID header, minting one if the
// caller did not send it.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
