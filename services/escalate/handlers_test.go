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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianEscalate/services/escalate/conversation"
	"github.com/AleutianAI/AleutianEscalate/services/escalate/prompts"
	"github.com/AleutianAI/AleutianEscalate/services/escalate/reasoning"
	"github.com/AleutianAI/AleutianEscalate/services/escalate/tournament"
)

func newTestRouter(t *testing.T, backend *reasoning.MockBackend) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clientConfig := reasoning.DefaultClientConfig()
	clientConfig.RequestsPerSecond = 1000
	clientConfig.Burst = 1000
	clientConfig.Retry.MaxAttempts = 1
	client, err := reasoning.NewGatewayClient(backend, clientConfig)
	require.NoError(t, err)

	registry, err := prompts.Load(context.Background())
	require.NoError(t, err)

	config := DefaultServiceConfig()
	config.Tournament = tournament.Config{
		Parallelism:       2,
		MaxRounds:         10,
		EliminatePerRound: 1,
		RoundTimeout:      5 * time.Second,
		Budget:            30 * time.Second,
	}
	svc, err := NewService(client, registry, config)
	require.NoError(t, err)

	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc))
	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleStartConversation(t *testing.T) {
	backend := reasoning.NewMockBackend()
	backend.SetDefaultResponse(&reasoning.Response{Content: "looking into it"})
	router, _ := newTestRouter(t, backend)

	rec := doJSON(t, router, http.MethodPost, "/v1/escalate/conversation/start", StartConversationRequest{
		AnalysisType:      "execution_trace",
		InitialContext:    "why does the worker leak goroutines",
		TimeBudgetSeconds: 300,
		TurnBudget:        5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp StartConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, 1, resp.Turn.TurnIndex)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleStartConversationValidation(t *testing.T) {
	backend := reasoning.NewMockBackend()
	router, _ := newTestRouter(t, backend)

	tests := []struct {
		name string
		body any
	}{
		{name: "missing fields", body: gin.H{"analysis_type": "execution_trace"}},
		{name: "zero budget", body: gin.H{
			"analysis_type":       "execution_trace",
			"initial_context":     "ctx",
			"time_budget_seconds": 0,
			"turn_budget":         0,
		}},
		{name: "not json", body: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/v1/escalate/conversation/start", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleStartUnknownAnalysisType(t *testing.T) {
	backend := reasoning.NewMockBackend()
	router, _ := newTestRouter(t, backend)

	rec := doJSON(t, router, http.MethodPost, "/v1/escalate/conversation/start", StartConversationRequest{
		AnalysisType:      "numerology",
		InitialContext:    "ctx",
		TimeBudgetSeconds: 60,
		TurnBudget:        2,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, backend.CallCount(), "invalid requests never reach the backend")
}

func TestConversationLifecycleOverHTTP(t *testing.T) {
	backend := reasoning.NewMockBackend()
	backend.SetDefaultResponse(&reasoning.Response{Content: "analysis step"})
	router, _ := newTestRouter(t, backend)

	rec := doJSON(t, router, http.MethodPost, "/v1/escalate/conversation/start", StartConversationRequest{
		AnalysisType:      "performance",
		InitialContext:    "p99 doubled",
		TimeBudgetSeconds: 300,
		TurnBudget:        3,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var start StartConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))

	rec = doJSON(t, router, http.MethodPost, "/v1/escalate/conversation/continue", ContinueConversationRequest{
		SessionID: start.SessionID,
		Message:   "check the connection pool",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var turn conversation.TurnResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turn))
	assert.Equal(t, 3, turn.TurnIndex)

	rec = doJSON(t, router, http.MethodGet, "/v1/escalate/conversation/status/"+start.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap conversation.StatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "active", snap.State)
	assert.Equal(t, 4, snap.TurnsTaken)

	rec = doJSON(t, router, http.MethodPost, "/v1/escalate/conversation/finalize", FinalizeConversationRequest{
		SessionID: start.SessionID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var summary conversation.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, start.SessionID, summary.SessionID)
}

func TestHandleContinueUnknownSession(t *testing.T) {
	backend := reasoning.NewMockBackend()
	router, _ := newTestRouter(t, backend)

	rec := doJSON(t, router, http.MethodPost, "/v1/escalate/conversation/continue", ContinueConversationRequest{
		SessionID: "no-such-id",
		Message:   "hello",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SESSION_NOT_FOUND", resp.Code)
}

func TestHandleContinueBudgetExhausted(t *testing.T) {
	backend := reasoning.NewMockBackend()
	backend.SetDefaultResponse(&reasoning.Response{Content: "step"})
	router, _ := newTestRouter(t, backend)

	rec := doJSON(t, router, http.MethodPost, "/v1/escalate/conversation/start", StartConversationRequest{
		AnalysisType:      "execution_trace",
		InitialContext:    "ctx",
		TimeBudgetSeconds: 300,
		TurnBudget:        1,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var start StartConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))

	rec = doJSON(t, router, http.MethodPost, "/v1/escalate/conversation/continue", ContinueConversationRequest{
		SessionID: start.SessionID, Message: "spend the last turn",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/escalate/conversation/continue", ContinueConversationRequest{
		SessionID: start.SessionID, Message: "over budget",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "BUDGET_EXHAUSTED", resp.Code)
}

func TestHandleTournament(t *testing.T) {
	backend := reasoning.NewMockBackend()
	backend.SetDefaultResponse(&reasoning.Response{
		Content: `{"score": 0.5, "rationale": "plausible"}`,
	})
	router, _ := newTestRouter(t, backend)

	rec := doJSON(t, router, http.MethodPost, "/v1/escalate/tournament", TournamentRequest{
		Evidence: "latency regression after deploy",
		Hypotheses: []HypothesisInput{
			{ID: "h1", Description: "pool exhaustion"},
			{ID: "h2", Description: "dns cache"},
			{ID: "h3", Description: "lock contention"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result tournament.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotNil(t, result.Winner)
	assert.Len(t, result.Eliminated, 2)
	assert.True(t, result.Converged)
}

func TestHandleTournamentValidation(t *testing.T) {
	backend := reasoning.NewMockBackend()
	router, _ := newTestRouter(t, backend)

	rec := doJSON(t, router, http.MethodPost, "/v1/escalate/tournament", TournamentRequest{
		Evidence:   "evidence",
		Hypotheses: nil,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/escalate/tournament", TournamentRequest{
		Evidence: "evidence",
		Hypotheses: []HypothesisInput{
			{ID: "h1", Description: "a"},
			{ID: "h1", Description: "b"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealthAndStats(t *testing.T) {
	backend := reasoning.NewMockBackend()
	router, _ := newTestRouter(t, backend)

	rec := doJSON(t, router, http.MethodGet, "/v1/escalate/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)

	rec = doJSON(t, router, http.MethodGet, "/v1/escalate/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/escalate/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.ActiveSessions)
}
