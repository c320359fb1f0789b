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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianEscalate/services/escalate/reasoning"
)

// blockingClient blocks until its context is cancelled.
type blockingClient struct{}

func (blockingClient) Invoke(ctx context.Context, _ *reasoning.Request) (*reasoning.Response, error) {
	<-ctx.Done()
	return nil, reasoning.Timeout("fake", ctx.Err())
}

func (blockingClient) Stats() reasoning.StatsSnapshot { return reasoning.StatsSnapshot{} }

func (blockingClient) BreakerSnapshot() reasoning.BreakerSnapshot {
	return reasoning.BreakerSnapshot{}
}

func TestLaneScoresHypothesis(t *testing.T) {
	client := &scoringClient{scores: map[string]float64{"slow disk": 0.8}}
	h := &Hypothesis{ID: "h1", Description: "slow disk"}
	ln := &lane{hypothesis: h, evidence: "iowait climbed", client: client, prompts: stubPrompts{}, maxTokens: 512}

	require.NoError(t, ln.Run(context.Background()))
	assert.Equal(t, StatusScored, h.Status)
	assert.True(t, h.Scored)
	assert.InDelta(t, 0.8, h.Score, 1e-9)
	assert.Contains(t, h.Rationale, "slow disk")
}

// TestLaneCancellationRestoresPending verifies a cancelled lane never
// leaves its hypothesis stuck in StatusRunning.
func TestLaneCancellationRestoresPending(t *testing.T) {
	h := &Hypothesis{ID: "h1", Description: "whatever"}
	ln := &lane{hypothesis: h, evidence: "evidence", client: blockingClient{}, prompts: stubPrompts{}, maxTokens: 512}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ln.Run(ctx)

	require.Error(t, err)
	assert.Equal(t, StatusPending, h.Status)
	assert.NotEmpty(t, h.Note)
	assert.False(t, h.Scored)
}

func TestLaneFailureRestoresPendingWithNote(t *testing.T) {
	client := &scoringClient{err: reasoning.Permanent("fake", errors.New("bad key"))}
	h := &Hypothesis{ID: "h1", Description: "whatever"}
	ln := &lane{hypothesis: h, evidence: "evidence", client: client, prompts: stubPrompts{}, maxTokens: 512}

	require.Error(t, ln.Run(context.Background()))
	assert.Equal(t, StatusPending, h.Status)
	assert.Contains(t, h.Note, "evaluation failed")
}

func TestLaneRequestCarriesSupportingEvidence(t *testing.T) {
	h := &Hypothesis{
		ID:          "h1",
		Description: "cache stampede",
		SupportingEvidence: map[string]string{
			"e2": "miss rate spiked at 14:02",
			"e1": "ttl lowered in last release",
		},
	}
	ln := &lane{hypothesis: h, evidence: "shared context", prompts: stubPrompts{}, maxTokens: 512}

	req := ln.buildRequest()
	require.Len(t, req.Messages, 1)
	content := req.Messages[0].Content

	assert.Contains(t, content, "cache stampede")
	assert.Contains(t, content, "shared context")
	// Evidence ids render in sorted order.
	assert.Less(t,
		indexOf(t, content, "[e1]"),
		indexOf(t, content, "[e2]"),
	)
}

func indexOf(t *testing.T, haystack, needle string) int {
	t.Helper()
	idx := -1
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			idx = i
			break
		}
	}
	require.GreaterOrEqual(t, idx, 0, "expected %q in request", needle)
	return idx
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantScore float64
		wantErr   bool
	}{
		{
			name:      "bare json",
			content:   `{"score": 0.75, "rationale": "fits the timeline"}`,
			wantScore: 0.75,
		},
		{
			name:      "fenced block with prose",
			content:   "Thinking it through.\n```json\n{\"score\": 0.4, \"rationale\": \"weak\"}\n```",
			wantScore: 0.4,
		},
		{
			name:      "zero score is still a score",
			content:   `{"score": 0, "rationale": "ruled out"}`,
			wantScore: 0,
		},
		{
			name:    "missing score field",
			content: `{"rationale": "no number"}`,
			wantErr: true,
		},
		{
			name:    "plain prose",
			content: "probably the cache",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, _, err := parseScore(tt.content)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnparsableScore)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.wantScore, score, 1e-9)
		})
	}
}
