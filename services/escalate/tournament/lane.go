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
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianEscalate/services/escalate/reasoning"
)

// PromptProvider supplies the system prompt for hypothesis evaluation.
type PromptProvider interface {
	// SystemPrompt returns the system prompt for an analysis type.
	SystemPrompt(analysisType string) string
}

// analysisHypothesisTest is the analysis type lanes evaluate under.
const analysisHypothesisTest = "hypothesis_test"

// lane is a single-use, cancellable evaluation of one hypothesis.
//
// The lane exclusively owns its hypothesis while running. On any exit
// other than a successful score, the hypothesis returns to StatusPending
// with a note, never stuck in StatusRunning.
type lane struct {
	hypothesis *Hypothesis
	evidence   string
	client     reasoning.Client
	prompts    PromptProvider
	maxTokens  int
}

// Run evaluates the hypothesis and writes the score back into it.
//
// Outputs:
//   - error: Non-nil when the evaluation failed or was cancelled. The
//     hypothesis is back in StatusPending with a note in that case.
func (l *lane) Run(ctx context.Context) error {
	h := l.hypothesis
	h.Status = StatusRunning
	h.Note = ""

	resp, err := l.client.Invoke(ctx, l.buildRequest())
	if err != nil {
		if ctx.Err() != nil {
			h.Status = StatusPending
			h.Note = "evaluation cancelled before completion"
			return ctx.Err()
		}
		h.Status = StatusPending
		h.Note = fmt.Sprintf("evaluation failed: %v", err)
		return err
	}

	score, rationale, perr := parseScore(resp.Content)
	if perr != nil {
		h.Status = StatusPending
		h.Note = "analyzer response carried no parseable score"
		return perr
	}

	h.Score = score
	h.Scored = true
	h.Rationale = rationale
	h.Status = StatusScored
	return nil
}

// buildRequest assembles the single-exchange evaluation prompt.
func (l *lane) buildRequest() *reasoning.Request {
	var b strings.Builder
	b.WriteString("Evaluate the following hypothesis against the evidence.\n\n")
	b.WriteString("Hypothesis: ")
	b.WriteString(l.hypothesis.Description)
	b.WriteString("\n\nShared evidence:\n")
	b.WriteString(l.evidence)

	if len(l.hypothesis.SupportingEvidence) > 0 {
		b.WriteString("\n\nHypothesis-specific evidence:\n")
		ids := make([]string, 0, len(l.hypothesis.SupportingEvidence))
		for id := range l.hypothesis.SupportingEvidence {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&b, "- [%s] %s\n", id, l.hypothesis.SupportingEvidence[id])
		}
	}

	b.WriteString("\n\nRespond with a JSON object: " +
		`{"score": <0.0 to 1.0>, "rationale": "<why>"}`)

	return &reasoning.Request{
		SystemPrompt: l.prompts.SystemPrompt(analysisHypothesisTest),
		Messages: []reasoning.Message{
			{Role: reasoning.RoleRequester, Content: b.String()},
		},
		MaxTokens: l.maxTokens,
	}
}

// parseScore pulls the score and rationale out of an analyzer response.
//
// Accepts a bare JSON object or a fenced ```json block.
func parseScore(content string) (float64, string, error) {
	candidate := content
	if idx := strings.Index(content, "```json"); idx >= 0 {
		rest := content[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate = rest[:end]
		}
	}

	var envelope struct {
		Score     *float64 `json:"score"`
		Rationale string   `json:"rationale"`
	}
	decoder := json.NewDecoder(strings.NewReader(strings.TrimSpace(candidate)))
	if err := decoder.Decode(&envelope); err != nil || envelope.Score == nil {
		return 0, "", ErrUnparsableScore
	}
	return *envelope.Score, envelope.Rationale, nil
}
