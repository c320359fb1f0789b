// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reasoning provides the client for the remote reasoning service.
//
// The client is the single point of contact to the external high-capacity
// reasoning backend. It owns rate limiting, retry with exponential backoff,
// and per-backend circuit breaking. Callers receive typed failures
// (RemoteError) and never see raw transport errors.
//
// Thread Safety:
//
//	All exported types in this package are safe for concurrent use.
package reasoning

import (
	"context"
	"time"
)

// Message roles in the transcript sent to the backend.
const (
	// RoleRequester marks a message from the local analysis agent.
	RoleRequester = "requester"

	// RoleAnalyzer marks a message from the remote reasoning service.
	RoleAnalyzer = "analyzer"
)

// Message is one entry in the transcript slice sent with a request.
type Message struct {
	// Role is RoleRequester or RoleAnalyzer.
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// Request is a bounded-size structured prompt plus the transcript slice it
// applies to.
type Request struct {
	// SystemPrompt frames the investigation for the backend.
	SystemPrompt string `json:"system_prompt"`

	// Messages is the ordered transcript window. Must not be empty.
	Messages []Message `json:"messages"`

	// MaxTokens caps the response length. Zero means backend default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls sampling. Deep analysis wants low values.
	Temperature float32 `json:"temperature,omitempty"`
}

// Response is a completion from the reasoning backend.
type Response struct {
	// Content is the generated text.
	Content string `json:"content"`

	// InputTokens is the number of prompt tokens consumed.
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the number of tokens generated.
	OutputTokens int `json:"output_tokens"`

	// Model is the model identifier that produced this response.
	Model string `json:"model,omitempty"`

	// Latency is the wall time the backend call took.
	Latency time.Duration `json:"-"`
}

// Backend is a raw transport to one reasoning provider.
//
// Implementations classify their own transport errors into RemoteError kinds;
// the client layers rate limiting, retries, and circuit breaking on top.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Backend interface {
	// Complete sends one request and returns the completion.
	//
	// Inputs:
	//   ctx - Context for cancellation and timeout. Must not be nil.
	//   request - The completion request. Must not be nil.
	//
	// Outputs:
	//   *Response - The completion. Never nil on success.
	//   error - A *RemoteError on failure.
	Complete(ctx context.Context, request *Request) (*Response, error)

	// Name returns the logical backend name (e.g. "gemini", "openai").
	// Circuit breakers are keyed by this name.
	Name() string

	// Model returns the model identifier in use.
	Model() string
}

// EstimateTokens returns an approximate token count for text.
//
// Uses the ~4 characters per token heuristic for English prose. Good enough
// for transcript windowing; never used for billing.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}
