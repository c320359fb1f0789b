// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reasoning

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend is a reasoning backend for OpenAI-compatible APIs.
//
// Works against api.openai.com or any compatible gateway (vLLM, LiteLLM)
// by overriding the base URL.
//
// Thread Safety: Safe for concurrent use.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates a backend for an OpenAI-compatible API.
//
// Inputs:
//   - apiKey: API key. Must not be empty.
//   - baseURL: Optional base URL override. Empty means api.openai.com.
//   - model: Model identifier (e.g. "o3", "gpt-4.1").
//
// Outputs:
//   - *OpenAIBackend: The configured backend.
func NewOpenAIBackend(apiKey, baseURL, model string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Name implements Backend.
func (b *OpenAIBackend) Name() string { return "openai" }

// Model implements Backend.
func (b *OpenAIBackend) Model() string { return b.model }

// Complete implements Backend.
//
// Transport errors are classified into RemoteError kinds: HTTP 429 is
// rate-limited, 5xx is transient, deadline expiry is timeout, everything
// else is permanent.
func (b *OpenAIBackend) Complete(ctx context.Context, request *Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(request.Messages)+1)
	if request.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: request.SystemPrompt,
		})
	}
	for _, m := range request.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAnalyzer {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		MaxTokens:   request.MaxTokens,
		Temperature: request.Temperature,
	}

	start := time.Now()
	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, b.classify(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, Transient(b.Name(), ErrResponseEmpty)
	}

	return &Response{
		Content:      resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
		Latency:      time.Since(start),
	}, nil
}

// classify maps go-openai errors to the failure taxonomy.
func (b *OpenAIBackend) classify(err error) *RemoteError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout(b.Name(), err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return b.classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return b.classifyStatus(reqErr.HTTPStatusCode, err)
	}

	// Connection-level failures arrive as plain errors.
	return Transient(b.Name(), err)
}

func (b *OpenAIBackend) classifyStatus(status int, err error) *RemoteError {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited(b.Name(), 0, err)
	case status >= 500:
		return Transient(b.Name(), err)
	case status == http.StatusRequestTimeout:
		return Timeout(b.Name(), err)
	default:
		return Permanent(b.Name(), err)
	}
}
