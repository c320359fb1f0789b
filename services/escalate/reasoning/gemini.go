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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel   = "gemini-2.5-pro"
)

// --- Wire types ---

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// --- Backend implementation ---

// GeminiBackend is a reasoning backend for the Google Generative Language API.
//
// Thread Safety: Safe for concurrent use.
type GeminiBackend struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewGeminiBackend creates a backend for the Gemini REST API.
//
// Inputs:
//   - apiKey: API key. Must not be empty.
//   - baseURL: Optional base URL override. Empty means the public endpoint.
//   - model: Model identifier. Empty means gemini-2.5-pro.
//
// Outputs:
//   - *GeminiBackend: The configured backend.
//   - error: If the API key is empty.
func NewGeminiBackend(apiKey, baseURL, model string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is missing")
	}
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	if model == "" {
		model = geminiDefaultModel
	}
	return &GeminiBackend{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
	}, nil
}

// Name implements Backend.
func (g *GeminiBackend) Name() string { return "gemini" }

// Model implements Backend.
func (g *GeminiBackend) Model() string { return g.model }

// Complete implements Backend.
func (g *GeminiBackend) Complete(ctx context.Context, request *Request) (*Response, error) {
	payload := geminiRequest{
		Contents: make([]geminiContent, 0, len(request.Messages)),
	}
	if request.SystemPrompt != "" {
		payload.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: request.SystemPrompt}},
		}
	}
	for _, m := range request.Messages {
		role := "user"
		if m.Role == RoleAnalyzer {
			role = "model"
		}
		payload.Contents = append(payload.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	if request.MaxTokens > 0 || request.Temperature > 0 {
		cfg := &geminiGenConfig{MaxOutputTokens: request.MaxTokens}
		if request.Temperature > 0 {
			t := request.Temperature
			cfg.Temperature = &t
		}
		payload.GenerationConfig = cfg
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Permanent(g.Name(), fmt.Errorf("failed to marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(g.Name(), fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("x-goog-api-key", g.apiKey)
	req.Header.Set("content-type", "application/json")

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, Timeout(g.Name(), err)
		}
		return nil, Transient(g.Name(), err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, g.classifyStatus(resp, bodyBytes)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return nil, Transient(g.Name(), fmt.Errorf("failed to parse response: %w", err))
	}
	if parsed.Error != nil {
		return nil, Permanent(g.Name(), fmt.Errorf("gemini API error %d: %s", parsed.Error.Code, parsed.Error.Message))
	}
	content := extractGeminiText(parsed)
	if content == "" {
		return nil, Transient(g.Name(), ErrResponseEmpty)
	}

	return &Response{
		Content:      content,
		InputTokens:  parsed.UsageMetadata.PromptTokenCount,
		OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		Model:        g.model,
		Latency:      time.Since(start),
	}, nil
}

// classifyStatus maps an HTTP error status to the failure taxonomy.
func (g *GeminiBackend) classifyStatus(resp *http.Response, body []byte) *RemoteError {
	cause := fmt.Errorf("gemini API returned status %d: %s", resp.StatusCode, truncateBody(body))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return RateLimited(g.Name(), parseRetryAfter(resp.Header.Get("Retry-After")), cause)
	case resp.StatusCode >= 500:
		return Transient(g.Name(), cause)
	case resp.StatusCode == http.StatusRequestTimeout:
		return Timeout(g.Name(), cause)
	default:
		return Permanent(g.Name(), cause)
	}
}

func extractGeminiText(resp geminiResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var out bytes.Buffer
	for _, part := range resp.Candidates[0].Content.Parts {
		out.WriteString(part.Text)
	}
	return out.String()
}

// parseRetryAfter handles the delay-seconds form of the Retry-After header.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
