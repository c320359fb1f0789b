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
	"testing"
	"time"
)

func testClientConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 1000
	cfg.Retry = RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BackoffFactor:  2.0,
	}
	return cfg
}

func testRequest() *Request {
	return &Request{
		SystemPrompt: "You are a deep analysis engine.",
		Messages:     []Message{{Role: RoleRequester, Content: "why does the cache miss spike?"}},
	}
}

func TestGatewayClient_NilBackend(t *testing.T) {
	if _, err := NewGatewayClient(nil, DefaultClientConfig()); !errors.Is(err, ErrNilBackend) {
		t.Errorf("expected ErrNilBackend, got %v", err)
	}
}

func TestGatewayClient_SuccessFirstAttempt(t *testing.T) {
	backend := NewMockBackend()
	client, err := NewGatewayClient(backend, testClientConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := client.Invoke(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content == "" {
		t.Error("expected non-empty content")
	}
	if backend.CallCount() != 1 {
		t.Errorf("backend called %d times, want 1", backend.CallCount())
	}

	stats := client.Stats()
	if stats.Calls != 1 || stats.Failures != 0 {
		t.Errorf("stats = %+v, want 1 call, 0 failures", stats)
	}
}

func TestGatewayClient_RetriesTransientThenSucceeds(t *testing.T) {
	backend := NewMockBackend()
	backend.QueueError(Transient("mock", errors.New("503")))
	backend.QueueError(Timeout("mock", errors.New("deadline")))

	client, err := NewGatewayClient(backend, testClientConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := client.Invoke(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil || resp.Content == "" {
		t.Fatal("expected response after retries")
	}
	if backend.CallCount() != 3 {
		t.Errorf("backend called %d times, want 3", backend.CallCount())
	}
}

func TestGatewayClient_PermanentNotRetried(t *testing.T) {
	backend := NewMockBackend()
	backend.QueueError(Permanent("mock", errors.New("bad request")))

	client, _ := NewGatewayClient(backend, testClientConfig())

	_, err := client.Invoke(context.Background(), testRequest())
	if KindOf(err) != FailurePermanent {
		t.Fatalf("expected permanent failure, got %v", err)
	}
	if backend.CallCount() != 1 {
		t.Errorf("backend called %d times, want 1 (no retry)", backend.CallCount())
	}
}

func TestGatewayClient_ExhaustsRetries(t *testing.T) {
	backend := NewMockBackend()
	for i := 0; i < 3; i++ {
		backend.QueueError(Transient("mock", errors.New("503")))
	}

	client, _ := NewGatewayClient(backend, testClientConfig())

	_, err := client.Invoke(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if KindOf(err) != FailureTransient {
		t.Errorf("expected transient kind surfaced, got %v", KindOf(err))
	}
	if backend.CallCount() != 3 {
		t.Errorf("backend called %d times, want 3", backend.CallCount())
	}
}

func TestGatewayClient_BreakerFastFailWithoutNetworkCall(t *testing.T) {
	backend := NewMockBackend()
	cfg := testClientConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.Breaker = BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour}

	client, _ := NewGatewayClient(backend, cfg)

	// Drive the breaker open with consecutive transient failures.
	backend.QueueError(Transient("mock", errors.New("503")))
	backend.QueueError(Transient("mock", errors.New("503")))
	for i := 0; i < 2; i++ {
		if _, err := client.Invoke(context.Background(), testRequest()); err == nil {
			t.Fatal("expected failure")
		}
	}
	callsBefore := backend.CallCount()

	// Next call must fail fast without touching the backend.
	_, err := client.Invoke(context.Background(), testRequest())
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if KindOf(err) != FailurePermanent {
		t.Errorf("breaker rejection should be permanent, got %v", KindOf(err))
	}
	if backend.CallCount() != callsBefore {
		t.Errorf("backend called %d times, want %d (no network call)", backend.CallCount(), callsBefore)
	}

	stats := client.Stats()
	if stats.BreakerRejects != 1 {
		t.Errorf("BreakerRejects = %d, want 1", stats.BreakerRejects)
	}
}

func TestGatewayClient_BreakerProbeRecovers(t *testing.T) {
	backend := NewMockBackend()
	cfg := testClientConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.Breaker = BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond}

	client, _ := NewGatewayClient(backend, cfg)

	backend.QueueError(Transient("mock", errors.New("503")))
	if _, err := client.Invoke(context.Background(), testRequest()); err == nil {
		t.Fatal("expected failure")
	}
	if client.BreakerSnapshot().State != BreakerOpen {
		t.Fatalf("expected open breaker, got %v", client.BreakerSnapshot().State)
	}

	time.Sleep(20 * time.Millisecond)

	// The probe call succeeds and closes the breaker.
	if _, err := client.Invoke(context.Background(), testRequest()); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if client.BreakerSnapshot().State != BreakerClosed {
		t.Errorf("expected closed breaker after probe, got %v", client.BreakerSnapshot().State)
	}
}

func TestGatewayClient_LimiterSaturationIsRateLimited(t *testing.T) {
	backend := NewMockBackend()
	cfg := testClientConfig()
	cfg.RequestsPerSecond = 0.001 // effectively never refills
	cfg.Burst = 1
	cfg.MaxLimiterWait = 10 * time.Millisecond

	client, _ := NewGatewayClient(backend, cfg)

	// First call consumes the burst slot.
	if _, err := client.Invoke(context.Background(), testRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := client.Invoke(context.Background(), testRequest())
	if KindOf(err) != FailureRateLimited {
		t.Fatalf("expected rate-limited failure, got %v", err)
	}
	if backend.CallCount() != 1 {
		t.Errorf("backend called %d times, want 1", backend.CallCount())
	}
}

func TestGatewayClient_EmptyRequestRejected(t *testing.T) {
	client, _ := NewGatewayClient(NewMockBackend(), testClientConfig())

	tests := []struct {
		name    string
		request *Request
	}{
		{"nil request", nil},
		{"no messages", &Request{SystemPrompt: "sys"}},
		{"whitespace only", &Request{Messages: []Message{{Role: RoleRequester, Content: "   "}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Invoke(context.Background(), tt.request)
			if !errors.Is(err, ErrEmptyPrompt) {
				t.Errorf("expected ErrEmptyPrompt, got %v", err)
			}
		})
	}
}

func TestGatewayClient_AverageLatencyTracked(t *testing.T) {
	backend := NewMockBackend().WithDelay(5 * time.Millisecond)
	client, _ := NewGatewayClient(backend, testClientConfig())

	for i := 0; i < 3; i++ {
		if _, err := client.Invoke(context.Background(), testRequest()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	stats := client.Stats()
	if stats.Calls != 3 {
		t.Fatalf("Calls = %d, want 3", stats.Calls)
	}
	if stats.AverageLatency < 5*time.Millisecond {
		t.Errorf("AverageLatency = %v, want >= 5ms", stats.AverageLatency)
	}
}
