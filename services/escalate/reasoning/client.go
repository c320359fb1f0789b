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
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var clientTracer = otel.Tracer("escalate.reasoning")

// Client is the single point of contact to the remote reasoning service.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Client interface {
	// Invoke sends one request through rate limiting, retry, and circuit
	// breaking. The returned error is always a *RemoteError.
	Invoke(ctx context.Context, request *Request) (*Response, error)

	// Stats returns aggregate call statistics for health reporting.
	Stats() StatsSnapshot

	// BreakerSnapshot returns the breaker state for the active backend.
	BreakerSnapshot() BreakerSnapshot
}

// ClientConfig configures the gateway client.
type ClientConfig struct {
	// RequestsPerSecond is the sustained request rate allowed to the
	// backend. Default: 1.0
	RequestsPerSecond float64

	// Burst is the rate limiter burst size. Default: 2
	Burst int

	// MaxLimiterWait bounds how long a call may block waiting for a rate
	// limiter slot before failing with FailureRateLimited. The caller's
	// context deadline applies in addition. Default: 10s
	MaxLimiterWait time.Duration

	// Retry configures the backoff state machine.
	Retry RetryConfig

	// Breaker configures the per-backend circuit breaker.
	Breaker BreakerConfig
}

// DefaultClientConfig returns sensible defaults for the gateway client.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RequestsPerSecond: 1.0,
		Burst:             2,
		MaxLimiterWait:    10 * time.Second,
		Retry:             DefaultRetryConfig(),
		Breaker:           DefaultBreakerConfig(),
	}
}

// Validate checks the client configuration.
func (c ClientConfig) Validate() error {
	if c.RequestsPerSecond <= 0 || c.Burst < 1 || c.MaxLimiterWait <= 0 {
		return ErrInvalidRetryConfig
	}
	return c.Retry.Validate()
}

// GatewayClient implements Client over a single Backend.
//
// Every call passes three gates in order: the token-bucket rate limiter,
// the backend's circuit breaker, then the retry loop around the transport.
// No lock is held across a remote call; the only shared mutable state is
// the breaker table and the atomic statistics.
//
// Thread Safety: Safe for concurrent use.
type GatewayClient struct {
	backend Backend
	config  ClientConfig
	limiter *rate.Limiter
	stats   CallStats

	breakers   map[string]*Breaker
	breakersMu sync.Mutex
}

// NewGatewayClient creates a client wrapping the given backend.
//
// Inputs:
//   - backend: The reasoning backend. Must not be nil.
//   - config: Client configuration. Use DefaultClientConfig() for defaults.
//
// Outputs:
//   - *GatewayClient: Ready-to-use client.
//   - error: If the backend is nil or the config invalid.
func NewGatewayClient(backend Backend, config ClientConfig) (*GatewayClient, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &GatewayClient{
		backend:  backend,
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		breakers: make(map[string]*Breaker),
	}, nil
}

// Invoke implements Client.
//
// Description:
//
//	Blocks on the rate limiter up to MaxLimiterWait (or the caller deadline,
//	whichever is sooner), checks the backend's circuit breaker, then drives
//	the retry state machine around Backend.Complete. Transient, rate-limit,
//	and timeout failures are retried with exponential backoff plus jitter;
//	permanent failures and open breakers surface immediately.
//
// Inputs:
//
//	ctx - Context for cancellation and deadline. Must not be nil.
//	request - The completion request. Must not be nil or empty.
//
// Outputs:
//
//	*Response - The completion. Never nil on success.
//	error - A *RemoteError classifying the failure.
//
// Thread Safety: Safe for concurrent use.
func (g *GatewayClient) Invoke(ctx context.Context, request *Request) (*Response, error) {
	ctx, span := clientTracer.Start(ctx, "reasoning.Invoke")
	defer span.End()

	backend := g.backend.Name()
	span.SetAttributes(
		attribute.String("reasoning.backend", backend),
		attribute.Int("reasoning.messages", messageCount(request)),
	)

	if err := validateRequest(request); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, Permanent(backend, err)
	}

	if err := g.waitForSlot(ctx, backend); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	breaker := g.breakerFor(backend)
	state := newBackoffState(g.config.Retry)

	var lastErr error
	for !state.Exhausted() {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, Timeout(backend, err)
		}

		if !breaker.Allow() {
			g.stats.RecordBreakerReject()
			breakerStateGauge.WithLabelValues(backend).Set(float64(breaker.State()))
			span.SetStatus(codes.Error, "breaker open")
			return nil, Permanent(backend, ErrBreakerOpen)
		}

		start := time.Now()
		resp, err := g.backend.Complete(ctx, request)
		latency := time.Since(start)

		g.stats.RecordCall(latency, err)
		remoteCallDuration.WithLabelValues(backend).Observe(latency.Seconds())

		if err == nil {
			breaker.RecordSuccess()
			breakerStateGauge.WithLabelValues(backend).Set(float64(breaker.State()))
			remoteCallsTotal.WithLabelValues(backend, "ok").Inc()
			resp.Latency = latency
			span.SetAttributes(attribute.Int("reasoning.output_tokens", resp.OutputTokens))
			return resp, nil
		}

		breaker.RecordFailure()
		breakerStateGauge.WithLabelValues(backend).Set(float64(breaker.State()))
		remoteCallsTotal.WithLabelValues(backend, KindOf(err).String()).Inc()
		lastErr = err

		if !IsRetryable(err) {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		delay := state.Advance(RetryAfterOf(err))
		if state.Exhausted() {
			break
		}

		remoteRetriesTotal.WithLabelValues(backend).Inc()
		slog.Warn("Remote reasoning call failed, retrying",
			"backend", backend,
			"attempt", state.Attempts(),
			"delay", delay,
			"error", err,
		)
		if werr := sleepFor(ctx, delay); werr != nil {
			span.SetStatus(codes.Error, "cancelled during backoff")
			return nil, Timeout(backend, werr)
		}
	}

	span.SetStatus(codes.Error, "retries exhausted")
	return nil, lastErr
}

// Stats implements Client.
func (g *GatewayClient) Stats() StatsSnapshot {
	return g.stats.Snapshot()
}

// BreakerSnapshot implements Client.
func (g *GatewayClient) BreakerSnapshot() BreakerSnapshot {
	return g.breakerFor(g.backend.Name()).Snapshot()
}

// waitForSlot blocks on the rate limiter, bounded by MaxLimiterWait and the
// caller deadline. Exceeding the bound is a rate-limit failure, not a
// timeout: the call never reached the network.
func (g *GatewayClient) waitForSlot(ctx context.Context, backend string) error {
	waitCtx, cancel := context.WithTimeout(ctx, g.config.MaxLimiterWait)
	defer cancel()

	if err := g.limiter.Wait(waitCtx); err != nil {
		// Distinguish the caller's own cancellation from limiter saturation.
		if ctx.Err() != nil {
			return Timeout(backend, ctx.Err())
		}
		g.stats.rateLimitHits.Add(1)
		remoteCallsTotal.WithLabelValues(backend, "rate_limited").Inc()
		return RateLimited(backend, 0, err)
	}
	return nil
}

// breakerFor returns the breaker for a logical backend, creating it lazily.
func (g *GatewayClient) breakerFor(name string) *Breaker {
	g.breakersMu.Lock()
	defer g.breakersMu.Unlock()
	b, ok := g.breakers[name]
	if !ok {
		b = NewBreaker(g.config.Breaker)
		g.breakers[name] = b
	}
	return b
}

func validateRequest(request *Request) error {
	if request == nil || len(request.Messages) == 0 {
		return ErrEmptyPrompt
	}
	for _, m := range request.Messages {
		if strings.TrimSpace(m.Content) != "" {
			return nil
		}
	}
	return ErrEmptyPrompt
}

func messageCount(request *Request) int {
	if request == nil {
		return 0
	}
	return len(request.Messages)
}
