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
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	remoteCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escalate_remote_calls_total",
		Help: "Total remote reasoning calls by backend and status",
	}, []string{"backend", "status"})

	remoteCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escalate_remote_call_duration_seconds",
		Help:    "Remote reasoning call duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"backend"})

	remoteRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escalate_remote_retries_total",
		Help: "Total retry attempts by backend",
	}, []string{"backend"})

	breakerStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "escalate_breaker_state",
		Help: "Circuit breaker state by backend (0=closed, 1=open, 2=half-open)",
	}, []string{"backend"})
)

// CallStats tracks aggregate call statistics for health reporting.
//
// Statistics are observation-only and never gate correctness. All counters
// use atomics so recording never contends with in-flight calls.
//
// Thread Safety: Safe for concurrent use.
type CallStats struct {
	calls          atomic.Int64
	failures       atomic.Int64
	rateLimitHits  atomic.Int64
	breakerRejects atomic.Int64
	totalLatencyNs atomic.Int64
}

// RecordCall records one completed call attempt.
func (s *CallStats) RecordCall(latency time.Duration, err error) {
	s.calls.Add(1)
	s.totalLatencyNs.Add(latency.Nanoseconds())
	if err != nil {
		s.failures.Add(1)
		if KindOf(err) == FailureRateLimited {
			s.rateLimitHits.Add(1)
		}
	}
}

// RecordBreakerReject records a call rejected by an open breaker.
func (s *CallStats) RecordBreakerReject() {
	s.breakerRejects.Add(1)
}

// StatsSnapshot is a point-in-time view of call statistics.
type StatsSnapshot struct {
	Calls          int64         `json:"calls"`
	Failures       int64         `json:"failures"`
	RateLimitHits  int64         `json:"rate_limit_hits"`
	BreakerRejects int64         `json:"breaker_rejects"`
	AverageLatency time.Duration `json:"average_latency"`
}

// Snapshot returns a best-effort consistent view of the statistics.
func (s *CallStats) Snapshot() StatsSnapshot {
	calls := s.calls.Load()
	snap := StatsSnapshot{
		Calls:          calls,
		Failures:       s.failures.Load(),
		RateLimitHits:  s.rateLimitHits.Load(),
		BreakerRejects: s.breakerRejects.Load(),
	}
	if calls > 0 {
		snap.AverageLatency = time.Duration(s.totalLatencyNs.Load() / calls)
	}
	return snap
}
