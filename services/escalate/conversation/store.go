// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escalate_sessions_created_total",
		Help: "Total conversation sessions created",
	})

	sessionsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escalate_sessions_evicted_total",
		Help: "Total conversation sessions evicted by the idle sweep",
	})

	activeSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escalate_sessions_active",
		Help: "Conversation sessions currently resident in the store",
	})
)

// StoreConfig configures the session store.
type StoreConfig struct {
	// IdleTTL is how long a session may sit idle before eviction.
	// Default: 30 minutes.
	IdleTTL time.Duration

	// MaxSessions caps the number of resident sessions. Creation beyond
	// the cap fails. Default: 100.
	MaxSessions int
}

// DefaultStoreConfig returns sensible defaults for the store.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		IdleTTL:     30 * time.Minute,
		MaxSessions: 100,
	}
}

// sessionEntry pairs a session with its exclusive turn lock.
//
// The lock is a capacity-1 channel so acquisition can observe context
// cancellation; a sync.Mutex cannot.
type sessionEntry struct {
	lock    chan struct{}
	session *Session

	// snapMu guards the snapshot read by Status while a turn is in flight.
	snapMu sync.Mutex
	snap   StatusSnapshot
}

func (e *sessionEntry) acquire(ctx context.Context) error {
	select {
	case e.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *sessionEntry) tryAcquire() bool {
	select {
	case e.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *sessionEntry) release() {
	<-e.lock
}

// refreshSnapshot recomputes the read-only view. Must be called while the
// turn lock is held.
func (e *sessionEntry) refreshSnapshot() {
	s := e.session
	e.snapMu.Lock()
	e.snap = StatusSnapshot{
		SessionID:      s.ID,
		State:          s.State.String(),
		AnalysisType:   s.AnalysisType,
		TurnsTaken:     len(s.Turns),
		Budget:         s.Budget,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
	}
	e.snapMu.Unlock()
}

// Store is the in-memory keyed session table.
//
// It owns session creation, per-session mutual exclusion, and TTL-based
// eviction. No global lock is ever held across a remote call: the table
// lock protects only map access, and the per-session lock serializes turns
// for one id.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	config StoreConfig
	clock  Clock

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// NewStore creates an empty session store.
//
// Inputs:
//   - config: Store configuration. Use DefaultStoreConfig() for defaults.
//   - clock: Time source. Nil means the system clock.
//
// Outputs:
//   - *Store: The empty store.
func NewStore(config StoreConfig, clock Clock) *Store {
	if config.IdleTTL <= 0 {
		config.IdleTTL = DefaultStoreConfig().IdleTTL
	}
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultStoreConfig().MaxSessions
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Store{
		config:   config,
		clock:    clock,
		sessions: make(map[string]*sessionEntry),
	}
}

// Create allocates a new session in StateCreated and returns its id.
//
// Inputs:
//   - analysisType: Investigation mode. Must be valid.
//   - budget: Initial allowance. Both components must be positive.
//
// Outputs:
//   - string: The opaque session id.
//   - error: ErrInvalidAnalysisType, ErrInvalidBudget, or a capacity error.
func (st *Store) Create(analysisType AnalysisType, budget Budget) (string, error) {
	if !analysisType.Valid() {
		return "", ErrInvalidAnalysisType
	}
	if budget.TimeRemaining <= 0 || budget.TurnsRemaining <= 0 {
		return "", ErrInvalidBudget
	}

	now := st.clock.Now()
	session := &Session{
		ID:             uuid.NewString(),
		State:          StateCreated,
		AnalysisType:   analysisType,
		Budget:         budget,
		CreatedAt:      now,
		LastActivityAt: now,
		Findings:       make(map[string]string),
	}
	entry := &sessionEntry{
		lock:    make(chan struct{}, 1),
		session: session,
	}
	entry.snap = StatusSnapshot{
		SessionID:      session.ID,
		State:          session.State.String(),
		AnalysisType:   session.AnalysisType,
		Budget:         session.Budget,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.sessions) >= st.config.MaxSessions {
		return "", ErrStoreFull
	}
	st.sessions[session.ID] = entry

	sessionsCreatedTotal.Inc()
	activeSessionsGauge.Set(float64(len(st.sessions)))
	return session.ID, nil
}

// WithSession runs fn with exclusive access to the session.
//
// Description:
//
//	Acquires the session-scoped lock before invoking fn and releases it on
//	every exit path, including panics. This is what guarantees the
//	single-in-flight-turn invariant. The table lock is not held while fn
//	runs, so sessions never block each other.
//
// Inputs:
//
//	ctx - Context observed while waiting for the lock.
//	id - Session id.
//	fn - Callback with exclusive session access. May mutate the session.
//
// Outputs:
//
//	error - ErrSessionNotFound if the id is absent or evicted, the context
//	error if lock acquisition was cancelled, otherwise fn's error.
//
// Thread Safety: Safe for concurrent use.
func (st *Store) WithSession(ctx context.Context, id string, fn func(*Session) error) error {
	st.mu.RLock()
	entry, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	if err := entry.acquire(ctx); err != nil {
		return err
	}
	defer func() {
		entry.refreshSnapshot()
		entry.release()
	}()

	// The sweep may have evicted this session while we waited.
	if entry.session.State == StateExpired {
		return ErrSessionNotFound
	}
	return fn(entry.session)
}

// Status returns the best-effort read-only snapshot for a session.
//
// Never blocks on the turn lock, so it is safe to call concurrently with an
// in-flight turn.
func (st *Store) Status(id string) (*StatusSnapshot, error) {
	st.mu.RLock()
	entry, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	entry.snapMu.Lock()
	snap := entry.snap
	entry.snapMu.Unlock()
	return &snap, nil
}

// EvictExpired removes sessions idle longer than the TTL.
//
// Description:
//
//	Sessions whose turn lock is busy are skipped: an in-flight turn is
//	activity by definition. Evicted sessions transition to StateExpired so
//	a caller racing the sweep inside WithSession observes the eviction
//	rather than a stale session.
//
// Inputs:
//
//	now - The sweep time.
//
// Outputs:
//
//	int - Number of sessions evicted.
func (st *Store) EvictExpired(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	evicted := 0
	for id, entry := range st.sessions {
		if !entry.tryAcquire() {
			continue
		}
		idle := now.Sub(entry.session.LastActivityAt)
		if idle >= st.config.IdleTTL {
			entry.session.State = StateExpired
			entry.refreshSnapshot()
			delete(st.sessions, id)
			evicted++
			slog.Info("Evicted idle session",
				"session_id", id,
				"idle", idle,
				"analysis_type", entry.session.AnalysisType,
			)
		}
		entry.release()
	}

	if evicted > 0 {
		sessionsEvictedTotal.Add(float64(evicted))
		activeSessionsGauge.Set(float64(len(st.sessions)))
	}
	return evicted
}

// Len returns the number of resident sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
