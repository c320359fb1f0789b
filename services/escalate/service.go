// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package escalate wires the deep reasoning escalation service.
//
// The service offers two entry points over the same remote reasoning
// client: multi-turn conversation sessions for open-ended investigation,
// and hypothesis tournaments for ranking competing explanations.
package escalate

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianEscalate/services/escalate/conversation"
	"github.com/AleutianAI/AleutianEscalate/services/escalate/prompts"
	"github.com/AleutianAI/AleutianEscalate/services/escalate/reasoning"
	"github.com/AleutianAI/AleutianEscalate/services/escalate/tournament"
)

// ServiceVersion is the escalation service version.
const ServiceVersion = "0.1.0"

// ServiceConfig configures the escalation service.
type ServiceConfig struct {
	// Store configures the session table.
	Store conversation.StoreConfig

	// Manager configures the conversation lifecycle.
	Manager conversation.ManagerConfig

	// Tournament configures hypothesis tournaments.
	Tournament tournament.Config

	// Sweeper configures the idle-session sweep.
	Sweeper conversation.SweeperConfig
}

// DefaultServiceConfig returns sensible defaults for the service.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Store:      conversation.DefaultStoreConfig(),
		Manager:    conversation.DefaultManagerConfig(),
		Tournament: tournament.DefaultConfig(),
		Sweeper:    conversation.DefaultSweeperConfig(),
	}
}

// Service is the escalation service facade.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	client    reasoning.Client
	registry  *prompts.Registry
	store     *conversation.Store
	manager   *conversation.Manager
	scheduler *tournament.Scheduler
	sweeper   *conversation.Sweeper
	config    ServiceConfig
	startedAt time.Time
}

// NewService wires the escalation service.
//
// Inputs:
//   - client: Remote reasoning client. Must not be nil.
//   - registry: Prompt registry. Must not be nil.
//   - config: Service configuration. Use DefaultServiceConfig() for defaults.
//
// Outputs:
//   - *Service: The wired service.
//   - error: If a dependency is nil or a sub-config invalid.
func NewService(client reasoning.Client, registry *prompts.Registry, config ServiceConfig) (*Service, error) {
	if client == nil || registry == nil {
		return nil, fmt.Errorf("client and registry must not be nil")
	}

	store := conversation.NewStore(config.Store, nil)
	manager, err := conversation.NewManager(store, client, registry, config.Manager)
	if err != nil {
		return nil, fmt.Errorf("creating conversation manager: %w", err)
	}
	scheduler, err := tournament.NewScheduler(client, registry, config.Tournament)
	if err != nil {
		return nil, fmt.Errorf("creating tournament scheduler: %w", err)
	}

	return &Service{
		client:    client,
		registry:  registry,
		store:     store,
		manager:   manager,
		scheduler: scheduler,
		sweeper:   conversation.NewSweeper(store, config.Sweeper),
		config:    config,
		startedAt: time.Now(),
	}, nil
}

// StartConversation opens a session and performs the first exchange.
func (s *Service) StartConversation(ctx context.Context, analysisType, initialContext string, budget conversation.Budget) (string, *conversation.TurnResult, error) {
	return s.manager.Start(ctx, conversation.AnalysisType(analysisType), initialContext, budget)
}

// ContinueConversation performs one exchange on an active session.
func (s *Service) ContinueConversation(ctx context.Context, sessionID, message string) (*conversation.TurnResult, error) {
	return s.manager.Continue(ctx, sessionID, message)
}

// FinalizeConversation produces the consolidated session summary.
func (s *Service) FinalizeConversation(ctx context.Context, sessionID string) (*conversation.Summary, error) {
	return s.manager.Finalize(ctx, sessionID)
}

// ConversationStatus returns a best-effort session snapshot.
func (s *Service) ConversationStatus(sessionID string) (*conversation.StatusSnapshot, error) {
	return s.manager.Status(sessionID)
}

// RunTournament executes one hypothesis tournament.
//
// Per-request overrides apply on top of the configured tournament defaults.
func (s *Service) RunTournament(ctx context.Context, req *TournamentRequest) (*tournament.Result, error) {
	scheduler := s.scheduler
	if req.MaxRounds > 0 || req.EliminatePerRound > 0 {
		config := s.config.Tournament
		if req.MaxRounds > 0 {
			config.MaxRounds = req.MaxRounds
		}
		if req.EliminatePerRound > 0 {
			config.EliminatePerRound = req.EliminatePerRound
		}
		override, err := tournament.NewScheduler(s.client, s.registry, config)
		if err != nil {
			return nil, err
		}
		scheduler = override
	}
	return scheduler.Run(ctx, req.Evidence, toHypotheses(req.Hypotheses))
}

// Stats returns aggregate service statistics for health reporting.
func (s *Service) Stats() StatsResponse {
	return StatsResponse{
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
		ActiveSessions: s.store.Len(),
		RemoteCalls:    s.client.Stats(),
		Breaker:        s.client.BreakerSnapshot(),
	}
}

// RunSweeper blocks, evicting idle sessions until the context is cancelled.
// Intended to run in its own goroutine alongside the HTTP server.
func (s *Service) RunSweeper(ctx context.Context) error {
	return s.sweeper.Run(ctx)
}
