// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command escalate starts the Aleutian deep reasoning escalation server.
//
// The server lets a local analysis agent escalate hard investigations to a
// large remote reasoning model, either as a multi-turn conversation session
// or as a hypothesis elimination tournament.
//
// Usage:
//
//	go run ./cmd/escalate
//	go run ./cmd/escalate -port 9190
//
// With a Gemini backend:
//
//	GEMINI_API_KEY=... go run ./cmd/escalate -backend gemini
//
// With any OpenAI-compatible backend:
//
//	OPENAI_API_KEY=... OPENAI_BASE_URL=https://... go run ./cmd/escalate -backend openai
//
// Example requests:
//
//	# Health check
//	curl http://localhost:9190/v1/escalate/health
//
//	# Start a conversation
//	curl -X POST http://localhost:9190/v1/escalate/conversation/start \
//	  -H "Content-Type: application/json" \
//	  -d '{"analysis_type": "execution_trace", "initial_context": "...", "time_budget_seconds": 600, "turn_budget": 10}'
//
//	# Run a hypothesis tournament
//	curl -X POST http://localhost:9190/v1/escalate/tournament \
//	  -H "Content-Type: application/json" \
//	  -d '{"evidence": "...", "hypotheses": [{"id": "h1", "description": "..."}]}'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianEscalate/services/escalate"
	"github.com/AleutianAI/AleutianEscalate/services/escalate/prompts"
	"github.com/AleutianAI/AleutianEscalate/services/escalate/reasoning"
	"github.com/AleutianAI/AleutianEscalate/services/escalate/telemetry"
)

func main() {
	port := flag.Int("port", 9190, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	backendName := flag.String("backend", "gemini", "Remote reasoning backend: gemini, openai, or mock")
	rps := flag.Float64("rps", 1.0, "Sustained requests per second to the backend")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		slog.Error("Failed to init telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("Telemetry shutdown", "error", err)
		}
	}()

	backend, err := buildBackend(*backendName)
	if err != nil {
		slog.Error("Failed to build backend", "backend", *backendName, "error", err)
		os.Exit(1)
	}

	clientConfig := reasoning.DefaultClientConfig()
	clientConfig.RequestsPerSecond = *rps
	client, err := reasoning.NewGatewayClient(backend, clientConfig)
	if err != nil {
		slog.Error("Failed to create reasoning client", "error", err)
		os.Exit(1)
	}

	registry, err := prompts.Load(ctx)
	if err != nil {
		slog.Error("Failed to load prompt registry", "error", err)
		os.Exit(1)
	}

	svc, err := escalate.NewService(client, registry, escalate.DefaultServiceConfig())
	if err != nil {
		slog.Error("Failed to wire service", "error", err)
		os.Exit(1)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	escalate.RegisterRoutes(v1, escalate.NewHandlers(svc))

	if metricsHandler := telemetry.MetricsHandler(); metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		slog.Info("Starting escalation server",
			"address", server.Addr,
			"backend", backend.Name(),
			"model", backend.Model(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		err := svc.RunSweeper(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("Shutting down escalation server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}

// buildBackend constructs the remote reasoning backend from flags and
// environment.
func buildBackend(name string) (reasoning.Backend, error) {
	switch name {
	case "gemini":
		return reasoning.NewGeminiBackend(
			os.Getenv("GEMINI_API_KEY"),
			os.Getenv("GEMINI_BASE_URL"),
			os.Getenv("GEMINI_MODEL"),
		)
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai backend")
		}
		return reasoning.NewOpenAIBackend(
			apiKey,
			os.Getenv("OPENAI_BASE_URL"),
			os.Getenv("OPENAI_MODEL"),
		), nil
	case "mock":
		// Useful for local endpoint testing without a remote backend.
		mock := reasoning.NewMockBackend()
		mock.SetDefaultResponse(&reasoning.Response{
			Content: `{"findings": {}, "score": 0.5, "rationale": "mock backend"}`,
		})
		return mock, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
