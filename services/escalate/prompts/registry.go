// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts loads the prompt registry for the escalation service.
//
// Prompts ship embedded in the binary and may be overridden by an external
// YAML file for customization without a rebuild.
//
// Thread Safety:
//
//	A Registry is immutable after Load and safe for concurrent use.
package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gopkg.in/yaml.v3"
)

const (
	// MaxYAMLFileSize is the maximum allowed prompt file size (1MB).
	MaxYAMLFileSize = 1024 * 1024

	// MaxPromptsInRegistry is the maximum prompt entries allowed.
	MaxPromptsInRegistry = 50

	// EnvPromptsPath is the environment variable naming an external
	// prompt file that overrides the embedded defaults.
	EnvPromptsPath = "ESCALATE_PROMPTS_PATH"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

var promptLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "escalate_prompt_load_errors_total",
	Help: "Total prompt registry load errors",
})

var registryTracer = otel.Tracer("escalate.prompts")

// registryYAML is the root structure for YAML deserialization.
type registryYAML struct {
	Default string       `yaml:"default"`
	Prompts []promptYAML `yaml:"prompts"`
	Summary string       `yaml:"summary"`
}

// promptYAML is a single per-analysis-type prompt entry.
type promptYAML struct {
	AnalysisType string `yaml:"analysis_type"`
	System       string `yaml:"system"`
}

// Registry holds the loaded prompt set.
//
// Thread Safety: Safe for concurrent use after Load.
type Registry struct {
	byType       map[string]string
	defaultText  string
	summaryText  string
	source       string
}

// Load builds the registry from the external file named by
// ESCALATE_PROMPTS_PATH when present, otherwise from the embedded defaults.
//
// Inputs:
//   - ctx: Context for tracing. Must not be nil.
//
// Outputs:
//   - *Registry: The loaded registry. Never nil on success.
//   - error: Non-nil if parsing failed.
func Load(ctx context.Context) (*Registry, error) {
	_, span := registryTracer.Start(ctx, "prompts.Load")
	defer span.End()

	data := defaultPromptsYAML
	source := "embedded"

	if path := os.Getenv(EnvPromptsPath); path != "" {
		external, err := readExternal(path)
		if err != nil {
			// Embedded defaults keep the service usable.
			slog.Warn("External prompt file not usable, using embedded defaults",
				"path", path,
				"error", err,
			)
		} else {
			data = external
			source = "external"
		}
	}

	span.SetAttributes(
		attribute.String("source", source),
		attribute.Int("yaml_size", len(data)),
	)

	reg, err := parse(data)
	if err != nil {
		promptLoadErrors.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, fmt.Errorf("parsing prompt registry: %w", err)
	}
	reg.source = source

	slog.Info("Prompt registry loaded",
		"source", source,
		"analysis_types", len(reg.byType),
	)
	return reg, nil
}

// readExternal loads an override file with path and size checks.
func readExternal(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if strings.Contains(absPath, "..") {
		return nil, fmt.Errorf("path traversal not allowed: %s", absPath)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("prompt file too large: %d bytes (max %d)", info.Size(), MaxYAMLFileSize)
	}

	return os.ReadFile(absPath)
}

// parse deserializes and validates the registry YAML.
func parse(data []byte) (*Registry, error) {
	var root registryYAML
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}

	if len(root.Prompts) > MaxPromptsInRegistry {
		return nil, fmt.Errorf("too many prompts: %d (max %d)", len(root.Prompts), MaxPromptsInRegistry)
	}
	if strings.TrimSpace(root.Default) == "" {
		return nil, fmt.Errorf("registry has no default prompt")
	}
	if strings.TrimSpace(root.Summary) == "" {
		return nil, fmt.Errorf("registry has no summary prompt")
	}

	byType := make(map[string]string, len(root.Prompts))
	for i, p := range root.Prompts {
		if p.AnalysisType == "" {
			return nil, fmt.Errorf("prompt at index %d has empty analysis_type", i)
		}
		if strings.TrimSpace(p.System) == "" {
			return nil, fmt.Errorf("prompt %q has empty system text", p.AnalysisType)
		}
		if _, dup := byType[p.AnalysisType]; dup {
			return nil, fmt.Errorf("duplicate prompt for analysis_type %q", p.AnalysisType)
		}
		byType[p.AnalysisType] = strings.TrimSpace(p.System)
	}

	return &Registry{
		byType:      byType,
		defaultText: strings.TrimSpace(root.Default),
		summaryText: strings.TrimSpace(root.Summary),
	}, nil
}

// SystemPrompt returns the system prompt for an analysis type, falling back
// to the default prompt for unknown types.
func (r *Registry) SystemPrompt(analysisType string) string {
	if text, ok := r.byType[analysisType]; ok {
		return text
	}
	return r.defaultText
}

// SummaryPrompt returns the instruction for the closing summary turn.
func (r *Registry) SummaryPrompt() string {
	return r.summaryText
}

// Source reports where the prompts came from, "embedded" or "external".
func (r *Registry) Source() string {
	return r.source
}

// AnalysisTypes returns the analysis types with a dedicated prompt.
func (r *Registry) AnalysisTypes() []string {
	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	return types
}
