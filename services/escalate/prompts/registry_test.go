// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	t.Setenv(EnvPromptsPath, "")

	reg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if reg.Source() != "embedded" {
		t.Errorf("Source() = %q, want embedded", reg.Source())
	}

	for _, at := range []string{"execution_trace", "cross_system", "performance", "hypothesis_test"} {
		if reg.SystemPrompt(at) == reg.SystemPrompt("unknown") {
			t.Errorf("analysis type %q falls back to the default prompt", at)
		}
	}
	if !strings.Contains(reg.SystemPrompt("hypothesis_test"), "score") {
		t.Error("hypothesis_test prompt must ask for a score")
	}
	if reg.SummaryPrompt() == "" {
		t.Error("SummaryPrompt() is empty")
	}
}

func TestLoadUnknownTypeFallsBack(t *testing.T) {
	reg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got := reg.SystemPrompt("made_up_mode"); got != reg.SystemPrompt("another_made_up_mode") {
		t.Errorf("unknown types must share the default prompt, got %q", got)
	}
}

func TestLoadExternalOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	override := `
default: custom default prompt
summary: custom summary prompt
prompts:
  - analysis_type: execution_trace
    system: custom execution trace prompt
`
	if err := os.WriteFile(path, []byte(override), 0o600); err != nil {
		t.Fatalf("writing override: %v", err)
	}
	t.Setenv(EnvPromptsPath, path)

	reg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if reg.Source() != "external" {
		t.Errorf("Source() = %q, want external", reg.Source())
	}
	if got := reg.SystemPrompt("execution_trace"); got != "custom execution trace prompt" {
		t.Errorf("SystemPrompt(execution_trace) = %q", got)
	}
	if got := reg.SystemPrompt("performance"); got != "custom default prompt" {
		t.Errorf("types absent from the override use its default, got %q", got)
	}
}

func TestLoadBrokenExternalFallsBackToEmbedded(t *testing.T) {
	t.Setenv(EnvPromptsPath, filepath.Join(t.TempDir(), "missing.yaml"))

	reg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if reg.Source() != "embedded" {
		t.Errorf("Source() = %q, want embedded fallback", reg.Source())
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing default",
			yaml: "summary: s\nprompts: []\n",
		},
		{
			name: "missing summary",
			yaml: "default: d\nprompts: []\n",
		},
		{
			name: "empty analysis type",
			yaml: "default: d\nsummary: s\nprompts:\n  - analysis_type: \"\"\n    system: x\n",
		},
		{
			name: "duplicate analysis type",
			yaml: "default: d\nsummary: s\nprompts:\n  - analysis_type: a\n    system: x\n  - analysis_type: a\n    system: y\n",
		},
		{
			name: "empty system text",
			yaml: "default: d\nsummary: s\nprompts:\n  - analysis_type: a\n    system: \"  \"\n",
		},
		{
			name: "not yaml",
			yaml: "{{{{",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parse([]byte(tt.yaml)); err == nil {
				t.Error("parse() succeeded, want error")
			}
		})
	}
}
