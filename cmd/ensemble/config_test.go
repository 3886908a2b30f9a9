package main

import (
	"testing"
	"time"

	"github.com/kmorand/ensemble/internal/config"
)

func TestSetConfigValue(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		check func(cfg *config.Config) bool
	}{
		{
			name:  "max agents",
			key:   "coordinator.max_agents",
			value: "8",
			check: func(cfg *config.Config) bool { return cfg.Coordinator.MaxAgents == 8 },
		},
		{
			name:  "strategy",
			key:   "coordinator.strategy",
			value: "sequential",
			check: func(cfg *config.Config) bool { return cfg.Coordinator.Strategy == "sequential" },
		},
		{
			name:  "task timeout",
			key:   "coordinator.task_timeout",
			value: "2m30s",
			check: func(cfg *config.Config) bool { return cfg.Coordinator.TaskTimeout == 2*time.Minute+30*time.Second },
		},
		{
			name:  "memory enabled",
			key:   "memory.enabled",
			value: "false",
			check: func(cfg *config.Config) bool { return !cfg.Memory.Enabled },
		},
		{
			name:  "save importance",
			key:   "memory.save_importance",
			value: "0.75",
			check: func(cfg *config.Config) bool { return cfg.Memory.SaveImportance == 0.75 },
		},
		{
			name:  "worker model",
			key:   "worker.model",
			value: "claude-sonnet-4-20250514",
			check: func(cfg *config.Config) bool { return cfg.Worker.Model == "claude-sonnet-4-20250514" },
		},
		{
			name:  "worker max tokens",
			key:   "worker.max_tokens",
			value: "8192",
			check: func(cfg *config.Config) bool { return cfg.Worker.MaxTokens == 8192 },
		},
		{
			name:  "logging debug",
			key:   "logging.debug",
			value: "true",
			check: func(cfg *config.Config) bool { return cfg.Logging.Debug },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			if err := setConfigValue(cfg, tt.key, tt.value); err != nil {
				t.Fatalf("setConfigValue(%q, %q) error = %v", tt.key, tt.value, err)
			}
			if !tt.check(cfg) {
				t.Errorf("setConfigValue(%q, %q) did not apply", tt.key, tt.value)
			}
		})
	}
}

func TestSetConfigValueErrors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown key", "coordinator.flux_capacitor", "1.21"},
		{"bad int", "coordinator.max_agents", "many"},
		{"bad duration", "coordinator.task_timeout", "soon"},
		{"bad bool", "memory.enabled", "maybe"},
		{"bad float", "memory.save_importance", "high"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			if err := setConfigValue(cfg, tt.key, tt.value); err == nil {
				t.Errorf("setConfigValue(%q, %q) returned nil error", tt.key, tt.value)
			}
		})
	}
}

func TestGetConfigValue(t *testing.T) {
	cfg := config.Default()
	cfg.Coordinator.MaxAgents = 7
	cfg.Worker.APIKey = "sk-ant-secret-value"

	got, err := getConfigValue(cfg, "coordinator.max_agents")
	if err != nil {
		t.Fatalf("getConfigValue() error = %v", err)
	}
	if got != "7" {
		t.Errorf("coordinator.max_agents = %q, want 7", got)
	}

	// API keys never come back in the clear.
	got, err = getConfigValue(cfg, "worker.api_key")
	if err != nil {
		t.Fatalf("getConfigValue() error = %v", err)
	}
	if got == cfg.Worker.APIKey {
		t.Error("worker.api_key returned unmasked")
	}

	if _, err := getConfigValue(cfg, "nope"); err == nil {
		t.Error("getConfigValue(nope) returned nil error")
	}
}
