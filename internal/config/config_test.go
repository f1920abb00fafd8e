package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8000 {
		t.Errorf("Server = %s:%d, want localhost:8000", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout.Duration() != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 10s", cfg.Server.ShutdownTimeout.Duration())
	}
	if cfg.Provider.Name != "anthropic" {
		t.Errorf("Provider.Name = %q, want anthropic", cfg.Provider.Name)
	}
	if cfg.Agent.MaxIterations != 25 {
		t.Errorf("Agent.MaxIterations = %d, want 25", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.ContextTruncate != 200 {
		t.Errorf("Agent.ContextTruncate = %d, want 200", cfg.Agent.ContextTruncate)
	}
	if !cfg.Tools.ShellEnabled {
		t.Error("Tools.ShellEnabled = false, want true")
	}
	if cfg.Budget.Enabled {
		t.Error("Budget.Enabled = true, want false (disabled by default)")
	}
	if cfg.NATS.SubjectPrefix != "koda.runs" {
		t.Errorf("NATS.SubjectPrefix = %q, want koda.runs", cfg.NATS.SubjectPrefix)
	}
	if cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled = true, want false (disabled by default)")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"provider", func(c *Config) { c.Provider.Name = "other" }, "unknown provider"},
		{"retries", func(c *Config) { c.Provider.MaxRetries = -1 }, "max_retries"},
		{"iterations", func(c *Config) { c.Agent.MaxIterations = 0 }, "max_iterations"},
		{"plan steps", func(c *Config) { c.Agent.PlanMaxSteps = -2 }, "plan_max_steps"},
		{"max output", func(c *Config) { c.Tools.MaxOutput = 0 }, "max_output"},
		{"budget limit", func(c *Config) { c.Budget.Enabled = true; c.Budget.DefaultLimit = 0 }, "default_limit"},
		{"bad url", func(c *Config) { c.NATS.URL = "nats://[::1" }, "nats.url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-live-123")

	if s.String() != "[REDACTED]" {
		t.Errorf("String() = %q, want [REDACTED]", s.String())
	}
	if got := fmt.Sprintf("%v", s); strings.Contains(got, "sk-live") {
		t.Errorf("formatted secret leaked: %q", got)
	}
	if s.Value() != "sk-live-123" {
		t.Errorf("Value() = %q", s.Value())
	}

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{s})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "sk-live") {
		t.Errorf("JSON leaked secret: %s", data)
	}

	if Secret("").IsSet() {
		t.Error("empty secret reports IsSet")
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if d.Duration() != 90*time.Second {
		t.Errorf("Duration() = %v, want 1m30s", d.Duration())
	}
	if err := d.UnmarshalText([]byte("-1s")); err == nil {
		t.Error("UnmarshalText(-1s) error = nil, want error")
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("UnmarshalText(soon) error = nil, want error")
	}
	if err := d.UnmarshalText([]byte("45")); err != nil {
		t.Fatalf("UnmarshalText(45) error = %v", err)
	}
	if d.Duration() != 45*time.Second {
		t.Errorf("bare integer Duration() = %v, want 45s", d.Duration())
	}
}
