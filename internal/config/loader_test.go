package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// setupTestHome points HOME at a temp dir and clears variables that would
// leak into the loaded configuration.
func setupTestHome(t *testing.T) string {
	t.Helper()

	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GITHUB_TOKEN", "")
	return tmpHome
}

func writeConfig(t *testing.T, home, content string, perm os.FileMode) string {
	t.Helper()

	configDir := filepath.Join(home, ".koda")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), perm); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	// WriteFile is subject to umask; force the mode under test.
	if err := os.Chmod(configPath, perm); err != nil {
		t.Fatalf("Failed to chmod test config: %v", err)
	}
	return configPath
}

// TestLoadWithFile_ValidYAML tests loading configuration from a valid YAML file.
func TestLoadWithFile_ValidYAML(t *testing.T) {
	home := setupTestHome(t)

	configPath := writeConfig(t, home, `server:
  http_port: 9090
  host: 0.0.0.0

provider:
  name: openai
  api_key: sk-test
  max_retries: 5

agent:
  max_iterations: 10
  plan_max_steps: 8

tools:
  shell_enabled: false
  shell_deny: [curl, wget]
  command_timeout: 5s

nats:
  url: nats://localhost:4222
`, 0600)

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Provider.Name != "openai" {
		t.Errorf("Provider.Name = %q, want openai", cfg.Provider.Name)
	}
	if cfg.Provider.APIKey.Value() != "sk-test" {
		t.Errorf("Provider.APIKey not loaded")
	}
	if cfg.Provider.MaxRetries != 5 {
		t.Errorf("Provider.MaxRetries = %d, want 5", cfg.Provider.MaxRetries)
	}
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("Agent.MaxIterations = %d, want 10", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.PlanMaxSteps != 8 {
		t.Errorf("Agent.PlanMaxSteps = %d, want 8", cfg.Agent.PlanMaxSteps)
	}
	if cfg.Tools.ShellEnabled {
		t.Error("Tools.ShellEnabled = true, want false (set explicitly)")
	}
	if strings.Join(cfg.Tools.ShellDeny, ",") != "curl,wget" {
		t.Errorf("Tools.ShellDeny = %v, want [curl wget]", cfg.Tools.ShellDeny)
	}
	if cfg.Tools.CommandTimeout.Duration() != 5*time.Second {
		t.Errorf("Tools.CommandTimeout = %v, want 5s", cfg.Tools.CommandTimeout.Duration())
	}
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("NATS.URL = %q", cfg.NATS.URL)
	}
	// Unset booleans keep their true defaults.
	if !cfg.Cache.Enabled || !cfg.Cache.Watch || !cfg.Secrets.RedactEvents {
		t.Error("default-true booleans were not applied")
	}
}

// TestLoadWithFile_EnvironmentOverride tests that environment variables override YAML.
func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	home := setupTestHome(t)

	configPath := writeConfig(t, home, `server:
  http_port: 9090
  shutdown_timeout: 10s

telemetry:
  enabled: false
  service_name: yaml-service
`, 0600)

	t.Setenv("KODA_SERVER_HTTP_PORT", "7777")
	t.Setenv("KODA_TELEMETRY_SERVICE_NAME", "env-service")
	t.Setenv("KODA_TOOLS_SHELL_ENABLED", "false")
	t.Setenv("KODA_TOOLS_SHELL_DENY", "curl,ssh")

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777 (from env)", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout.Duration() != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 10s (from YAML)", cfg.Server.ShutdownTimeout.Duration())
	}
	if cfg.Telemetry.ServiceName != "env-service" {
		t.Errorf("Telemetry.ServiceName = %q, want env-service (from env)", cfg.Telemetry.ServiceName)
	}
	if cfg.Tools.ShellEnabled {
		t.Error("Tools.ShellEnabled = true, want false (from env)")
	}
	if strings.Join(cfg.Tools.ShellDeny, ",") != "curl,ssh" {
		t.Errorf("Tools.ShellDeny = %v, want [curl ssh]", cfg.Tools.ShellDeny)
	}
}

func TestLoadWithFile_ProviderKeyFallback(t *testing.T) {
	home := setupTestHome(t)
	configPath := filepath.Join(home, ".koda", "config.yaml")

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	t.Setenv("GITHUB_TOKEN", "ghp_env")

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}
	if cfg.Provider.APIKey.Value() != "sk-ant-env" {
		t.Error("Provider.APIKey did not fall back to ANTHROPIC_API_KEY")
	}
	if cfg.GitHub.Token.Value() != "ghp_env" {
		t.Error("GitHub.Token did not fall back to GITHUB_TOKEN")
	}

	t.Setenv("KODA_PROVIDER_API_KEY", "sk-explicit")
	cfg, err = LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}
	if cfg.Provider.APIKey.Value() != "sk-explicit" {
		t.Error("KODA_PROVIDER_API_KEY should win over ANTHROPIC_API_KEY")
	}
}

// TestLoadWithFile_DefaultPath tests loading with empty path uses the default.
func TestLoadWithFile_DefaultPath(t *testing.T) {
	home := setupTestHome(t)
	writeConfig(t, home, "server:\n  http_port: 8123\n", 0600)

	cfg, err := LoadWithFile("")
	if err != nil {
		t.Fatalf("LoadWithFile(\"\") error = %v, want nil", err)
	}
	if cfg.Server.Port != 8123 {
		t.Errorf("Server.Port = %d, want 8123", cfg.Server.Port)
	}
}

// TestLoadWithFile_MissingFile tests that a missing config file falls back to defaults.
func TestLoadWithFile_MissingFile(t *testing.T) {
	home := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(home, ".koda", "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil (missing file is fine)", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000 (default)", cfg.Server.Port)
	}
}

// TestLoadWithFile_InvalidYAML tests that invalid YAML is rejected.
func TestLoadWithFile_InvalidYAML(t *testing.T) {
	home := setupTestHome(t)
	configPath := writeConfig(t, home, "server:\n  http_port: [unclosed\n", 0600)

	if _, err := LoadWithFile(configPath); err == nil {
		t.Error("LoadWithFile() error = nil, want error for invalid YAML")
	}
}

// TestLoadWithFile_Validation tests that loaded values are validated.
func TestLoadWithFile_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"port out of range", "server:\n  http_port: 70000\n", "invalid server port"},
		{"unknown provider", "provider:\n  name: bard\n", "unknown provider"},
		{"negative run tokens", "agent:\n  max_run_tokens: -1\n", "max_run_tokens"},
		{"sample rate", "telemetry:\n  sample_rate: 2\n", "sample_rate"},
		{"negative duration", "server:\n  shutdown_timeout: -5s\n", "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := setupTestHome(t)
			configPath := writeConfig(t, home, tt.yaml, 0600)

			_, err := LoadWithFile(configPath)
			if err == nil {
				t.Fatalf("LoadWithFile() error = nil, want %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

// TestLoadWithFile_PathTraversal tests that paths outside allowed dirs are rejected.
func TestLoadWithFile_PathTraversal(t *testing.T) {
	home := setupTestHome(t)

	for _, p := range []string{
		"/tmp/config.yaml",
		filepath.Join(home, ".koda", "..", "config.yaml"),
		filepath.Join(home, ".koda-evil", "config.yaml"),
		"/etc/koda../etc/passwd",
	} {
		t.Run(p, func(t *testing.T) {
			if _, err := LoadWithFile(p); err == nil {
				t.Errorf("LoadWithFile(%s) error = nil, want path validation error", p)
			}
		})
	}
}

func TestValidateConfigPath_AllowsValidPaths(t *testing.T) {
	home := setupTestHome(t)

	for _, p := range []string{
		filepath.Join(home, ".koda", "config.yaml"),
		filepath.Join(home, ".koda", "profiles", "work.yaml"),
		"/etc/koda/config.yaml",
	} {
		t.Run(p, func(t *testing.T) {
			if err := validateConfigPath(p); err != nil {
				t.Errorf("Valid path rejected: %s, error: %v", p, err)
			}
		})
	}
}

// TestLoadWithFile_InsecurePermissions tests that world-readable config files are rejected.
func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	home := setupTestHome(t)

	for _, perm := range []os.FileMode{0644, 0666, 0640} {
		t.Run(perm.String(), func(t *testing.T) {
			configPath := writeConfig(t, home, "server:\n  http_port: 9090\n", perm)
			_, err := LoadWithFile(configPath)
			if err == nil {
				t.Fatalf("LoadWithFile() error = nil, want permission error for %v", perm)
			}
			if !strings.Contains(err.Error(), "insecure config file permissions") {
				t.Errorf("error = %v, want permission error", err)
			}
		})
	}
}

// TestLoadWithFile_SecurePermissions tests that 0600 and 0400 are accepted.
func TestLoadWithFile_SecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	home := setupTestHome(t)

	for _, perm := range []os.FileMode{0600, 0400} {
		t.Run(perm.String(), func(t *testing.T) {
			configPath := filepath.Join(home, ".koda", "config.yaml")
			_ = os.Remove(configPath)
			writeConfig(t, home, "server:\n  http_port: 9090\n", perm)
			if _, err := LoadWithFile(configPath); err != nil {
				t.Errorf("LoadWithFile() error = %v, want nil for %v", err, perm)
			}
		})
	}
}

// TestLoadWithFile_FileTooLarge tests that files above 1MB are rejected.
func TestLoadWithFile_FileTooLarge(t *testing.T) {
	home := setupTestHome(t)

	large := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	configPath := writeConfig(t, home, large, 0600)

	_, err := LoadWithFile(configPath)
	if err == nil {
		t.Fatal("LoadWithFile() error = nil, want size error")
	}
	if !strings.Contains(err.Error(), "too large") {
		t.Errorf("error = %v, want size error", err)
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"KODA_SERVER_HTTP_PORT":      "server.http_port",
		"KODA_PROVIDER_API_KEY":      "provider.api_key",
		"KODA_AGENT_MAX_ITERATIONS":  "agent.max_iterations",
		"KODA_SECRETS_REDACT_EVENTS": "secrets.redact_events",
		"KODA_DEBUG":                 "debug",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}
