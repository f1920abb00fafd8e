// Package config provides configuration loading for koda.
//
// Configuration is read from an optional YAML file and overridden by
// KODA_-prefixed environment variables. Every section has defaults, so an
// empty configuration is valid.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds the complete koda configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Provider  ProviderConfig  `koanf:"provider"`
	Agent     AgentConfig     `koanf:"agent"`
	Tools     ToolsConfig     `koanf:"tools"`
	Cache     CacheConfig     `koanf:"cache"`
	Budget    BudgetConfig    `koanf:"budget"`
	NATS      NATSConfig      `koanf:"nats"`
	Secrets   SecretsConfig   `koanf:"secrets"`
	GitHub    GitHubConfig    `koanf:"github"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`

	// SyncTimeout bounds the synchronous POST /task endpoint.
	SyncTimeout Duration `koanf:"sync_timeout"`
}

// ProviderConfig selects and tunes the model provider.
type ProviderConfig struct {
	Name         string   `koanf:"name"` // anthropic or openai
	APIKey       Secret   `koanf:"api_key"`
	BaseURL      string   `koanf:"base_url"`
	Model        string   `koanf:"model"`
	FastModel    string   `koanf:"fast_model"`
	MaxTokens    int      `koanf:"max_tokens"`
	Timeout      Duration `koanf:"timeout"`
	RateLimit    float64  `koanf:"rate_limit"` // requests per second
	Burst        int      `koanf:"burst"`
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
}

// AgentConfig bounds one run.
type AgentConfig struct {
	MaxIterations   int `koanf:"max_iterations"`
	MaxRunTokens    int `koanf:"max_run_tokens"` // 0 disables the cap
	ContextTruncate int `koanf:"context_truncate"`
	PlanMaxSteps    int `koanf:"plan_max_steps"` // 0 keeps every step
}

// ToolsConfig tunes the tool implementations.
type ToolsConfig struct {
	CommandTimeout   Duration `koanf:"command_timeout"`
	MaxOutput        int      `koanf:"max_output"`
	ShellEnabled     bool     `koanf:"shell_enabled"`
	ShellDeny        []string `koanf:"shell_deny"`
	SearchMaxResults int      `koanf:"search_max_results"`
	MaxFileBytes     int64    `koanf:"max_file_bytes"`
}

// CacheConfig holds repository summary cache settings.
type CacheConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`

	// Watch invalidates cached summaries when HEAD moves.
	Watch bool `koanf:"watch"`
}

// BudgetConfig holds per-owner token limits.
type BudgetConfig struct {
	Enabled      bool  `koanf:"enabled"`
	DefaultLimit int64 `koanf:"default_limit"`
}

// NATSConfig enables run event publication. An empty URL disables it.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// SecretsConfig controls secret detection.
type SecretsConfig struct {
	// RedactEvents scrubs streamed events and MCP tool output.
	RedactEvents bool `koanf:"redact_events"`

	// BlockOnFindings fails a run whose staged changes contain secrets.
	BlockOnFindings bool   `koanf:"block_on_findings"`
	AllowlistPath   string `koanf:"allowlist_path"`
}

// GitHubConfig enables publishing approved changes as pull requests.
type GitHubConfig struct {
	Token   Secret `koanf:"token"`
	BaseURL string `koanf:"base_url"`
	Remote  string `koanf:"remote"`
	Author  string `koanf:"author"`
	Email   string `koanf:"email"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc or http/protobuf
	ServiceName string  `koanf:"service_name"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// LoggingConfig holds the logger settings exposed to users.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{
		Tools:   ToolsConfig{ShellEnabled: true},
		Cache:   CacheConfig{Enabled: true, Watch: true},
		Secrets: SecretsConfig{RedactEvents: true},
	}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Provider name is unknown
//   - Agent or tool limits are out of range
//   - Telemetry sample rate is outside 0..1
//   - A configured URL does not parse
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Provider.Name {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown provider %q (supported: anthropic, openai)", c.Provider.Name)
	}
	if c.Provider.MaxRetries < 0 {
		return errors.New("provider max_retries cannot be negative")
	}

	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.MaxRunTokens < 0 {
		return errors.New("agent max_run_tokens cannot be negative")
	}
	if c.Agent.PlanMaxSteps < 0 {
		return errors.New("agent plan_max_steps cannot be negative")
	}

	if c.Tools.MaxOutput < 1 {
		return fmt.Errorf("tools max_output must be positive, got %d", c.Tools.MaxOutput)
	}
	if c.Budget.Enabled && c.Budget.DefaultLimit < 1 {
		return errors.New("budget default_limit must be positive when budgets are enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample_rate must be between 0 and 1, got %v", c.Telemetry.SampleRate)
	}

	for name, raw := range map[string]string{
		"provider.base_url": c.Provider.BaseURL,
		"nats.url":          c.NATS.URL,
		"github.base_url":   c.GitHub.BaseURL,
	} {
		if raw == "" {
			continue
		}
		if _, err := url.Parse(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.SyncTimeout == 0 {
		cfg.Server.SyncTimeout = Duration(10 * time.Minute)
	}

	// Provider defaults; models and rate limits default in the provider
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "anthropic"
	}

	// Agent defaults
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 25
	}
	if cfg.Agent.ContextTruncate == 0 {
		cfg.Agent.ContextTruncate = 200
	}

	// Tools defaults
	if cfg.Tools.CommandTimeout == 0 {
		cfg.Tools.CommandTimeout = Duration(30 * time.Second)
	}
	if cfg.Tools.MaxOutput == 0 {
		cfg.Tools.MaxOutput = 2000
	}
	if cfg.Tools.SearchMaxResults == 0 {
		cfg.Tools.SearchMaxResults = 50
	}
	if cfg.Tools.MaxFileBytes == 0 {
		cfg.Tools.MaxFileBytes = 1 << 20
	}

	// Budget defaults
	if cfg.Budget.DefaultLimit == 0 {
		cfg.Budget.DefaultLimit = 100000
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "koda.runs"
	}

	// Telemetry defaults
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "koda"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}
