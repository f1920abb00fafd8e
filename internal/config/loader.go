package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix marks environment variables read as configuration.
	EnvPrefix = "KODA_"
)

// API key variables honored when provider.api_key is unset.
var providerKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

// LoadWithFile loads configuration from YAML file, then overrides with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (KODA_SERVER_HTTP_PORT, KODA_PROVIDER_API_KEY, etc.)
//  2. YAML config file (~/.koda/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, uses
// the default path. A missing file is not an error.
//
// # Security Considerations
//
// File Permissions: Configuration file MUST have 0600 or 0400 permissions,
// since it may hold API keys and tokens.
//
// Path Validation: Only configuration files under ~/.koda/ or /etc/koda/
// can be loaded.
//
// File Size Limit: Configuration files larger than 1MB are rejected.
//
// # Environment Variable Mapping
//
// The KODA_ prefix is stripped and the rest split on its first underscore:
//
//	KODA_SERVER_HTTP_PORT -> server.http_port
//	KODA_PROVIDER_API_KEY -> provider.api_key
//	KODA_TOOLS_SHELL_DENY -> tools.shell_deny (comma separated)
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	// Validate config path (even if file doesn't exist)
	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open file once and validate using file descriptor to avoid TOCTOU race
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Use rawbytes provider to avoid re-opening the file
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	return load(k)
}

// envKey maps KODA_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func load(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Booleans that default to true.
	defaultTrue := map[string]*bool{
		"tools.shell_enabled":   &cfg.Tools.ShellEnabled,
		"cache.enabled":         &cfg.Cache.Enabled,
		"cache.watch":           &cfg.Cache.Watch,
		"secrets.redact_events": &cfg.Secrets.RedactEvents,
	}
	for key, field := range defaultTrue {
		if !k.Exists(key) {
			*field = true
		}
	}

	applyDefaults(&cfg)

	if !cfg.Provider.APIKey.IsSet() {
		if name, ok := providerKeyEnv[cfg.Provider.Name]; ok {
			cfg.Provider.APIKey = Secret(os.Getenv(name))
		}
	}
	if !cfg.GitHub.Token.IsSet() {
		cfg.GitHub.Token = Secret(os.Getenv("GITHUB_TOKEN"))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Dir returns ~/.koda.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".koda"), nil
}

// EnsureConfigDir creates ~/.koda with 0700 permissions if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Resolve symlinks so they cannot escape the allowed directories.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Paths that don't exist yet are validated as given.
		resolvedPath = absPath
	}

	dir, err := Dir()
	if err != nil {
		return err
	}
	allowedDirs := []string{dir, "/etc/koda"}

	for _, d := range allowedDirs {
		if resolvedPath == d || strings.HasPrefix(resolvedPath, d+string(filepath.Separator)) {
			return nil
		}
		// The allowed directory itself may sit behind a symlink.
		if real, err := filepath.EvalSymlinks(d); err == nil && strings.HasPrefix(resolvedPath, real+string(filepath.Separator)) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.koda/ or /etc/koda/")
}

// validateConfigFileProperties checks file permissions and size.
// Takes FileInfo from an already-opened file descriptor to avoid TOCTOU race.
func validateConfigFileProperties(info os.FileInfo) error {
	// Skip on Windows (different permission model)
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}
