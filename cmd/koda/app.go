package main

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/cache"
	"github.com/keyur7523/koda/internal/config"
	"github.com/keyur7523/koda/internal/dispatch"
	"github.com/keyur7523/koda/internal/logging"
	"github.com/keyur7523/koda/internal/metrics"
	"github.com/keyur7523/koda/internal/orchestrator"
	"github.com/keyur7523/koda/internal/provider"
	"github.com/keyur7523/koda/internal/secrets"
	"github.com/keyur7523/koda/internal/telemetry"
	"github.com/keyur7523/koda/internal/tools"
)

// newModelClient is swapped in tests for a scripted client.
var newModelClient = provider.New

// app holds what every long running command shares.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	tel     *telemetry.Telemetry
	metrics *metrics.Metrics
}

// newApp loads configuration and starts telemetry and logging. quiet
// raises the log level to warn unless --verbose or a level is configured,
// so interactive output is not interleaved with info logs.
func newApp(ctx context.Context, quiet bool) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	settings := cfg.Logging
	switch {
	case verbose:
		settings.Level = "debug"
	case quiet && settings.Level == "info":
		settings.Level = "warn"
	}
	logCfg, err := logging.FromSettings(settings)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	logger.Debug(ctx, "configuration loaded",
		zap.String("provider", cfg.Provider.Name),
		zap.Bool("telemetry", cfg.Telemetry.Enabled),
		zap.Bool("cache", cfg.Cache.Enabled),
	)

	return &app{cfg: cfg, logger: logger, tel: tel, metrics: metrics.Default()}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
	_ = a.logger.Close()
}

func (a *app) modelClient() (orchestrator.ModelClient, error) {
	p := a.cfg.Provider
	return newModelClient(provider.Config{
		Name:         p.Name,
		APIKey:       p.APIKey.Value(),
		BaseURL:      p.BaseURL,
		Model:        p.Model,
		FastModel:    p.FastModel,
		MaxTokens:    p.MaxTokens,
		Timeout:      p.Timeout.Duration(),
		RateLimit:    p.RateLimit,
		Burst:        p.Burst,
		MaxRetries:   p.MaxRetries,
		RetryBackoff: p.RetryBackoff.Duration(),
	}, a.logger.Named("provider"))
}

func (a *app) dispatcher() *dispatch.Dispatcher {
	t := a.cfg.Tools
	cfg := tools.Config{
		CommandTimeout:   t.CommandTimeout.Duration(),
		MaxOutput:        t.MaxOutput,
		ShellEnabled:     t.ShellEnabled,
		DeniedCommands:   tools.DefaultDeniedCommands,
		SearchMaxResults: t.SearchMaxResults,
		MaxFileBytes:     t.MaxFileBytes,
	}
	if len(t.ShellDeny) > 0 {
		cfg.DeniedCommands = t.ShellDeny
	}
	return dispatch.New(tools.NewDefaultRegistry(cfg),
		dispatch.WithLogger(a.logger.Named("dispatch")),
		dispatch.WithMetrics(a.metrics),
	)
}

// scanner builds the gitleaks scanner with the allowlist of repoPath merged
// with the user allowlist.
func (a *app) scanner(repoPath string) (*secrets.Scanner, error) {
	allow, err := secrets.LoadAllowlists(repoPath, a.cfg.Secrets.AllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading secret allowlists: %w", err)
	}
	return secrets.New(secrets.Config{Enabled: true, AllowlistPath: a.cfg.Secrets.AllowlistPath}, allow)
}

// summaryCache returns nil when caching is disabled.
func (a *app) summaryCache() *cache.Cache {
	if !a.cfg.Cache.Enabled {
		return nil
	}
	return cache.New(a.cfg.Cache.Dir, cache.WithLogger(a.logger.Named("cache")), cache.WithMetrics(a.metrics))
}

// orchestratorOptions maps the agent section and shared services onto a
// run. Sinks, approver and usage tracking are added by the caller.
func (a *app) orchestratorOptions(root string, scanner secrets.Scrubber, c *cache.Cache) []orchestrator.Option {
	ag := a.cfg.Agent
	opts := []orchestrator.Option{
		orchestrator.WithRoot(root),
		orchestrator.WithLogger(a.logger.Named("orchestrator")),
		orchestrator.WithMaxIterations(ag.MaxIterations),
		orchestrator.WithMaxRunTokens(ag.MaxRunTokens),
		orchestrator.WithContextTruncate(ag.ContextTruncate),
		orchestrator.WithMaxPlanSteps(ag.PlanMaxSteps),
		orchestrator.WithGates(
			orchestrator.NewSecretGate(scanner, a.cfg.Secrets.BlockOnFindings),
			orchestrator.NewSizeGate(maxStagedFiles),
		),
	}
	if c != nil {
		opts = append(opts, orchestrator.WithSummaryCache(c))
	}
	return opts
}

// maxStagedFiles is the change count above which approval shows a warning.
const maxStagedFiles = 50

func absRepo(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dir, err)
	}
	return abs, nil
}
