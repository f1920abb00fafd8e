package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/budget"
	"github.com/keyur7523/koda/internal/cache"
	"github.com/keyur7523/koda/internal/events"
	httpserver "github.com/keyur7523/koda/internal/http"
	"github.com/keyur7523/koda/internal/logging"
	"github.com/keyur7523/koda/internal/orchestrator"
	"github.com/keyur7523/koda/internal/publish"
	"github.com/keyur7523/koda/internal/runs"
)

var serveRepo string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveRepo, "repo", ".", "repository used when a task names none")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP and WebSocket API",
	Long: `Start the HTTP server. Tasks submitted over REST or WebSocket run headless
and wait for an approval call before any staged change is applied.

Examples:
  # Serve on the configured host and port
  koda serve

  # Override the port through the environment
  KODA_SERVER_HTTP_PORT=9000 koda serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))
	logger := a.logger

	logger.Info(ctx, "koda starting",
		zap.String("version", version),
		zap.String("commit", gitCommit),
		zap.String("build_date", buildDate),
	)

	defaultRepo, err := absRepo(serveRepo)
	if err != nil {
		return err
	}
	client, err := a.modelClient()
	if err != nil {
		return err
	}
	scanner, err := a.scanner(defaultRepo)
	if err != nil {
		return err
	}
	dispatcher := a.dispatcher()

	summaries := a.summaryCache()
	var heads *headWatchers
	if summaries != nil && a.cfg.Cache.Watch {
		heads = newHeadWatchers(summaries, logger)
		defer heads.stopAll()
	}

	var tracker *budget.Tracker
	if a.cfg.Budget.Enabled {
		tracker = budget.New(a.cfg.Budget.DefaultLimit,
			budget.WithLogger(logger.Named("budget")),
			budget.WithMetrics(a.metrics),
		)
	}

	publishers := []events.Publisher{
		events.NewLogPublisher(logger.Named("events")),
		events.NewMetricsPublisher(a.metrics),
	}
	if url := a.cfg.NATS.URL; url != "" {
		nc, err := nats.Connect(url, nats.Name("koda"))
		if err != nil {
			return fmt.Errorf("connecting to nats: %w", err)
		}
		defer nc.Drain()
		publishers = append(publishers, events.NewNATSPublisher(nc, a.cfg.NATS.SubjectPrefix))
		logger.Info(ctx, "publishing run events to nats", zap.String("prefix", a.cfg.NATS.SubjectPrefix))
	}

	gh := a.cfg.GitHub
	pub, err := publish.New(ctx, publish.Config{
		Token:   gh.Token,
		BaseURL: gh.BaseURL,
		Remote:  gh.Remote,
		Author:  gh.Author,
		Email:   gh.Email,
	}, logger.Named("publish"))
	if err != nil {
		return fmt.Errorf("initializing publisher: %w", err)
	}

	recOpts := []events.RecorderOption{events.WithRecorderLogger(logger.Named("events"))}
	if a.cfg.Secrets.RedactEvents {
		recOpts = append(recOpts, events.WithScrubber(scanner))
	}

	runOpts := []runs.Option{
		runs.WithLogger(logger.Named("runs")),
		runs.WithPublisher(pub),
		runs.WithEventPublishers(publishers...),
		runs.WithRecorderOptions(recOpts...),
	}
	if tracker != nil {
		runOpts = append(runOpts, runs.WithBudget(tracker))
	}

	factory := func(ctx context.Context, _ string, req runs.Request, sink orchestrator.Sink) (*orchestrator.Orchestrator, error) {
		root := defaultRepo
		if req.RepoPath != "" {
			abs, err := absRepo(req.RepoPath)
			if err != nil {
				return nil, err
			}
			root = abs
		}
		if heads != nil {
			heads.ensure(ctx, root)
		}
		opts := append(a.orchestratorOptions(root, scanner, summaries), orchestrator.WithSink(sink))
		if tracker != nil && req.Owner != "" {
			opts = append(opts, orchestrator.WithUsageTracker(tracker, req.Owner))
		}
		return orchestrator.New(client, dispatcher, opts...), nil
	}

	manager := runs.NewManager(factory, runOpts...)
	defer manager.Close()

	server, err := httpserver.NewServer(manager, scanner, logger.Underlying(), &httpserver.Config{
		Host:        a.cfg.Server.Host,
		Port:        a.cfg.Server.Port,
		SyncTimeout: a.cfg.Server.SyncTimeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	logger.Info(ctx, "koda stopped")
	return nil
}

// headWatchers starts one HEAD watcher per repository that runs use, so a
// branch switch invalidates its cached summary.
type headWatchers struct {
	cache  *cache.Cache
	logger *logging.Logger

	mu       sync.Mutex
	watchers map[string]*cache.HeadWatcher
}

func newHeadWatchers(c *cache.Cache, logger *logging.Logger) *headWatchers {
	return &headWatchers{cache: c, logger: logger, watchers: make(map[string]*cache.HeadWatcher)}
}

// ensure is best effort: a directory that is not a repository has no HEAD
// to watch and is remembered so it is not retried.
func (h *headWatchers) ensure(ctx context.Context, repo string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.watchers[repo]; ok {
		return
	}
	hw, err := h.cache.Watch(context.WithoutCancel(ctx), repo)
	if err != nil {
		h.logger.Debug(ctx, "not watching repository", zap.String("repo", repo), zap.Error(err))
	}
	h.watchers[repo] = hw
}

func (h *headWatchers) stopAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for repo, hw := range h.watchers {
		if hw != nil {
			hw.Stop()
		}
		delete(h.watchers, repo)
	}
}
