// Package cache stores codebase summaries per repository revision.
//
// A summary is keyed by md5(repoPath + ":" + HEAD), so a new commit or a
// branch switch naturally misses. Entries are JSON files under
// ~/.koda/cache. Every failure degrades to a miss: the cache only saves
// model calls and must never fail a run.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/logging"
	"github.com/keyur7523/koda/internal/metrics"
	"github.com/keyur7523/koda/internal/orchestrator"
)

// entry is the on-disk format.
type entry struct {
	Summary  string `json:"summary"`
	RepoPath string `json:"repo_path"`
}

// Cache is a file-backed summary cache. It satisfies
// orchestrator.SummaryCache.
type Cache struct {
	dir     string
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu sync.Mutex
	// revisions memoizes HEAD for watched repositories only; a
	// HeadWatcher drops the memo when the revision moves.
	revisions map[string]string
	watched   map[string]bool
}

var _ orchestrator.SummaryCache = (*Cache)(nil)

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics counts hits and misses.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// DefaultDir returns ~/.koda/cache.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "koda-cache")
	}
	return filepath.Join(home, ".koda", "cache")
}

// New creates a cache rooted at dir, or DefaultDir when dir is empty.
func New(dir string, opts ...Option) *Cache {
	if dir == "" {
		dir = DefaultDir()
	}
	c := &Cache{
		dir:       dir,
		logger:    logging.Nop(),
		revisions: make(map[string]string),
		watched:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Key returns the cache key for the repository's current revision.
func (c *Cache) Key(repoPath string) string {
	sum := md5.Sum([]byte(repoPath + ":" + c.revision(repoPath)))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) revision(repoPath string) string {
	c.mu.Lock()
	if rev, ok := c.revisions[repoPath]; ok {
		c.mu.Unlock()
		return rev
	}
	watched := c.watched[repoPath]
	c.mu.Unlock()

	rev := Revision(repoPath)
	if watched {
		c.mu.Lock()
		c.revisions[repoPath] = rev
		c.mu.Unlock()
	}
	return rev
}

func (c *Cache) path(repoPath string) string {
	return filepath.Join(c.dir, c.Key(repoPath)+".json")
}

// Get returns the summary for the repository's current revision.
func (c *Cache) Get(ctx context.Context, repoPath string) (string, bool, error) {
	data, err := os.ReadFile(c.path(repoPath))
	if err != nil {
		c.miss()
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading cache entry: %w", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.miss()
		return "", false, fmt.Errorf("decoding cache entry: %w", err)
	}
	if e.Summary == "" {
		c.miss()
		return "", false, nil
	}

	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug(ctx, "summary cache hit", zap.String("repo", repoPath))
	return e.Summary, true, nil
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// Set stores the summary for the repository's current revision.
func (c *Cache) Set(ctx context.Context, repoPath, summary string) error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	data, err := json.MarshalIndent(entry{Summary: summary, RepoPath: repoPath}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := os.WriteFile(c.path(repoPath), data, 0o600); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	c.logger.Debug(ctx, "summary cached", zap.String("repo", repoPath))
	return nil
}

// Clear removes the entry for repoPath, or every entry when repoPath is
// empty, and returns how many files were removed.
func (c *Cache) Clear(repoPath string) (int, error) {
	if repoPath != "" {
		err := os.Remove(c.path(repoPath))
		switch {
		case err == nil:
			return 1, nil
		case errors.Is(err, fs.ErrNotExist):
			return 0, nil
		default:
			return 0, fmt.Errorf("removing cache entry: %w", err)
		}
	}

	files, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("listing cache entries: %w", err)
	}
	removed := 0
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("removing cache entry: %w", err)
		}
		removed++
	}
	return removed, nil
}

// Invalidate drops the memoized revision of repoPath.
func (c *Cache) Invalidate(repoPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.revisions, repoPath)
}

func (c *Cache) setWatched(repoPath string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.watched[repoPath] = true
		return
	}
	delete(c.watched, repoPath)
	delete(c.revisions, repoPath)
}
