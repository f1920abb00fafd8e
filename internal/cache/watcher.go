package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// HeadWatcher invalidates a repository's memoized revision whenever HEAD
// moves: a branch switch rewrites .git/HEAD, a commit through the git CLI
// appends to .git/logs/HEAD, and any commit rewrites a ref under
// .git/refs/heads.
type HeadWatcher struct {
	cache    *Cache
	repoPath string
	gitDir   string
	watcher  *fsnotify.Watcher

	// Changed receives a value, without blocking, after each invalidation.
	Changed chan struct{}

	stopOnce sync.Once
	done     chan struct{}
}

// Watch starts a HeadWatcher for repoPath. Stop it when the repository is
// no longer in use.
func (c *Cache) Watch(ctx context.Context, repoPath string) (*HeadWatcher, error) {
	dir, err := gitDir(repoPath)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	// Directories are watched rather than files: git replaces HEAD and
	// refs via rename, which drops a watch on the file itself.
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	for _, sub := range []string{filepath.Join(dir, "logs"), filepath.Join(dir, "refs", "heads")} {
		if _, err := os.Stat(sub); err == nil {
			_ = w.Add(sub)
		}
	}

	hw := &HeadWatcher{
		cache:    c,
		repoPath: repoPath,
		gitDir:   dir,
		watcher:  w,
		Changed:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	c.setWatched(repoPath, true)
	go hw.loop(ctx)
	return hw, nil
}

// Stop ends the watch and releases the memo.
func (hw *HeadWatcher) Stop() {
	hw.stopOnce.Do(func() {
		close(hw.done)
		_ = hw.watcher.Close()
		hw.cache.setWatched(hw.repoPath, false)
	})
}

func (hw *HeadWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-hw.done:
			return
		case <-ctx.Done():
			hw.Stop()
			return
		case ev, ok := <-hw.watcher.Events:
			if !ok {
				return
			}
			if hw.relevant(ev) {
				hw.cache.Invalidate(hw.repoPath)
				hw.cache.logger.Debug(ctx, "repository head moved", zap.String("repo", hw.repoPath))
				select {
				case hw.Changed <- struct{}{}:
				default:
				}
			}
		case err, ok := <-hw.watcher.Errors:
			if !ok {
				return
			}
			hw.cache.logger.Warn(ctx, "head watcher error", zap.Error(err))
		}
	}
}

func (hw *HeadWatcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	if filepath.Ext(ev.Name) == ".lock" {
		return false
	}
	if filepath.Base(ev.Name) == "HEAD" {
		return true
	}
	return filepath.Dir(ev.Name) == filepath.Join(hw.gitDir, "refs", "heads")
}
