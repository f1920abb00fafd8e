// Package workspace binds the working root, ledger and indexes of one task
// run. Tools receive a *Workspace explicitly instead of consulting process
// globals, so concurrent runs never observe each other's staged content.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/keyur7523/koda/internal/ignore"
	"github.com/keyur7523/koda/internal/ledger"
	"github.com/keyur7523/koda/internal/symbols"
)

// ErrOutsideRoot is returned when a path resolves outside the working root.
var ErrOutsideRoot = ledger.ErrOutsideRoot

// Workspace is the per-run context handed to every tool call.
type Workspace struct {
	root    string
	ledger  *ledger.Ledger
	matcher *ignore.Matcher

	symMu   sync.Mutex
	symbols *symbols.Index
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithMatcher overrides the ignore matcher loaded from the root.
func WithMatcher(m *ignore.Matcher) Option {
	return func(w *Workspace) {
		w.matcher = m
	}
}

// New binds a workspace to root with a fresh ledger.
func New(root string, opts ...Option) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}

	w := &Workspace{
		root:   abs,
		ledger: ledger.New(abs),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.matcher == nil {
		m, err := ignore.Load(abs)
		if err != nil {
			return nil, fmt.Errorf("load ignore files: %w", err)
		}
		w.matcher = m
	}
	return w, nil
}

// Root returns the absolute working root.
func (w *Workspace) Root() string {
	return w.root
}

// Ledger returns the run's staged change ledger.
func (w *Workspace) Ledger() *ledger.Ledger {
	return w.ledger
}

// Ignore returns the matcher for skipped paths.
func (w *Workspace) Ignore() *ignore.Matcher {
	return w.matcher
}

// Resolve maps a root-relative path to its absolute location and its clean
// relative form. Anything that escapes the root, directly or through a
// symlink, fails with ErrOutsideRoot.
func (w *Workspace) Resolve(p string) (abs, rel string, err error) {
	if p == "" || p == "." || p == "./" {
		return w.root, ".", nil
	}

	candidate := p
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(w.root, candidate)
	}
	candidate = filepath.Clean(candidate)
	if !w.contains(candidate) {
		return "", "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}

	// Symlinks are followed through every existing part of the path,
	// including a dangling leaf and the ancestors of a file not yet created.
	if err := ledger.CheckContained(w.root, candidate); err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}

	rel, err = filepath.Rel(w.root, candidate)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return candidate, filepath.ToSlash(rel), nil
}

func (w *Workspace) contains(p string) bool {
	return p == w.root || strings.HasPrefix(p, w.root+string(filepath.Separator))
}

// ReadFile returns the content of p, preferring staged content over disk.
func (w *Workspace) ReadFile(p string) (string, error) {
	_, rel, err := w.Resolve(p)
	if err != nil {
		return "", err
	}
	return w.ledger.ReadFile(rel)
}

// Symbols returns the symbol index of the root, building it on first use.
func (w *Workspace) Symbols(ctx context.Context) (*symbols.Index, error) {
	w.symMu.Lock()
	defer w.symMu.Unlock()

	if w.symbols != nil {
		return w.symbols, nil
	}
	read := func(rel string) ([]byte, error) {
		content, err := w.ledger.ReadFile(rel)
		return []byte(content), err
	}
	idx, err := symbols.Build(ctx, w.root, w.matcher.Match, read)
	if err != nil {
		return nil, fmt.Errorf("build symbol index: %w", err)
	}
	w.symbols = idx
	return idx, nil
}

// InvalidateSymbols drops the cached symbol index.
func (w *Workspace) InvalidateSymbols() {
	w.symMu.Lock()
	w.symbols = nil
	w.symMu.Unlock()
}
