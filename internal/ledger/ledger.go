package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrInvalidPath is returned for absolute paths or paths escaping the root.
	ErrInvalidPath = errors.New("invalid path")

	// ErrApplyFailed wraps any disk failure raised while applying changes.
	ErrApplyFailed = errors.New("apply failed")
)

// Kind classifies a staged change.
type Kind string

const (
	KindCreate Kind = "create"
	KindModify Kind = "modify"
	KindDelete Kind = "delete"
)

// Change is one pending mutation.
type Change struct {
	Path       string `json:"path"`
	Kind       Kind   `json:"kind"`
	NewContent string `json:"new_content,omitempty"`

	// OriginalContent is the on-disk content seen at the first staging of
	// Path. Nil means the file did not exist.
	OriginalContent *string `json:"original_content,omitempty"`
}

// Counts holds the number of staged changes per kind.
type Counts struct {
	Create int `json:"create"`
	Modify int `json:"modify"`
	Delete int `json:"delete"`
}

// Total returns the number of staged changes.
func (c Counts) Total() int {
	return c.Create + c.Modify + c.Delete
}

// Ledger is the staged change buffer of one run. It is safe for concurrent
// use so that observers can inspect it while the run is executing.
type Ledger struct {
	root string

	mu      sync.Mutex
	order   []string
	changes map[string]*Change
}

// New creates an empty ledger rooted at root.
func New(root string) *Ledger {
	return &Ledger{
		root:    filepath.Clean(root),
		changes: make(map[string]*Change),
	}
}

// Root returns the directory paths are resolved against.
func (l *Ledger) Root() string {
	return l.root
}

// Normalize cleans a root-relative path into the slash-separated key used by
// the ledger.
func Normalize(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	slashed := filepath.ToSlash(p)
	if path.IsAbs(slashed) || filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %s is absolute", ErrInvalidPath, p)
	}
	clean := path.Clean(slashed)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s escapes the working root", ErrInvalidPath, p)
	}
	return clean, nil
}

func (l *Ledger) abs(rel string) string {
	return filepath.Join(l.root, filepath.FromSlash(rel))
}

// StageWrite records new content for p. The first staging of a path captures
// the current disk content; later stagings only replace the new content.
func (l *Ledger) StageWrite(p, content string) (string, error) {
	key, err := Normalize(p)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.changes[key]; ok {
		c.NewContent = content
		if c.OriginalContent != nil {
			c.Kind = KindModify
		} else {
			c.Kind = KindCreate
		}
		return fmt.Sprintf("[STAGED] Updated staged changes for '%s'", key), nil
	}

	change := &Change{Path: key, NewContent: content}
	data, err := os.ReadFile(l.abs(key))
	switch {
	case err == nil:
		original := string(data)
		change.OriginalContent = &original
		change.Kind = KindModify
	case errors.Is(err, fs.ErrNotExist):
		change.Kind = KindCreate
	default:
		return "", fmt.Errorf("read %s: %w", key, err)
	}

	l.add(change)
	return fmt.Sprintf("[STAGED] Will %s '%s' (not yet applied)", change.Kind, key), nil
}

// StageDelete records the deletion of p. A path that does not exist on disk
// yields a textual error result rather than an error value.
func (l *Ledger) StageDelete(p string) (string, error) {
	key, err := Normalize(p)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.abs(key))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Sprintf("Error: File '%s' does not exist", key), nil
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", key, err)
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: '%s' is not a file", key), nil
	}

	if c, ok := l.changes[key]; ok {
		c.Kind = KindDelete
		c.NewContent = ""
		return fmt.Sprintf("[STAGED] Will delete '%s' (not yet applied)", key), nil
	}

	data, err := os.ReadFile(l.abs(key))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	original := string(data)
	l.add(&Change{Path: key, Kind: KindDelete, OriginalContent: &original})
	return fmt.Sprintf("[STAGED] Will delete '%s' (not yet applied)", key), nil
}

// add must be called with mu held.
func (l *Ledger) add(c *Change) {
	l.order = append(l.order, c.Path)
	l.changes[c.Path] = c
}

// List returns a copy of the staged changes in insertion order.
func (l *Ledger) List() []Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

func (l *Ledger) snapshot() []Change {
	out := make([]Change, 0, len(l.order))
	for _, key := range l.order {
		c := *l.changes[key]
		if c.OriginalContent != nil {
			original := *c.OriginalContent
			c.OriginalContent = &original
		}
		out = append(out, c)
	}
	return out
}

// Get returns the staged change for p, if any.
func (l *Ledger) Get(p string) (Change, bool) {
	key, err := Normalize(p)
	if err != nil {
		return Change{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.changes[key]
	if !ok {
		return Change{}, false
	}
	return *c, true
}

// Len returns the number of staged changes.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// Counts returns the staged changes per kind.
func (l *Ledger) Counts() Counts {
	l.mu.Lock()
	defer l.mu.Unlock()
	var c Counts
	for _, key := range l.order {
		switch l.changes[key].Kind {
		case KindCreate:
			c.Create++
		case KindModify:
			c.Modify++
		case KindDelete:
			c.Delete++
		}
	}
	return c
}

// ReadFile returns the content of p as the run currently sees it: staged
// content wins over disk, and a staged delete reads as fs.ErrNotExist.
func (l *Ledger) ReadFile(p string) (string, error) {
	key, err := Normalize(p)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	c, ok := l.changes[key]
	var staged Change
	if ok {
		staged = *c
	}
	l.mu.Unlock()

	if ok {
		if staged.Kind == KindDelete {
			return "", fmt.Errorf("%s: %w", key, fs.ErrNotExist)
		}
		return staged.NewContent, nil
	}

	data, err := os.ReadFile(l.abs(key))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DiscardAll drops every staged change without touching disk.
func (l *Ledger) DiscardAll() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.order)
	l.reset()
	return fmt.Sprintf("Discarded %d staged change(s).", n)
}

func (l *Ledger) reset() {
	l.order = nil
	l.changes = make(map[string]*Change)
}

// Summary describes the staged changes by kind.
func (l *Ledger) Summary() string {
	c := l.Counts()
	if c.Total() == 0 {
		return "No staged changes."
	}
	var parts []string
	if c.Create > 0 {
		parts = append(parts, fmt.Sprintf("%d file(s) to create", c.Create))
	}
	if c.Modify > 0 {
		parts = append(parts, fmt.Sprintf("%d file(s) to modify", c.Modify))
	}
	if c.Delete > 0 {
		parts = append(parts, fmt.Sprintf("%d file(s) to delete", c.Delete))
	}
	return "Staged: " + strings.Join(parts, ", ")
}
