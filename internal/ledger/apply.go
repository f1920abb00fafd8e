package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const defaultFileMode fs.FileMode = 0o644

// ApplyAll writes every staged change to disk in insertion order and clears
// the ledger.
//
// All targets are validated before the first write. If a write still fails
// midway, entries already applied are restored from their original content
// and the ledger is left untouched so the caller can retry or discard.
func (l *Ledger) ApplyAll() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.order) == 0 {
		return "No changes to apply.", nil
	}

	changes := l.snapshot()
	for _, c := range changes {
		if err := l.preflight(c); err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrApplyFailed, c.Path, err)
		}
	}

	lines := make([]string, 0, len(changes))
	for i, c := range changes {
		if err := l.applyOne(c); err != nil {
			rbErr := l.rollback(changes[:i])
			return "", errors.Join(fmt.Errorf("%w: %s: %w", ErrApplyFailed, c.Path, err), rbErr)
		}
		lines = append(lines, appliedLine(c))
	}

	l.reset()
	return fmt.Sprintf("Applied %d change(s):\n%s", len(lines), strings.Join(lines, "\n")), nil
}

func appliedLine(c Change) string {
	switch c.Kind {
	case KindDelete:
		return "Deleted: " + c.Path
	case KindCreate:
		return "Created: " + c.Path
	default:
		return "Modified: " + c.Path
	}
}

// preflight checks that c can be applied without mutating anything.
func (l *Ledger) preflight(c Change) error {
	target := l.abs(c.Path)
	// A symlink swapped in after staging must not redirect the write.
	if err := CheckContained(l.root, target); err != nil {
		return err
	}
	info, err := os.Lstat(target)

	if c.Kind == KindDelete {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", c.Path)
		}
		return nil
	}

	if err == nil && info.IsDir() {
		return fmt.Errorf("%s is a directory", c.Path)
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	// The nearest existing ancestor must be a directory.
	for dir := filepath.Dir(target); ; dir = filepath.Dir(dir) {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("parent %s is not a directory", dir)
			}
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if dir == l.root || dir == filepath.Dir(dir) {
			return nil
		}
	}
}

func (l *Ledger) applyOne(c Change) error {
	target := l.abs(c.Path)
	if c.Kind == KindDelete {
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return writeFile(target, c.NewContent)
}

// rollback restores applied changes in reverse order.
func (l *Ledger) rollback(applied []Change) error {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		c := applied[i]
		target := l.abs(c.Path)
		var err error
		if c.OriginalContent == nil {
			err = os.Remove(target)
			if errors.Is(err, fs.ErrNotExist) {
				err = nil
			}
		} else {
			err = writeFile(target, *c.OriginalContent)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("rollback %s: %w", c.Path, err))
		}
	}
	return errors.Join(errs...)
}

func writeFile(target, content string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	mode := defaultFileMode
	if info, err := os.Stat(target); err == nil {
		mode = info.Mode().Perm()
	}
	return os.WriteFile(target, []byte(content), mode)
}
