package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// ErrOutsideRoot is returned when a path, after following symlinks,
// lands outside the root.
var ErrOutsideRoot = errors.New("path escapes working root")

const maxLinkHops = 40

// CheckContained reports ErrOutsideRoot unless target stays under root once
// every symlink is followed. Paths that do not exist yet are judged by their
// nearest existing ancestor, and a dangling link is judged by where it
// points. Any lookup failure is treated as an escape.
func CheckContained(root, target string) error {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("%w: resolve root: %w", ErrOutsideRoot, err)
	}
	real, err := realPath(filepath.Clean(target), 0)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrOutsideRoot, target, err)
	}
	if !within(realRoot, real) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, target)
	}
	return nil
}

func within(root, p string) bool {
	return p == root || strings.HasPrefix(p, root+string(filepath.Separator))
}

// realPath follows symlinks through the parts of p that exist and appends
// the parts that do not.
func realPath(p string, hops int) (string, error) {
	if hops > maxLinkHops {
		return "", errors.New("too many levels of symbolic links")
	}
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return real, nil
	}

	info, err := os.Lstat(p)
	switch {
	case err == nil && info.Mode()&fs.ModeSymlink != 0:
		dest, err := os.Readlink(p)
		if err != nil {
			return "", err
		}
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(filepath.Dir(p), dest)
		}
		return realPath(filepath.Clean(dest), hops+1)
	case err == nil:
		// Exists but EvalSymlinks failed, e.g. a looping ancestor.
		return "", fmt.Errorf("cannot resolve %s", p)
	case !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTDIR):
		return "", err
	}

	parent := filepath.Dir(p)
	if parent == p {
		return p, nil
	}
	realParent, err := realPath(parent, hops)
	if err != nil {
		return "", err
	}
	return filepath.Join(realParent, filepath.Base(p)), nil
}
