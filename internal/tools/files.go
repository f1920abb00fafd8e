package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/keyur7523/koda/internal/ledger"
	"github.com/keyur7523/koda/internal/workspace"
)

const (
	dirMarker  = "📁 "
	fileMarker = "📄 "
)

func readFile(maxBytes int64) Handler {
	return func(_ context.Context, ws *workspace.Workspace, args Args) (string, error) {
		p, err := args.String("path")
		if err != nil {
			return "", err
		}
		abs, rel, err := ws.Resolve(p)
		if err != nil {
			return "", err
		}

		if c, ok := ws.Ledger().Get(rel); ok {
			if c.Kind == ledger.KindDelete {
				return fmt.Sprintf("Error: File '%s' not found.", p), nil
			}
			return c.NewContent, nil
		}

		info, err := os.Stat(abs)
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Sprintf("Error: File '%s' not found.", p), nil
		}
		if err != nil {
			return "", err
		}
		if !info.Mode().IsRegular() {
			return fmt.Sprintf("Error: '%s' is not a file.", p), nil
		}
		if maxBytes > 0 && info.Size() > maxBytes {
			return "", fmt.Errorf("file %s is %d bytes, limit is %d", p, info.Size(), maxBytes)
		}

		data, err := os.ReadFile(abs)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func writeFile(_ context.Context, ws *workspace.Workspace, args Args) (string, error) {
	p, err := args.String("path")
	if err != nil {
		return "", err
	}
	content, err := args.String("content")
	if err != nil {
		return "", err
	}
	_, rel, err := ws.Resolve(p)
	if err != nil {
		return "", err
	}
	msg, err := ws.Ledger().StageWrite(rel, content)
	if err != nil {
		return "", err
	}
	ws.InvalidateSymbols()
	return msg, nil
}

func deleteFile(_ context.Context, ws *workspace.Workspace, args Args) (string, error) {
	p, err := args.String("path")
	if err != nil {
		return "", err
	}
	_, rel, err := ws.Resolve(p)
	if err != nil {
		return "", err
	}
	msg, err := ws.Ledger().StageDelete(rel)
	if err != nil {
		return "", err
	}
	ws.InvalidateSymbols()
	return msg, nil
}

// listDirectory lists a directory as the run sees it: staged creations are
// shown and staged deletions are hidden.
func listDirectory(_ context.Context, ws *workspace.Workspace, args Args) (string, error) {
	p := args.OptionalString("path", ".")
	abs, rel, err := ws.Resolve(p)
	if err != nil {
		return "", err
	}

	entries := make(map[string]bool)
	info, statErr := os.Stat(abs)
	onDisk := statErr == nil
	if onDisk && !info.IsDir() {
		return fmt.Sprintf("Error: '%s' is not a directory.", p), nil
	}
	if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return "", statErr
	}
	if onDisk {
		dirEntries, err := os.ReadDir(abs)
		if err != nil {
			return "", err
		}
		for _, e := range dirEntries {
			entries[e.Name()] = e.IsDir()
		}
	}

	prefix := ""
	if rel != "." {
		prefix = rel + "/"
	}
	for _, c := range ws.Ledger().List() {
		if !strings.HasPrefix(c.Path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(c.Path, prefix)
		first, _, nested := strings.Cut(rest, "/")
		switch {
		case c.Kind == ledger.KindDelete && !nested:
			delete(entries, first)
		case c.Kind != ledger.KindDelete:
			entries[first] = entries[first] || nested
		}
	}

	if !onDisk && len(entries) == 0 {
		return fmt.Sprintf("Error: Directory '%s' not found.", p), nil
	}
	if len(entries) == 0 {
		return fmt.Sprintf("Directory '%s' is empty.", p), nil
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		marker := fileMarker
		if entries[name] {
			marker = dirMarker
		}
		lines = append(lines, marker+name)
	}
	return strings.Join(lines, "\n"), nil
}
