package tools

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/keyur7523/koda/internal/ledger"
	"github.com/keyur7523/koda/internal/workspace"
)

const maxMatchLineLength = 200

func searchCode(maxResults int, maxFileBytes int64) Handler {
	return func(ctx context.Context, ws *workspace.Workspace, args Args) (string, error) {
		query, err := args.String("query")
		if err != nil {
			return "", err
		}
		if query == "" {
			return "", fmt.Errorf("%w: query", ErrMissingArgument)
		}
		pattern := args.OptionalString("file_pattern", "*")
		if !doublestar.ValidatePattern(pattern) {
			return "", fmt.Errorf("invalid file_pattern %q", pattern)
		}

		s := &searcher{
			ws:           ws,
			query:        query,
			pattern:      pattern,
			maxResults:   maxResults,
			maxFileBytes: maxFileBytes,
			seen:         make(map[string]bool),
		}
		if err := s.walk(ctx); err != nil {
			return "", err
		}
		return s.result(), nil
	}
}

type searcher struct {
	ws           *workspace.Workspace
	query        string
	pattern      string
	maxResults   int
	maxFileBytes int64

	seen      map[string]bool
	matches   []string
	truncated bool
}

func (s *searcher) walk(ctx context.Context) error {
	root := s.ws.Root()
	matcher := s.ws.Ignore()

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if matcher.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if s.maxFileBytes > 0 {
			if info, err := d.Info(); err == nil && info.Size() > s.maxFileBytes {
				return nil
			}
		}
		s.searchFile(rel)
		if s.truncated {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Files that exist only in the ledger.
	for _, c := range s.ws.Ledger().List() {
		if s.truncated {
			break
		}
		if c.Kind == ledger.KindCreate && !s.seen[c.Path] && !matcher.Match(c.Path, false) {
			s.searchFile(c.Path)
		}
	}
	return nil
}

func (s *searcher) searchFile(rel string) {
	s.seen[rel] = true
	if !s.matchPattern(rel) {
		return
	}
	content, err := s.ws.Ledger().ReadFile(rel)
	if err != nil || isBinary(content) {
		return
	}

	for i, line := range strings.Split(content, "\n") {
		if !strings.Contains(line, s.query) {
			continue
		}
		if s.maxResults > 0 && len(s.matches) >= s.maxResults {
			s.truncated = true
			return
		}
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) > maxMatchLineLength {
			line = string([]rune(line)[:maxMatchLineLength]) + "..."
		}
		s.matches = append(s.matches, fmt.Sprintf("%s:%d: %s", rel, i+1, line))
	}
}

func (s *searcher) matchPattern(rel string) bool {
	target := path.Base(rel)
	if strings.Contains(s.pattern, "/") {
		target = rel
	}
	ok, _ := doublestar.Match(s.pattern, target)
	return ok
}

func (s *searcher) result() string {
	if len(s.matches) == 0 {
		return fmt.Sprintf("No matches found for '%s'", s.query)
	}
	out := strings.Join(s.matches, "\n")
	if s.truncated {
		out += fmt.Sprintf("\n\n... (results truncated at %d matches)", s.maxResults)
	}
	return out
}

func isBinary(content string) bool {
	probe := content
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	return strings.IndexByte(probe, 0) >= 0
}
