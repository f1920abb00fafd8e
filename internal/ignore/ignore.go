// Package ignore decides which repository paths the file tools and the
// symbol indexer skip.
package ignore

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultIgnoreFiles are read from the repository root, in order.
var DefaultIgnoreFiles = []string{".gitignore", ".kodaignore"}

// DefaultSkipDirs are never descended into, whatever the ignore files say.
var DefaultSkipDirs = []string{".git", ".koda", "venv", ".venv", "__pycache__", "node_modules", "dist", "build"}

// Parser reads gitignore-style files.
type Parser struct {
	// IgnoreFiles is the list of ignore file names to look for.
	IgnoreFiles []string

	// FallbackPatterns are returned when no ignore files are found.
	FallbackPatterns []string
}

// NewParser creates a parser for the given ignore files.
func NewParser(ignoreFiles, fallbackPatterns []string) *Parser {
	return &Parser{
		IgnoreFiles:      ignoreFiles,
		FallbackPatterns: fallbackPatterns,
	}
}

// ParseProject reads every ignore file under projectRoot and returns the
// combined glob patterns. Directory-only patterns keep a trailing slash.
func (p *Parser) ParseProject(projectRoot string) ([]string, error) {
	var patterns []string
	foundAny := false

	for _, name := range p.IgnoreFiles {
		filePatterns, err := parseFile(filepath.Join(projectRoot, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
		foundAny = true
	}

	if !foundAny {
		return p.FallbackPatterns, nil
	}
	return deduplicate(patterns), nil
}

func parseFile(name string) ([]string, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pattern := parseLine(scanner.Text()); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseLine converts one gitignore line into a doublestar glob.
// Comments, blank lines and negations yield "".
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ""
	}

	dirOnly := strings.HasSuffix(line, "/")
	line = strings.TrimSuffix(line, "/")

	anchored := strings.HasPrefix(line, "/") || strings.Contains(line, "/")
	line = strings.TrimPrefix(line, "/")
	if line == "" {
		return ""
	}
	if !anchored && !strings.HasPrefix(line, "**/") {
		line = "**/" + line
	}
	if dirOnly {
		line += "/"
	}
	return line
}

func deduplicate(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}

type rule struct {
	glob    string
	dirOnly bool
}

// Matcher tests slash-separated, root-relative paths against ignore rules.
type Matcher struct {
	rules    []rule
	skipDirs map[string]struct{}
}

// NewMatcher compiles patterns as returned by ParseProject. Invalid globs
// are dropped.
func NewMatcher(patterns, skipDirs []string) *Matcher {
	m := &Matcher{skipDirs: make(map[string]struct{}, len(skipDirs))}
	for _, d := range skipDirs {
		m.skipDirs[d] = struct{}{}
	}
	for _, p := range patterns {
		r := rule{glob: strings.TrimSuffix(p, "/"), dirOnly: strings.HasSuffix(p, "/")}
		if !doublestar.ValidatePattern(r.glob) {
			continue
		}
		m.rules = append(m.rules, r)
	}
	return m
}

// Load builds a Matcher from the ignore files found in root.
func Load(root string) (*Matcher, error) {
	patterns, err := NewParser(DefaultIgnoreFiles, nil).ParseProject(root)
	if err != nil {
		return nil, err
	}
	return NewMatcher(patterns, DefaultSkipDirs), nil
}

// SkipDir reports whether a directory name is always skipped.
func (m *Matcher) SkipDir(name string) bool {
	if m == nil {
		return false
	}
	_, ok := m.skipDirs[name]
	return ok
}

// Match reports whether rel, or any directory containing it, is ignored.
func (m *Matcher) Match(rel string, isDir bool) bool {
	if m == nil {
		return false
	}
	rel = path.Clean(filepath.ToSlash(rel))
	if rel == "." || rel == "" {
		return false
	}

	segments := strings.Split(rel, "/")
	for i := range segments {
		prefix := strings.Join(segments[:i+1], "/")
		last := i == len(segments)-1
		prefixIsDir := !last || isDir

		if prefixIsDir && m.SkipDir(segments[i]) {
			return true
		}
		if m.matchRules(prefix, prefixIsDir) {
			return true
		}
	}
	return false
}

func (m *Matcher) matchRules(rel string, isDir bool) bool {
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if ok, _ := doublestar.Match(r.glob, rel); ok {
			return true
		}
	}
	return false
}
