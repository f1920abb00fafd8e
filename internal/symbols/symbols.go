// Package symbols builds a lightweight index of classes, functions, methods
// and imports in a repository using tree-sitter.
package symbols

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// Kind classifies a symbol.
type Kind string

const (
	KindClass    Kind = "class"
	KindFunction Kind = "function"
	KindMethod   Kind = "method"
	KindImport   Kind = "import"
)

// ParseKind maps a user supplied kind name to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindClass:
		return KindClass, true
	case KindFunction:
		return KindFunction, true
	case KindMethod:
		return KindMethod, true
	case KindImport:
		return KindImport, true
	}
	return "", false
}

// Symbol is one indexed definition.
type Symbol struct {
	Name      string `json:"name"`
	Kind      Kind   `json:"kind"`
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Signature string `json:"signature,omitempty"`

	// Parent is the enclosing class, or the receiver type for Go methods.
	Parent string `json:"parent,omitempty"`
}

// SkipFunc reports whether a root-relative path should not be indexed.
type SkipFunc func(rel string, isDir bool) bool

// ReadFunc returns the content of a root-relative path.
type ReadFunc func(rel string) ([]byte, error)

// Index holds the symbols of every parsed file.
type Index struct {
	Symbols []Symbol
	Files   []string
}

// Build walks root and indexes every supported source file. Files that fail
// to parse are skipped.
func Build(ctx context.Context, root string, skip SkipFunc, read ReadFunc) (*Index, error) {
	idx := &Index{}
	parsers := newParserSet()
	defer parsers.close()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if skip != nil && skip(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !Supported(rel) {
			return nil
		}

		content, readErr := read(rel)
		if readErr != nil {
			return nil
		}
		syms, parseErr := parsers.parse(ctx, rel, content)
		if parseErr != nil {
			return nil
		}
		idx.Symbols = append(idx.Symbols, syms...)
		idx.Files = append(idx.Files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return idx, nil
}

// FindByName returns symbols whose name contains name, case-insensitively.
func (idx *Index) FindByName(name string) []Symbol {
	needle := strings.ToLower(name)
	var out []Symbol
	for _, s := range idx.Symbols {
		if strings.Contains(strings.ToLower(s.Name), needle) {
			out = append(out, s)
		}
	}
	return out
}

// FindByKind returns all symbols of kind.
func (idx *Index) FindByKind(kind Kind) []Symbol {
	var out []Symbol
	for _, s := range idx.Symbols {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Summary returns a one-line description of the index.
func (idx *Index) Summary() string {
	return fmt.Sprintf("Indexed %d files: %d classes, %d functions, %d methods, %d imports",
		len(idx.Files),
		len(idx.FindByKind(KindClass)),
		len(idx.FindByKind(KindFunction)),
		len(idx.FindByKind(KindMethod)),
		len(idx.FindByKind(KindImport)),
	)
}
