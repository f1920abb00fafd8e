package ledger

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const devNull = "/dev/null"

// Diff renders every staged change as a unified diff, in insertion order,
// separated by blank lines.
func (l *Ledger) Diff() string {
	changes := l.List()
	if len(changes) == 0 {
		return "No staged changes."
	}

	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		parts = append(parts, FileDiff(c))
	}
	return strings.Join(parts, "\n")
}

// FileDiff renders a single change as a unified diff.
func FileDiff(c Change) string {
	var (
		from, to string
		a, b     []string
	)
	switch c.Kind {
	case KindCreate:
		from, to = devNull, c.Path
		b = splitLines(c.NewContent)
	case KindDelete:
		from, to = c.Path, devNull
		if c.OriginalContent != nil {
			a = splitLines(*c.OriginalContent)
		}
	default:
		from, to = "a/"+c.Path, "b/"+c.Path
		if c.OriginalContent != nil {
			a = splitLines(*c.OriginalContent)
		}
		b = splitLines(c.NewContent)
	}

	header := fmt.Sprintf("--- %s\n+++ %s\n", from, to)
	if len(a) == 0 && len(b) == 0 {
		return header
	}

	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: from,
		ToFile:   to,
		Context:  3,
	})
	if err != nil || out == "" {
		// Identical content produces no hunks; keep the file visible.
		return header
	}
	return out
}

// splitLines splits s into newline-terminated lines. A missing final
// newline is supplied so hunks stay line-aligned.
func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n"
	}
	return lines
}
