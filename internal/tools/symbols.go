package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/keyur7523/koda/internal/symbols"
	"github.com/keyur7523/koda/internal/workspace"
)

const (
	summaryFunctionLimit = 15
	kindListLimit        = 30
	findLimit            = 20
)

func indexSymbols(ctx context.Context, ws *workspace.Workspace, args Args) (string, error) {
	idx, err := ws.Symbols(ctx)
	if err != nil {
		return "", err
	}

	kindArg := args.OptionalString("kind", "")
	if kindArg == "" {
		return symbolSummary(idx), nil
	}

	kind, ok := symbols.ParseKind(kindArg)
	if !ok {
		return fmt.Sprintf("Unknown kind '%s'. Use: class, function, method, import", kindArg), nil
	}

	found := idx.FindByKind(kind)
	lines := []string{fmt.Sprintf("Found %d %s(s):", len(found), kindArg), ""}
	for i, s := range found {
		if i == kindListLimit {
			lines = append(lines, fmt.Sprintf("\n  ... and %d more", len(found)-kindListLimit))
			break
		}
		label := s.Signature
		if label == "" {
			label = s.Name
		}
		lines = append(lines, "  "+label, fmt.Sprintf("    → %s:%d", s.File, s.StartLine))
	}
	return strings.Join(lines, "\n"), nil
}

func symbolSummary(idx *symbols.Index) string {
	lines := []string{idx.Summary(), "", "Classes:"}
	for _, c := range idx.FindByKind(symbols.KindClass) {
		lines = append(lines, fmt.Sprintf("  %s (%s:%d)", c.Name, c.File, c.StartLine))
	}

	lines = append(lines, "\nFunctions:")
	funcs := idx.FindByKind(symbols.KindFunction)
	for i, f := range funcs {
		if i == summaryFunctionLimit {
			lines = append(lines, fmt.Sprintf("  ... and %d more", len(funcs)-summaryFunctionLimit))
			break
		}
		label := f.Signature
		if label == "" {
			label = f.Name
		}
		lines = append(lines, fmt.Sprintf("  %s (%s:%d)", label, f.File, f.StartLine))
	}
	return strings.Join(lines, "\n")
}

func findSymbol(ctx context.Context, ws *workspace.Workspace, args Args) (string, error) {
	name, err := args.String("name")
	if err != nil {
		return "", err
	}
	idx, err := ws.Symbols(ctx)
	if err != nil {
		return "", err
	}

	matches := idx.FindByName(name)
	if len(matches) == 0 {
		return fmt.Sprintf("No symbols found matching '%s'", name), nil
	}

	lines := []string{fmt.Sprintf("Found %d symbol(s) matching '%s':", len(matches), name), ""}
	for i, s := range matches {
		if i == findLimit {
			lines = append(lines, fmt.Sprintf("\n  ... and %d more", len(matches)-findLimit))
			break
		}
		qualified := s.Name
		if s.Parent != "" {
			qualified = s.Parent + "." + s.Name
		}
		lines = append(lines, fmt.Sprintf("  [%s] %s", s.Kind, qualified))
		if s.Signature != "" {
			lines = append(lines, "    "+s.Signature)
		}
		lines = append(lines, fmt.Sprintf("    → %s:%d-%d", s.File, s.StartLine, s.EndLine))
	}
	return strings.Join(lines, "\n"), nil
}
