// Package console renders a run in the terminal and prompts for approval.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"github.com/keyur7523/koda/internal/ledger"
	"github.com/keyur7523/koda/internal/orchestrator"
)

const resultPreviewLen = 200

var phaseLabels = map[orchestrator.Phase]string{
	orchestrator.PhaseUnderstanding:    "Understanding codebase...",
	orchestrator.PhasePlanning:         "Generating plan...",
	orchestrator.PhaseExecuting:        "Executing plan...",
	orchestrator.PhaseAwaitingApproval: "Waiting for approval",
}

// Console is an orchestrator.Sink and orchestrator.Approver that writes
// to a terminal and reads the approval answer from in.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	in    *bufio.Reader
	theme theme

	verbose     bool
	autoApprove bool
}

var (
	_ orchestrator.Sink     = (*Console)(nil)
	_ orchestrator.Approver = (*Console)(nil)
)

// Option configures a Console.
type Option func(*Console)

// WithVerbose prints tool result previews.
func WithVerbose(v bool) Option {
	return func(c *Console) { c.verbose = v }
}

// WithAutoApprove approves every change set without prompting.
func WithAutoApprove(v bool) Option {
	return func(c *Console) { c.autoApprove = v }
}

// New creates a console writing to out and reading answers from in.
func New(out io.Writer, in io.Reader, opts ...Option) *Console {
	c := &Console{
		out:   out,
		in:    bufio.NewReader(in),
		theme: newTheme(out),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

// Banner prints the startup banner.
func (c *Console) Banner() {
	title := c.theme.accent.Render("◆ ") + c.theme.heading.Render("KODA")
	c.println(title + "\n" + c.theme.panel(colorAccent).Width(40).Render(c.theme.muted.Render("AI Coding Agent")))
}

func (c *Console) OnPhaseChange(_ context.Context, phase orchestrator.Phase) {
	label, ok := phaseLabels[phase]
	if !ok {
		return
	}
	c.println(c.theme.accent.Render("◆ ") + label)
}

func (c *Console) OnToolCall(_ context.Context, name string, args map[string]any) {
	c.println("  " + c.theme.tool.Render(name) + c.theme.muted.Render(formatArgs(args)))
}

func (c *Console) OnToolResult(_ context.Context, _ string, result string) {
	if !c.verbose {
		return
	}
	c.println("    " + c.theme.muted.Render(preview(result)))
}

func (c *Console) OnSummary(_ context.Context, summary string) {
	c.println(c.theme.success("Understanding complete"))
	if c.verbose {
		c.println(c.theme.panel(colorSecondary).Render(summary))
	}
}

func (c *Console) OnPlan(_ context.Context, plan []orchestrator.PlanStep) {
	var b strings.Builder
	b.WriteString(c.theme.success("Plan generated"))
	for i, step := range plan {
		fmt.Fprintf(&b, "\n  %s %s", c.theme.accent.Render(fmt.Sprintf("%d.", i+1)), step.Description)
		if step.Tool != nil {
			b.WriteString(" " + c.theme.muted.Render("("+*step.Tool+")"))
		}
	}
	c.println(b.String())
}

// OnApprovalRequired renders the staged change list and a colored diff.
func (c *Console) OnApprovalRequired(_ context.Context, req orchestrator.ApprovalRequest) {
	var b strings.Builder
	header := fmt.Sprintf("%s file(s) staged for changes", c.theme.accent.Render(fmt.Sprint(len(req.Changes))))
	b.WriteString(c.theme.heading.Render("Staged Changes") + "\n")
	b.WriteString(c.theme.panel(colorAccent).Render(header) + "\n")

	for _, ch := range req.Changes {
		fmt.Fprintf(&b, "  %s %s\n", c.kindStyle(ch.Kind).Render(strings.ToUpper(string(ch.Kind))), c.theme.path.Render(ch.Path))
	}
	if strings.TrimSpace(req.Diff) != "" {
		b.WriteString("\n" + c.RenderDiff(req.Diff) + "\n")
	}

	warnings := append([]orchestrator.Violation(nil), req.Warnings...)
	sort.SliceStable(warnings, func(i, j int) bool { return warnings[i].Path < warnings[j].Path })
	for _, w := range warnings {
		fmt.Fprintf(&b, "%s %s\n", c.theme.warning.Render("⚠"), w.Description)
	}
	c.println(strings.TrimRight(b.String(), "\n"))
}

func (c *Console) kindStyle(k ledger.Kind) lipgloss.Style {
	switch k {
	case ledger.KindCreate:
		return c.theme.accent
	case ledger.KindDelete:
		return c.theme.errorS
	default:
		return c.theme.info
	}
}

// RenderDiff colors a unified diff line by line.
func (c *Console) RenderDiff(diff string) string {
	lines := strings.Split(strings.TrimRight(diff, "\n"), "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			lines[i] = c.theme.heading.Render(line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = c.theme.info.Render(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = c.theme.accent.Render(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = c.theme.errorS.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

func (c *Console) OnComplete(_ context.Context, out orchestrator.Outcome) {
	var body string
	border := colorSecondary
	switch {
	case out.Applied > 0:
		body = fmt.Sprintf("%s Applied %s change(s)", c.theme.accent.Render("✓"), c.theme.accent.Render(fmt.Sprint(out.Applied)))
		border = colorAccent
	case out.Rejected > 0:
		body = fmt.Sprintf("%s Discarded %s change(s)", c.theme.warning.Render("⊘"), c.theme.warning.Render(fmt.Sprint(out.Rejected)))
		border = colorWarning
	default:
		body = c.theme.muted.Render("No changes needed")
	}
	c.println(c.theme.panel(border).Width(40).Render(c.theme.heading.Render("Complete") + "\n" + body))
}

func (c *Console) OnError(_ context.Context, message string) {
	c.println(c.theme.errorS.Render("✗ Error: ") + message)
}

// Approve asks the user whether to apply the staged changes. Anything but
// "y" or "yes" rejects. A cancelled ctx aborts the prompt.
func (c *Console) Approve(ctx context.Context, req orchestrator.ApprovalRequest) (orchestrator.Decision, error) {
	if c.autoApprove {
		c.println(c.theme.muted.Render("Auto-approving " + req.Summary))
		return orchestrator.Decision{Approved: true}, nil
	}

	c.mu.Lock()
	fmt.Fprint(c.out, c.theme.heading.Render("Apply these changes?")+" [y/N] ")
	c.mu.Unlock()

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return orchestrator.Decision{}, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return orchestrator.Decision{}, fmt.Errorf("read approval: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return orchestrator.Decision{Approved: true}, nil
		default:
			return orchestrator.Decision{Approved: false}, nil
		}
	}
}

func (t theme) success(msg string) string {
	return t.accent.Render("✓") + " " + msg
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "()"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprint(args[k])
		if k == "content" {
			v = fmt.Sprintf("<%d bytes>", len(v))
		}
		parts = append(parts, k+"="+preview(v))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// preview returns the first line of s, cut to resultPreviewLen runes.
func preview(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	if utf8.RuneCountInString(s) > resultPreviewLen {
		s = string([]rune(s)[:resultPreviewLen]) + "..."
	}
	return s
}
