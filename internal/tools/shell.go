package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"slices"
	"strings"
	"time"

	"mvdan.cc/sh/v3/syntax"

	"github.com/keyur7523/koda/internal/workspace"
)

// ErrCommandRejected is returned when a command violates the shell policy.
var ErrCommandRejected = errors.New("command rejected")

// DefaultDeniedCommands are programs run_command refuses to start. File
// mutations must go through the ledger.
//
// The policy is a best-effort guard against obvious mutations, not a
// sandbox: any program allowed to run can still write to disk by itself.
var DefaultDeniedCommands = []string{
	"rm", "rmdir", "mv", "cp", "dd", "ln", "tee", "truncate", "shred",
	"chmod", "chown", "mkfs", "sudo", "su", "shutdown", "reboot",
	"install", "patch", "unlink", "touch", "mkdir",
}

// Programs that run their arguments as another command.
var wrapperCommands = map[string]bool{
	"command": true, "builtin": true, "exec": true, "env": true, "nice": true,
	"nohup": true, "timeout": true, "time": true, "xargs": true, "stdbuf": true,
}

// Interpreters refused when handed inline code.
var inlineInterpreters = map[string]string{
	"sh": "-c", "bash": "-c", "zsh": "-c", "dash": "-c",
	"python": "-c", "python3": "-c", "perl": "-e", "ruby": "-e", "node": "-e",
}

// Subcommands that rewrite the working tree.
var mutatingGit = map[string]bool{
	"checkout": true, "reset": true, "clean": true, "restore": true, "stash": true,
	"apply": true, "am": true, "rm": true, "mv": true, "merge": true, "rebase": true,
	"pull": true, "switch": true, "cherry-pick": true, "revert": true,
}

// Environment variables never passed to commands.
var scrubbedEnvPrefixes = []string{"ANTHROPIC_", "KODA_", "GITHUB_TOKEN", "NATS_"}

// ShellPolicy decides whether a command line may run.
type ShellPolicy struct {
	Denied map[string]struct{}
}

// NewShellPolicy builds a policy denying the given program names.
func NewShellPolicy(denied []string) *ShellPolicy {
	p := &ShellPolicy{Denied: make(map[string]struct{}, len(denied))}
	for _, name := range denied {
		p.Denied[name] = struct{}{}
	}
	return p
}

// Check parses command and rejects denied programs and redirections that
// write to files other than /dev/null.
func (p *ShellPolicy) Check(command string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("%w: empty command", ErrCommandRejected)
	}
	file, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(command), "")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCommandRejected, err)
	}

	var violation error
	syntax.Walk(file, func(node syntax.Node) bool {
		if violation != nil {
			return false
		}
		switch n := node.(type) {
		case *syntax.CallExpr:
			if len(n.Args) == 0 {
				return true
			}
			words := make([]string, len(n.Args))
			for i, w := range n.Args {
				words[i] = staticWord(w)
			}
			violation = p.checkCall(words)
		case *syntax.Redirect:
			if writesFile(n) {
				violation = fmt.Errorf("%w: output redirection to files is not allowed, stage changes with write_file", ErrCommandRejected)
			}
		}
		return true
	})
	return violation
}

// checkCall vets one simple command. An empty word is one whose value is
// only known at run time.
func (p *ShellPolicy) checkCall(words []string) error {
	for len(words) > 0 {
		if words[0] == "" {
			return fmt.Errorf("%w: command name must be a literal", ErrCommandRejected)
		}
		prog := path.Base(words[0])
		args := words[1:]
		if _, denied := p.Denied[prog]; denied {
			return fmt.Errorf("%w: %s is not allowed", ErrCommandRejected, prog)
		}
		if flag, ok := inlineInterpreters[prog]; ok && slices.Contains(args, flag) {
			return fmt.Errorf("%w: inline %s code is not allowed", ErrCommandRejected, prog)
		}
		switch prog {
		case "find":
			if slices.Contains(args, "-delete") || slices.Contains(args, "-exec") || slices.Contains(args, "-execdir") {
				return fmt.Errorf("%w: find actions that modify files are not allowed", ErrCommandRejected)
			}
		case "sed":
			for _, a := range args {
				if strings.HasPrefix(a, "-i") || strings.HasPrefix(a, "--in-place") {
					return fmt.Errorf("%w: sed in-place editing is not allowed, stage changes with write_file", ErrCommandRejected)
				}
			}
		case "git":
			if sub := firstOperand(args); mutatingGit[sub] {
				return fmt.Errorf("%w: git %s modifies the working tree", ErrCommandRejected, sub)
			}
		}
		if !wrapperCommands[prog] {
			return nil
		}
		words = wrappedCommand(prog, args)
	}
	return nil
}

// wrappedCommand skips a wrapper's own options and arguments.
func wrappedCommand(prog string, args []string) []string {
	i := 0
	for i < len(args) {
		a := args[i]
		switch {
		case a == "--":
			return args[i+1:]
		case strings.HasPrefix(a, "-"):
			i++
		case prog == "env" && strings.Contains(a, "="):
			i++
		case prog == "timeout" && i == 0:
			i++ // the duration
		default:
			return args[i:]
		}
	}
	return nil
}

func firstOperand(args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	return ""
}

// staticWord returns the value of w when it has no expansions, else "".
func staticWord(w *syntax.Word) string {
	var b strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			b.WriteString(p.Value)
		case *syntax.SglQuoted:
			b.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				lit, ok := inner.(*syntax.Lit)
				if !ok {
					return ""
				}
				b.WriteString(lit.Value)
			}
		default:
			return ""
		}
	}
	return b.String()
}

func writesFile(r *syntax.Redirect) bool {
	switch r.Op {
	case syntax.RdrOut, syntax.AppOut, syntax.RdrAll, syntax.AppAll, syntax.ClbOut, syntax.RdrInOut:
		return r.Word == nil || r.Word.Lit() != "/dev/null"
	}
	return false
}

func runCommand(policy *ShellPolicy, timeout time.Duration, maxOutput int) Handler {
	return func(ctx context.Context, ws *workspace.Workspace, args Args) (string, error) {
		command, err := args.String("command")
		if err != nil {
			return "", err
		}
		if err := policy.Check(command); err != nil {
			return "", err
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(runCtx, "sh", "-c", command)
		cmd.Dir = ws.Root()
		cmd.Env = scrubEnv(os.Environ())
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		cmd.WaitDelay = time.Second

		runErr := cmd.Run()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Sprintf("Error: Command timed out after %d seconds", int(timeout.Seconds())), nil
		}

		output := stdout.String() + stderr.String()
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			output = fmt.Sprintf("[Exit code: %d]\n%s", exitErr.ExitCode(), output)
		case runErr != nil:
			return "", runErr
		}

		return formatOutput(output, maxOutput), nil
	}
}

// formatOutput caps output at maxOutput characters.
func formatOutput(output string, maxOutput int) string {
	if runes := []rune(output); maxOutput > 0 && len(runes) > maxOutput {
		output = string(runes[:maxOutput]) + fmt.Sprintf("\n\n... (truncated, %d total characters)", len(runes))
	}
	output = strings.TrimSpace(output)
	if output == "" {
		return "(no output)"
	}
	return output
}

func scrubEnv(env []string) []string {
	out := make([]string, 0, len(env))
next:
	for _, kv := range env {
		for _, prefix := range scrubbedEnvPrefixes {
			if strings.HasPrefix(kv, prefix) {
				continue next
			}
		}
		out = append(out, kv)
	}
	return out
}
