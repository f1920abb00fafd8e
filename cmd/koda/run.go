package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/console"
	"github.com/keyur7523/koda/internal/logging"
	"github.com/keyur7523/koda/internal/orchestrator"
)

var (
	runYes      bool
	runHeadless bool
	runRepo     string
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "apply staged changes without prompting")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "print the staged diff and exit without applying")
	runCmd.Flags().StringVar(&runRepo, "repo", ".", "repository to work in")
	runCmd.MarkFlagsMutuallyExclusive("yes", "headless")
}

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run a task against a repository",
	Long: `Understand the repository, plan the task, execute the plan and stage the
resulting edits. The staged diff is shown and applied only after approval.

Examples:
  # Interactive run in the current directory
  koda run "add input validation to the signup handler"

  # Apply without prompting
  koda run --yes "fix the typo in README.md"

  # Stage only; print the diff and leave the tree untouched
  koda run --headless --repo ../service "rename Foo to Bar"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func runTask(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	task := strings.TrimSpace(strings.Join(args, " "))
	if task == "" {
		return fmt.Errorf("task cannot be empty")
	}

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	root, err := absRepo(runRepo)
	if err != nil {
		return err
	}
	client, err := a.modelClient()
	if err != nil {
		return err
	}
	scanner, err := a.scanner(root)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	con := console.New(out, cmd.InOrStdin(),
		console.WithVerbose(verbose),
		console.WithAutoApprove(runYes),
	)
	con.Banner()

	opts := append(a.orchestratorOptions(root, scanner, a.summaryCache()), orchestrator.WithSink(con))
	if !runHeadless {
		opts = append(opts, orchestrator.WithApprover(con))
	}
	o := orchestrator.New(client, a.dispatcher(), opts...)

	ctx = logging.WithRunID(ctx, uuid.NewString())
	state, err := o.Run(ctx, task)
	a.logger.Info(ctx, "run finished",
		zap.String("phase", string(state.Phase)),
		zap.Int("tokens_used", o.TokensUsed()),
	)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if state.Phase == orchestrator.PhaseAwaitingApproval {
		fmt.Fprintf(out, "\n%s\nHeadless run: nothing applied.\n", o.Workspace().Ledger().Summary())
	}
	return nil
}
