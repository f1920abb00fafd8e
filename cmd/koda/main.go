// Command koda plans and stages code changes with a language model and
// applies them only after approval.
//
// Usage:
//
//	# Run a task against the current directory
//	koda run "add a README"
//
//	# Serve the HTTP and WebSocket API
//	koda serve
//
//	# Serve the tools over MCP stdio
//	koda mcp --repo .
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides ~/.koda/config.yaml
	configPath string
	verbose    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "koda",
	Short: "Coding agent with a staged change ledger",
	Long: `koda understands a repository, plans a change, executes the plan with
file and search tools, and stages every edit in a ledger. Nothing touches
disk until the staged diff is approved.

Configuration is read from ~/.koda/config.yaml and KODA_* environment
variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.koda/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging and tool result previews")
	rootCmd.SetVersionTemplate(versionString() + "\n")
}
