package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyur7523/koda/internal/mcp"
	"github.com/keyur7523/koda/internal/workspace"
)

var (
	mcpRepo     string
	mcpReadOnly bool
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpRepo, "repo", ".", "repository the tools operate on")
	mcpCmd.Flags().BoolVar(&mcpReadOnly, "read-only", false, "expose only the read tools")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the tools and change ledger over MCP stdio",
	Long: `Run an MCP server on stdin/stdout bound to one repository. Edits made
through the tools are staged; ledger_apply writes them to disk.

Logs go to stderr so they never corrupt the protocol stream.

Examples:
  # Register with an MCP client
  koda mcp --repo /path/to/project

  # Inspection only
  koda mcp --read-only`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	root, err := absRepo(mcpRepo)
	if err != nil {
		return err
	}
	ws, err := workspace.New(root)
	if err != nil {
		return fmt.Errorf("opening workspace: %w", err)
	}
	scanner, err := a.scanner(root)
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(&mcp.Config{
		Name:     "koda",
		Version:  version,
		Logger:   a.logger.Named("mcp").Underlying(),
		ReadOnly: mcpReadOnly,
	}, a.dispatcher(), ws, scanner)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	defer server.Close()

	return server.Run(ctx)
}
