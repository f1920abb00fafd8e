package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const projectDir = ".koda"

var initDir string

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initDir, "repo", ".", "repository to initialize")
}

// initCmd marks a repository as a koda project
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize koda in a repository",
	Long: `Create .koda/config.json in the repository. Running it again reports the
existing project and leaves it untouched.

Examples:
  # Initialize the current directory
  koda init

  # Initialize another checkout
  koda init --repo ~/src/service`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, _ []string) error {
	root, err := absRepo(initDir)
	if err != nil {
		return err
	}
	dir := filepath.Join(root, projectDir)
	path := filepath.Join(dir, "config.json")

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Koda already initialized in %s\n", dir)
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", path, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized koda in %s\n", dir)
	return nil
}
