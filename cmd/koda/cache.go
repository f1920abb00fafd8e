package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyur7523/koda/internal/cache"
	"github.com/keyur7523/koda/internal/config"
)

var cacheClearRepo string

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheClearCmd.Flags().StringVar(&cacheClearRepo, "repo", "", "clear only this repository's summaries")
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the codebase summary cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cached codebase summaries",
	Long: `Delete cached summaries, for every repository or only one.

Examples:
  # Clear everything
  koda cache clear

  # Clear one repository
  koda cache clear --repo .`,
	Args: cobra.NoArgs,
	RunE: runCacheClear,
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}
	c := cache.New(cfg.Cache.Dir)

	repo := cacheClearRepo
	if repo != "" {
		if repo, err = absRepo(repo); err != nil {
			return err
		}
	}
	n, err := c.Clear(repo)
	if err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cached summary(ies)\n", n)
	return nil
}
