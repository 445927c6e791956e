package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"musearchive/pkg/archive"
	"musearchive/pkg/config"
	"musearchive/pkg/logger"
	"musearchive/pkg/manifest"
)

var (
	// Run command flags
	outputDir       string
	ignoreRobots    bool
	maxScrollCycles int
	maxItems        int
	navTimeout      time.Duration
	headful         bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <profile-url>",
	Short: "Synchronize a profile into the local archive",
	Long: `Run one synchronization of the given profile URL.

The first run captures everything the profile publishes; later runs only
download content that is new, missing from disk, or damaged. The archive's
manifest records every run, so interrupted syncs pick up where they left
off.`,
	Example: `  # First sync into ./archive
  musearchive run https://example.com/u/janedoe

  # Sync into a specific directory with debug logging
  musearchive run https://example.com/u/janedoe --output ~/backups/janedoe -v

  # Cap discovery for a quick top-up sync
  musearchive run https://example.com/u/janedoe --max-items 50

  # Watch the browser do its work
  musearchive run https://example.com/u/janedoe --headful`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&outputDir, "output", "o", "", "archive root directory (default ./archive)")
	runCmd.Flags().BoolVar(&ignoreRobots, "ignore-robots", false, "proceed even when robots.txt disallows the profile")
	runCmd.Flags().IntVar(&maxScrollCycles, "max-scroll-cycles", 0, "hard cap on scroll discovery cycles")
	runCmd.Flags().IntVar(&maxItems, "max-items", 0, "stop discovery after this many items")
	runCmd.Flags().DurationVar(&navTimeout, "nav-timeout", 0, "navigation timeout, e.g. 45s")
	runCmd.Flags().BoolVar(&headful, "headful", false, "run the browser with a visible window")
}

func runSync(ctx context.Context, profileURL string) error {
	flags := map[string]interface{}{
		"output":            outputDir,
		"verbose":           verbose,
		"ignore-robots":     ignoreRobots,
		"max-scroll-cycles": maxScrollCycles,
		"max-items":         maxItems,
		"nav-timeout":       navTimeout,
		"headful":           headful,
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return err
	}

	runner := archive.New(cfg, log)
	summary, err := runner.Run(ctx, profileURL)
	if err != nil {
		return err
	}

	printSummary(summary)
	return nil
}

func printSummary(s *archive.Summary) {
	fmt.Printf("Run %s finished: %s\n", s.RunID, s.Status)
	fmt.Printf("  new: %d  missing: %d  invalid: %d\n", s.Counts.New, s.Counts.Missing, s.Counts.Invalid)
	if s.Stats != nil {
		fmt.Printf("  downloaded: %d  skipped: %d  failed: %d\n", s.Stats.Downloaded, s.Stats.Skipped, s.Stats.Failed)
	}
	if s.Status == manifest.StatusPartial {
		fmt.Println("  some items failed; see the failure report under the archive's logs directory")
	}
}
