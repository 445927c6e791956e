package main

import (
	goerrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	errs "musearchive/pkg/errors"
)

var (
	// Global flags
	configFile string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "musearchive",
	Short: "Incrementally mirror a creative profile into a local archive",
	Long: `musearchive synchronizes a remote creative profile (photos, galleries,
journal posts) into a local append-only archive.

Each run discovers content through a scripted browser crawl, classifies it
against the archive's manifest, downloads only what is new or damaged, and
regenerates an offline browsable site. Runs are strictly sequential and
conservatively rate limited; nothing already captured is ever deleted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and maps typed errors onto stable exit codes.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)

		var e *errs.Error
		if goerrors.As(err, &e) {
			if e.Detail != "" && verbose {
				fmt.Fprintln(os.Stderr, "Detail:", e.Detail)
			}
			os.Exit(errs.ExitCode(e.Kind))
		}
		os.Exit(errs.ExitInvalidInput)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./musearchive.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
