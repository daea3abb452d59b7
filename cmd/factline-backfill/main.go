// Command factline-backfill replays NDJSON export files from a local
// directory into a factline server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/factline/factline/internal/backfill"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg backfill.Config

	cmd := &cobra.Command{
		Use:   "factline-backfill",
		Short: "Upload historical export files to a factline server",
		Long: `Discovers export files in a directory, validates that every file
name is mapped to a data source on the server, then uploads them one
by one. A missing mapping aborts the run before anything is written.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer log.Sync()

			runner, err := backfill.NewRunner(cfg, log)
			if err != nil {
				return err
			}

			report, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}

			printReport(cmd, cfg, report)
			if report.Failed() {
				return fmt.Errorf("backfill finished with failures")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "factline server base URL")
	cmd.Flags().StringVar(&cfg.Token, "token", "", "bearer token for authenticated servers")
	cmd.Flags().StringVar(&cfg.SourceID, "source-id", "", "data source id to upload into")
	cmd.Flags().StringVar(&cfg.Dir, "dir", ".", "directory holding export files")
	cmd.Flags().StringVar(&cfg.Pattern, "pattern", "*.ndjson", "glob pattern for export files")
	cmd.Flags().BoolVar(&cfg.Overwrite, "overwrite", false, "replace existing batches even when the new file is smaller")
	cmd.Flags().BoolVar(&cfg.DryRun, "dry-run", false, "validate and list the plan without uploading")
	cmd.Flags().BoolVar(&cfg.ValidateOnly, "validate-only", false, "stop after the mapping check")
	cmd.Flags().IntVar(&cfg.Retries, "retries", 3, "retry count for transient upstream failures")

	return cmd
}

func printReport(cmd *cobra.Command, cfg backfill.Config, report *backfill.Report) {
	if cfg.ValidateOnly {
		cmd.Printf("%d files validated, all mapped\n", report.Checked)
		return
	}

	for _, outcome := range report.Outcomes {
		switch outcome.Status {
		case backfill.OutcomeUploaded:
			cmd.Printf("%-40s %s (%d points)\n", outcome.File, outcome.Status, outcome.Points)
		case backfill.OutcomeFailed, backfill.OutcomeSkipped:
			cmd.Printf("%-40s %s %s\n", outcome.File, outcome.Status, outcome.Detail)
		default:
			cmd.Printf("%-40s %s\n", outcome.File, outcome.Status)
		}
	}
}
