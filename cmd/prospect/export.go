package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ternarybob/prospect/internal/services/confirmation"
	"github.com/ternarybob/prospect/internal/storage/sqlite"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <job-id>",
	Short: "Export a review workbook for a finished job",
	Long: `Writes a workbook with every source row, the predicted category alongside,
and a dropdown-constrained confirmed_ethnicity column for human review.`,
	Args: cobra.ExactArgs(1),
	Run:  runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output workbook path (default <job-id>-review.xlsx)")
}

func runExport(cmd *cobra.Command, args []string) {
	jobID := args[0]
	out := exportOut
	if out == "" {
		out = strings.ReplaceAll(jobID, ":", "_") + "-review.xlsx"
	}

	store, err := sqlite.NewManager(logger, &config.Storage.SQLite)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open store")
		os.Exit(exitFailed)
	}
	defer store.Close()

	if err := confirmation.NewExporter(store, logger).Export(context.Background(), jobID, out); err != nil {
		logger.Error().Err(err).Str("job_id", jobID).Msg("Export failed")
		os.Exit(exitFailed)
	}
}
