package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/ternarybob/prospect/internal/services/confirmation"
	"github.com/ternarybob/prospect/internal/storage/sqlite"
)

var ingestReviewer string

var ingestCmd = &cobra.Command{
	Use:   "ingest <reviewed.xlsx>",
	Short: "Ingest a reviewed workbook and fold confirmations into learning",
	Long: `Reads the confirmed_ethnicity column of a reviewed workbook, stores each
verdict, and replays it through the learning state so patterns gain or lose
confidence. Blank rows are skipped; non-canonical values are reported and
never stored.`,
	Args: cobra.ExactArgs(1),
	Run:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestReviewer, "by", "", "Reviewer identity recorded on each confirmation")
}

func runIngest(cmd *cobra.Command, args []string) {
	store, err := sqlite.NewManager(logger, &config.Storage.SQLite)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open store")
		os.Exit(exitFailed)
	}
	defer store.Close()

	ctx := context.Background()
	confirmations, report, err := confirmation.NewIngestor(store, logger).Ingest(ctx, args[0], ingestReviewer)
	if err != nil {
		logger.Error().Err(err).Msg("Ingest failed")
		os.Exit(exitFailed)
	}

	for _, invalid := range report.Invalid {
		logger.Warn().
			Int("row", invalid.SheetRow).
			Str("reason", invalid.Reason).
			Msg("Row rejected")
	}

	if err := confirmation.NewFeedback(store, logger).Apply(ctx, confirmations); err != nil {
		logger.Error().Err(err).Msg("Failed to apply confirmations to learning state")
		os.Exit(exitFailed)
	}

	if len(report.Invalid) > 0 {
		os.Exit(exitFailed)
	}
}
