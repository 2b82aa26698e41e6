package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ternarybob/prospect/internal/common"
	"github.com/ternarybob/prospect/internal/interfaces"
	"github.com/ternarybob/prospect/internal/jobs"
	"github.com/ternarybob/prospect/internal/models"
	"github.com/ternarybob/prospect/internal/services/cascade"
	"github.com/ternarybob/prospect/internal/services/governor"
	"github.com/ternarybob/prospect/internal/services/llm"
	"github.com/ternarybob/prospect/internal/storage/sqlite"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <source.xlsx>",
	Short: "Classify the director names of a lead spreadsheet",
	Long: `Runs the classification cascade over every row of the source spreadsheet.
An interrupted run (Ctrl+C, crash, power loss) resumes from the last committed
batch when re-invoked with the same file.`,
	Args: cobra.ExactArgs(1),
	Run:  runClassify,
}

func runClassify(cmd *cobra.Command, args []string) {
	common.PrintBanner(common.GetVersion())

	source, err := filepath.Abs(args[0])
	if err != nil {
		logger.Error().Err(err).Msg("Invalid source path")
		os.Exit(exitFailed)
	}

	store, err := sqlite.NewManager(logger, &config.Storage.SQLite)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open store")
		os.Exit(exitFailed)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := llm.NewProviders(ctx, config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize LLM providers")
		os.Exit(exitFailed)
	}
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}

	sessionID := "ses_" + uuid.New().String()
	classifier, err := cascade.New(config, store, providers, governor.New(config, names, logger), sessionID, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build classification cascade")
		os.Exit(exitFailed)
	}

	engine := jobs.NewEngine(config, store, classifier, logger)
	job, err := engine.Run(ctx, source)

	switch {
	case err == nil:
		logger.Info().
			Str("job_id", job.ID).
			Int("rows", job.ProcessedRows).
			Int("failed", job.FailedRows).
			Float64("llm_cost", job.LLMCost).
			Msg("Classification completed")
		os.Exit(exitOK)
	case errors.Is(err, context.Canceled):
		resumeRow := 0
		if job != nil {
			resumeRow = job.ResumeRow()
		}
		logger.Info().
			Int("resume_row", resumeRow).
			Msg("Interrupted; re-run the same command to resume")
		os.Exit(exitOK)
	case errors.Is(err, interfaces.ErrLockContention):
		logger.Error().Str("source", source).Msg("Another process is already classifying this file")
		os.Exit(exitLockContention)
	case errors.Is(err, interfaces.ErrSourceChanged):
		logger.Error().Str("source", source).Msg("Source file changed since the interrupted job started; start a fresh job")
		os.Exit(exitSourceChanged)
	default:
		logger.Error().Err(err).Msg("Classification failed")
		if job != nil && job.Status == models.JobStatusFailed {
			logger.Error().Str("job_id", job.ID).Str("reason", job.Error).Msg("Job marked failed")
		}
		os.Exit(exitFailed)
	}
}
