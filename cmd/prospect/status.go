package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ternarybob/prospect/internal/models"
	"github.com/ternarybob/prospect/internal/storage/sqlite"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show recent jobs, or the details of one job",
	Args:  cobra.MaximumNArgs(1),
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "Number of recent jobs to list")
}

func runStatus(cmd *cobra.Command, args []string) {
	store, err := sqlite.NewManager(logger, &config.Storage.SQLite)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open store")
		os.Exit(exitFailed)
	}
	defer store.Close()

	ctx := context.Background()
	if len(args) == 1 {
		job, err := store.JobStorage().GetJob(ctx, args[0])
		if err != nil {
			logger.Error().Err(err).Str("job_id", args[0]).Msg("Job not found")
			os.Exit(exitFailed)
		}
		printJob(job)
		return
	}

	listed, err := store.JobStorage().ListJobs(ctx, statusLimit)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list jobs")
		os.Exit(exitFailed)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATUS\tROWS\tFAILED\tCOST\tSTARTED\tSOURCE")
	for _, job := range listed {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t$%.4f\t%s\t%s\n",
			job.ID, job.Status, job.ProcessedRows, job.TotalRows, job.FailedRows,
			job.LLMCost, job.StartedAt.Format("2006-01-02 15:04"), job.SourcePath)
	}
	w.Flush()
}

func printJob(job *models.Job) {
	fmt.Printf("Job:        %s\n", job.ID)
	fmt.Printf("Source:     %s\n", job.SourcePath)
	fmt.Printf("Status:     %s\n", job.Status)
	fmt.Printf("Rows:       %d/%d processed, %d failed\n", job.ProcessedRows, job.TotalRows, job.FailedRows)
	fmt.Printf("Watermark:  batch %d (resume row %d)\n", job.LastCommittedBatch, job.ResumeRow())
	fmt.Printf("LLM cost:   $%.4f\n", job.LLMCost)
	fmt.Printf("Started:    %s\n", job.StartedAt.Format("2006-01-02 15:04:05"))
	if job.IsTerminal() {
		fmt.Printf("Completed:  %s\n", job.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if job.Error != "" {
		fmt.Printf("Error:      %s\n", job.Error)
	}
}
