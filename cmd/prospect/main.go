package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/common"
)

// Exit codes for the classify command; scripts branch on these.
const (
	exitOK             = 0
	exitFailed         = 1
	exitLockContention = 2
	exitSourceChanged  = 3
)

var (
	configFiles []string

	// Global state, resolved by the root PersistentPreRunE
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "prospect",
	Short: "Lead classification pipeline",
	Long:  `Prospect classifies business-lead director names through a layered cascade (cache, rules, phonetics, learned patterns, LLM) with resumable, rate-limit-aware jobs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Provider credentials usually live in .env during development
		_ = godotenv.Load()

		// Auto-discover prospect.toml next to the working directory
		if len(configFiles) == 0 {
			if _, err := os.Stat("prospect.toml"); err == nil {
				configFiles = append(configFiles, "prospect.toml")
			}
		}

		var err error
		config, err = common.LoadFromFiles(configFiles...)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		logger = common.InitLogger(config)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&configFiles, "config", "c", nil,
		"Configuration file path (repeatable, later files override earlier ones)")

	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitFailed)
	}
}
