package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/medtext/medrag/pkg/config"
)

// Loaded once per invocation by rootCmd's pre-run hook.
var (
	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "medrag",
	Short: "Question answering over medical textbooks",
	Long: `medrag splits textbook PDFs into overlapping passages, embeds them into a
vector index and answers questions with cited references.

Configuration comes from the environment and an optional .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		logger = cfg.NewLogger()
		slog.SetDefault(logger)
		return nil
	},
}
