package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/client-linker/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "client-linker",
	Short: "Links meeting transcripts to client records",
	Long:  "Receives transcript-completed webhooks, matches transcripts to clients by participant email, escalates uncertain cases through an AI classifier and a Telegram review channel.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
