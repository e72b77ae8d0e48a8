package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "gitwizard",
		Short: "🧙 Monitor GitHub repositories for leaked secrets 🧙",
		Long:  "GitWizard watches connected GitHub repositories via push webhooks and scans every commit on the default branch for leaked credentials. 🧙",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewRepoCmd())
	rootCmd.AddCommand(NewUserCmd())
	rootCmd.AddCommand(NewScanCmd())

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
