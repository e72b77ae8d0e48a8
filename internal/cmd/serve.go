package cmd

import (
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gitwizard/gitwizard/pkg/config"
	"github.com/gitwizard/gitwizard/pkg/github"
	"github.com/gitwizard/gitwizard/pkg/logging"
	"github.com/gitwizard/gitwizard/pkg/mailer"
	"github.com/gitwizard/gitwizard/pkg/notify"
	"github.com/gitwizard/gitwizard/pkg/scanner"
	"github.com/gitwizard/gitwizard/pkg/store"
	"github.com/gitwizard/gitwizard/pkg/webhook"
)

var (
	configPath string
	verbose    bool
)

func NewServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Run:   Serve,
	}

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "gitwizard.yml", "Path to the configuration file")
	serveCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose Logging")

	return serveCmd
}

func Serve(cmd *cobra.Command, args []string) {
	logging.SetLogLevel(verbose)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed loading configuration")
	}

	maxFileSize, err := cfg.MaxFileSizeBytes()
	if err != nil {
		log.Fatal().Err(err).Str("maxFileSize", cfg.Scan.MaxFileSize).Msg("Failed parsing max file size")
	}

	db, err := store.New(cfg.Store.Path, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("Failed opening store")
	}
	defer db.Close()

	client := github.NewClient(cfg.GitHub.Token, cfg.GitHub.APIBaseURL)
	fetcher := github.NewFetcher(client, maxFileSize, cfg.Scan.Workers)
	mail := mailer.New(cfg.Mail.ResendAPIKey, cfg.Mail.From, cfg.Server.PublicURL, cfg.Mail.APIBaseURL)
	dispatcher := notify.NewDispatcher(db, mail)
	ingestor := webhook.NewIngestor([]byte(cfg.GitHub.WebhookSecret), db, fetcher, scanner.NewScanner(nil), dispatcher)

	logging.RegisterStatusHook(ingestor.Status)
	go logging.ShortcutListeners()

	log.Info().Str("addr", cfg.Server.Addr).Str("webhookUrl", cfg.WebhookURL()).Msg("Starting webhook server")
	if err := http.ListenAndServe(cfg.Server.Addr, ingestor.Handler()); err != nil {
		log.Fatal().Err(err).Msg("Webhook server failed")
	}
}
