package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gitwizard/gitwizard/pkg/config"
	"github.com/gitwizard/gitwizard/pkg/logging"
	"github.com/gitwizard/gitwizard/pkg/mailer"
	"github.com/gitwizard/gitwizard/pkg/plan"
	"github.com/gitwizard/gitwizard/pkg/store"
)

var (
	userEmail    string
	userName     string
	userGitHubID string
	userPlanName string
)

func NewUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a user and send the welcome mail",
		Run:   AddUser,
	}
	addCmd.Flags().StringVarP(&configPath, "config", "c", "gitwizard.yml", "Path to the configuration file")
	addCmd.Flags().StringVarP(&userEmail, "email", "e", "", "User email address")
	err := addCmd.MarkFlagRequired("email")
	if err != nil {
		log.Error().Msg("Unable to require email flag: " + err.Error())
	}
	addCmd.Flags().StringVarP(&userName, "name", "n", "", "Display name")
	addCmd.Flags().StringVarP(&userGitHubID, "github-id", "g", "", "GitHub account id")
	addCmd.Flags().StringVarP(&userPlanName, "plan", "p", string(plan.Free), "Subscription plan (free, pro, business)")
	addCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose Logging")

	userCmd.AddCommand(addCmd)

	return userCmd
}

func AddUser(cmd *cobra.Command, args []string) {
	logging.SetLogLevel(verbose)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed loading configuration")
	}

	userPlan, err := plan.Parse(userPlanName)
	if err != nil {
		log.Fatal().Err(err).Str("plan", userPlanName).Msg("Unknown plan")
	}

	db, err := store.New(cfg.Store.Path, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("Failed opening store")
	}
	defer db.Close()

	user, err := db.AddUser(userEmail, userName, userGitHubID, string(userPlan))
	if err != nil {
		log.Fatal().Err(err).Str("email", userEmail).Msg("Failed adding user")
	}

	mail := mailer.New(cfg.Mail.ResendAPIKey, cfg.Mail.From, cfg.Server.PublicURL, cfg.Mail.APIBaseURL)
	if err := mail.SendWelcome(context.Background(), user); err != nil {
		log.Warn().Err(err).Str("email", user.Email).Msg("Failed sending welcome mail")
	}

	log.Info().Str("id", user.ID).Str("email", user.Email).Str("plan", user.Plan).Msg("User added")
}
