package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v69/github"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gitwizard/gitwizard/pkg/config"
	"github.com/gitwizard/gitwizard/pkg/github"
	"github.com/gitwizard/gitwizard/pkg/logging"
	"github.com/gitwizard/gitwizard/pkg/plan"
	"github.com/gitwizard/gitwizard/pkg/store"
)

var (
	repoUserID    string
	repoFullName  string
	scanLimit     int
	resolveScanID string
)

func NewRepoCmd() *cobra.Command {
	repoCmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage connected repositories",
	}

	repoCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "gitwizard.yml", "Path to the configuration file")
	repoCmd.PersistentFlags().StringVarP(&repoUserID, "user", "u", "", "Owning user id")
	repoCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose Logging")

	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect a repository and register its push webhook",
		Run:   ConnectRepo,
	}
	connectCmd.Flags().StringVarP(&repoFullName, "repo", "r", "", "Repository in owner/name form")
	err := connectCmd.MarkFlagRequired("repo")
	if err != nil {
		log.Error().Msg("Unable to require repo flag: " + err.Error())
	}

	disconnectCmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Remove the push webhook and deactivate the repository",
		Run:   DisconnectRepo,
	}
	disconnectCmd.Flags().StringVarP(&repoFullName, "repo", "r", "", "Repository in owner/name form")
	err = disconnectCmd.MarkFlagRequired("repo")
	if err != nil {
		log.Error().Msg("Unable to require repo flag: " + err.Error())
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's connected repositories",
		Run:   ListRepos,
	}

	scansCmd := &cobra.Command{
		Use:   "scans",
		Short: "Show the most recent findings of a repository",
		Run:   ListScans,
	}
	scansCmd.Flags().StringVarP(&repoFullName, "repo", "r", "", "Repository in owner/name form")
	err = scansCmd.MarkFlagRequired("repo")
	if err != nil {
		log.Error().Msg("Unable to require repo flag: " + err.Error())
	}
	scansCmd.Flags().IntVarP(&scanLimit, "limit", "l", 20, "Maximum number of findings to show")
	scansCmd.Flags().StringVar(&resolveScanID, "resolve", "", "Mark the given scan record as resolved instead of listing")

	repoCmd.AddCommand(connectCmd)
	repoCmd.AddCommand(disconnectCmd)
	repoCmd.AddCommand(listCmd)
	repoCmd.AddCommand(scansCmd)

	return repoCmd
}

// ConnectRepo enforces the plan limit, records the repository and registers
// the push webhook. Reconnecting a previously disconnected repository reuses
// its retained row. A row created by this attempt is removed again when
// registration fails so a retry starts clean.
func ConnectRepo(cmd *cobra.Command, args []string) {
	logging.SetLogLevel(verbose)
	ctx := context.Background()

	cfg, db, client := setupRepoEnv()
	defer db.Close()

	owner, name, ok := strings.Cut(repoFullName, "/")
	if !ok {
		log.Fatal().Str("repo", repoFullName).Msg("Repository must be given as owner/name")
	}

	user, err := db.GetUserByID(repoUserID)
	if err != nil {
		log.Fatal().Err(err).Str("user", repoUserID).Msg("Failed resolving user")
	}

	userPlan, err := plan.Parse(user.Plan)
	if err != nil {
		log.Fatal().Err(err).Str("plan", user.Plan).Msg("User has an unknown plan")
	}
	current, err := db.CountUserRepositories(user.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed counting connected repositories")
	}
	if !userPlan.CanConnect(current) {
		log.Fatal().Str("plan", string(userPlan)).Int("connected", current).Msg("Plan repository limit reached, upgrade to connect more repositories")
	}

	ghRepo, _, err := client.Repositories.Get(ctx, owner, name)
	if err != nil {
		log.Fatal().Err(err).Str("repo", repoFullName).Msg("Failed fetching repository from GitHub")
	}

	repo, created, err := ensureRepositoryRecord(db, user.ID, ghRepo.GetID(), name, repoFullName, ghRepo.GetPrivate())
	if err != nil {
		log.Fatal().Err(err).Str("repo", repoFullName).Msg("Failed recording repository")
	}

	registrar := github.NewRegistrar(client, cfg.GitHub.WebhookSecret)
	hookID, err := registrar.Register(ctx, owner, name, cfg.WebhookURL())
	if err != nil {
		if created {
			if removeErr := db.RemoveRepository(repo.ID); removeErr != nil {
				log.Error().Err(removeErr).Str("repo", repoFullName).Msg("Failed cleaning up repository record")
			}
		}
		if errors.Is(err, github.ErrManualRemediation) {
			log.Fatal().Err(err).Str("repo", repoFullName).Msg("Remove the conflicting webhook in the GitHub repository settings, then retry")
		}
		log.Fatal().Err(err).Str("repo", repoFullName).Msg("Failed registering webhook")
	}

	if err := db.UpdateRepositoryWebhook(repo.ID, hookID, cfg.WebhookURL()); err != nil {
		log.Fatal().Err(err).Str("repo", repoFullName).Msg("Failed activating repository")
	}

	log.Info().Str("repo", repoFullName).Int64("hookId", hookID).Msg("Repository connected")
}

// DisconnectRepo removes the remote webhook best-effort and always
// deactivates the local record.
func DisconnectRepo(cmd *cobra.Command, args []string) {
	logging.SetLogLevel(verbose)
	ctx := context.Background()

	cfg, db, client := setupRepoEnv()
	defer db.Close()

	repo := findUserRepo(db, repoUserID, repoFullName)

	owner, name, _ := strings.Cut(repo.FullName, "/")
	registrar := github.NewRegistrar(client, cfg.GitHub.WebhookSecret)
	if repo.WebhookID != 0 {
		if err := registrar.Deregister(ctx, owner, name, repo.WebhookID); err != nil {
			log.Warn().Err(err).Str("repo", repo.FullName).Msg("Failed removing remote webhook, deactivating locally anyway")
		}
	}

	if err := db.DeactivateRepository(repo.ID); err != nil {
		log.Fatal().Err(err).Str("repo", repo.FullName).Msg("Failed deactivating repository")
	}

	log.Info().Str("repo", repo.FullName).Msg("Repository disconnected")
}

func ListRepos(cmd *cobra.Command, args []string) {
	logging.SetLogLevel(verbose)

	_, db, _ := setupRepoEnv()
	defer db.Close()

	repos, err := db.ListUserRepositories(repoUserID)
	if err != nil {
		log.Fatal().Err(err).Str("user", repoUserID).Msg("Failed listing repositories")
	}

	for _, repo := range repos {
		log.Info().
			Str("repo", repo.FullName).
			Bool("active", repo.IsActive).
			Bool("private", repo.Private).
			Time("connectedAt", repo.CreatedAt).
			Msg("Connected repository")
	}
	log.Info().Int("count", len(repos)).Msg("Done")
}

func ListScans(cmd *cobra.Command, args []string) {
	logging.SetLogLevel(verbose)

	_, db, _ := setupRepoEnv()
	defer db.Close()

	repo := findUserRepo(db, repoUserID, repoFullName)

	if resolveScanID != "" {
		if err := db.ResolveScanRecord(resolveScanID); err != nil {
			log.Fatal().Err(err).Str("scanId", resolveScanID).Msg("Failed resolving scan record")
		}
		log.Info().Str("scanId", resolveScanID).Msg("Scan record resolved")
		return
	}

	records, err := db.ListRecentScans(repo.ID, scanLimit)
	if err != nil {
		log.Fatal().Err(err).Str("repo", repo.FullName).Msg("Failed listing scan records")
	}

	for _, record := range records {
		log.Info().
			Str("scanId", record.ID).
			Str("kind", string(record.Kind)).
			Str("severity", string(record.Kind.Severity())).
			Str("file", record.FilePath).
			Int("line", record.LineNumber).
			Str("sha", record.CommitSHA).
			Bool("resolved", record.Resolved).
			Time("detectedAt", record.CreatedAt).
			Msg("Finding")
	}
	log.Info().Int("count", len(records)).Str("repo", repo.FullName).Msg("Done")
}

// ensureRepositoryRecord returns the row the webhook gets bound to. A never
// connected repository gets a fresh row; a disconnected one keeps its row,
// so reconnecting rebinds instead of conflicting on the unique github id.
// The bool reports whether this call created the row.
func ensureRepositoryRecord(db *store.Store, userID string, githubID int64, name, fullName string, private bool) (store.Repository, bool, error) {
	existing, err := db.GetRepositoryByGitHubID(githubID)
	if err == nil {
		if existing.UserID != userID {
			return store.Repository{}, false, fmt.Errorf("repository %s is connected by another user", fullName)
		}
		if existing.IsActive {
			return store.Repository{}, false, fmt.Errorf("repository %s is already connected", fullName)
		}
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Repository{}, false, err
	}

	repo, err := db.AddRepository(userID, githubID, name, fullName, private)
	if err != nil {
		return store.Repository{}, false, err
	}
	return repo, true, nil
}

func setupRepoEnv() (*config.Config, *store.Store, *gh.Client) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed loading configuration")
	}
	if repoUserID == "" {
		log.Fatal().Msg("The --user flag is required")
	}

	db, err := store.New(cfg.Store.Path, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("Failed opening store")
	}

	return cfg, db, github.NewClient(cfg.GitHub.Token, cfg.GitHub.APIBaseURL)
}

func findUserRepo(db *store.Store, userID, fullName string) store.Repository {
	repos, err := db.ListUserRepositories(userID)
	if err != nil {
		log.Fatal().Err(err).Str("user", userID).Msg("Failed listing repositories")
	}
	for _, repo := range repos {
		if repo.FullName == fullName {
			return repo
		}
	}
	log.Fatal().Str("repo", fullName).Str("user", userID).Msg("Repository is not connected by this user")
	return store.Repository{}
}
