package cmd

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gitwizard/gitwizard/pkg/github"
	"github.com/gitwizard/gitwizard/pkg/logging"
	"github.com/gitwizard/gitwizard/pkg/scanner"
)

var (
	scanRepo    string
	scanSHA     string
	scanToken   string
	scanBaseURL string
)

func NewScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a single commit on demand",
		Run:   Scan,
	}

	scanCmd.Flags().StringVarP(&scanRepo, "repo", "r", "", "Repository in owner/name form")
	err := scanCmd.MarkFlagRequired("repo")
	if err != nil {
		log.Error().Msg("Unable to require repo flag: " + err.Error())
	}

	scanCmd.Flags().StringVarP(&scanSHA, "sha", "s", "", "Commit SHA to scan")
	err = scanCmd.MarkFlagRequired("sha")
	if err != nil {
		log.Error().Msg("Unable to require sha flag: " + err.Error())
	}

	scanCmd.Flags().StringVarP(&scanToken, "token", "t", "", "GitHub API Token")
	scanCmd.Flags().StringVar(&scanBaseURL, "github", "", "GitHub API base URL (for GitHub Enterprise)")
	scanCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose Logging")

	return scanCmd
}

// Scan fetches one commit and reports its findings without touching the
// store or sending alerts. Useful for trying out the rules against a known
// commit.
func Scan(cmd *cobra.Command, args []string) {
	logging.SetLogLevel(verbose)

	owner, name, ok := strings.Cut(scanRepo, "/")
	if !ok {
		log.Fatal().Str("repo", scanRepo).Msg("Repository must be given as owner/name")
	}

	client := github.NewClient(scanToken, scanBaseURL)
	fetcher := github.NewFetcher(client, 0, 4)

	commit, err := fetcher.FetchCommit(context.Background(), owner, name, scanSHA)
	if err != nil {
		log.Fatal().Err(err).Str("sha", scanSHA).Msg("Failed fetching commit")
	}

	sc := scanner.NewScanner(nil)
	total := 0
	for _, file := range commit.Files {
		result := sc.Scan(file.Content, file.Path)
		for _, finding := range result.Findings {
			total++
			log.Warn().
				Str("kind", string(finding.Kind)).
				Str("severity", string(finding.Kind.Severity())).
				Str("file", finding.FilePath).
				Int("line", finding.LineNumber).
				Str("value", finding.Value).
				Msg("SECRET")
		}
	}

	log.Info().Int("files", len(commit.Files)).Int("findings", total).Str("sha", scanSHA).Msg("Scan finished")
}
