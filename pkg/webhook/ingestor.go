// Package webhook receives GitHub push deliveries, verifies their
// authenticity and drives the fetch → scan → alert pipeline.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rxwycdh/rxhash"

	gh "github.com/gitwizard/gitwizard/pkg/github"
	"github.com/gitwizard/gitwizard/pkg/scanner"
	"github.com/gitwizard/gitwizard/pkg/store"
)

// defaultBranchRefs are the only refs that trigger scanning; pushes to any
// other branch are acknowledged and dropped.
var defaultBranchRefs = []string{"refs/heads/main", "refs/heads/master"}

// PushCommit is one commit of a push-event payload.
type PushCommit struct {
	ID       string   `json:"id"`
	Message  string   `json:"message"`
	URL      string   `json:"url"`
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

// PushEvent is the subset of the GitHub push payload the ingestor consumes.
type PushEvent struct {
	Ref        string `json:"ref"`
	Repository struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		FullName string `json:"full_name"`
	} `json:"repository"`
	Commits []PushCommit `json:"commits"`
}

// Store is the slice of the persistence layer the ingestor needs.
type Store interface {
	GetRepositoryByGitHubID(githubID int64) (store.Repository, error)
	GetUserByID(id string) (store.User, error)
	AddScanRecord(record store.ScanRecord) (store.ScanRecord, error)
}

// CommitFetcher loads the changed files of one commit.
type CommitFetcher interface {
	FetchCommit(ctx context.Context, owner, repo, sha string) (*gh.Commit, error)
}

// AlertDispatcher raises one alert for an accepted scan record and returns
// the terminal alert status.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, user store.User, scan store.ScanRecord, repo store.Repository) string
}

// Ingestor handles inbound webhook deliveries. Construction receives every
// collaborator and the shared secret explicitly.
type Ingestor struct {
	secret     []byte
	store      Store
	fetcher    CommitFetcher
	scanner    *scanner.Scanner
	dispatcher AlertDispatcher

	deliveries   atomic.Int64
	ignored      atomic.Int64
	findings     atomic.Int64
	alertsSent   atomic.Int64
	alertsFailed atomic.Int64
}

func NewIngestor(secret []byte, st Store, fetcher CommitFetcher, sc *scanner.Scanner, dispatcher AlertDispatcher) *Ingestor {
	return &Ingestor{
		secret:     secret,
		store:      st,
		fetcher:    fetcher,
		scanner:    sc,
		dispatcher: dispatcher,
	}
}

// Handler returns the HTTP surface: the webhook endpoint and a health probe.
func (i *Ingestor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/webhook/github", i.handleGitHub)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// Status reports processing counters, wired to the interactive status
// shortcut of the serve command.
func (i *Ingestor) Status() *zerolog.Event {
	return log.Info().
		Int64("deliveries", i.deliveries.Load()).
		Int64("ignored", i.ignored.Load()).
		Int64("findings", i.findings.Load()).
		Int64("alertsSent", i.alertsSent.Load()).
		Int64("alertsFailed", i.alertsFailed.Load())
}

// handleGitHub verifies the delivery signature over the exact received
// bytes before anything is parsed, then processes each commit
// independently. Per-commit and per-secret failures are absorbed so GitHub
// never re-delivers a partially processed event.
func (i *Ingestor) handleGitHub(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed reading request body"})
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		signature = r.Header.Get("X-Signature-256")
	}
	if signature == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing signature"})
		return
	}
	if !VerifySignature(body, signature, i.secret) {
		log.Warn().Str("remote", r.RemoteAddr).Msg("Rejected webhook with invalid signature")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	var payload PushEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
		return
	}

	i.deliveries.Add(1)

	if !isDefaultBranch(payload.Ref) {
		i.ignored.Add(1)
		log.Debug().Str("ref", payload.Ref).Msg("Ignored non-default branch push")
		writeJSON(w, http.StatusOK, map[string]string{"message": "ignored non-default branch"})
		return
	}

	repo, err := i.store.GetRepositoryByGitHubID(payload.Repository.ID)
	if err != nil || !repo.IsActive {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Int64("githubId", payload.Repository.ID).Msg("Failed resolving repository")
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "repository not found or inactive"})
		return
	}

	user, err := i.store.GetUserByID(repo.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Str("userId", repo.UserID).Msg("Failed resolving user")
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}

	for _, commit := range payload.Commits {
		if err := i.processCommit(r.Context(), repo, user, commit); err != nil {
			log.Error().Err(err).Str("sha", commit.ID).Str("repo", repo.FullName).Msg("Failed processing commit")
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "webhook processed"})
}

// processCommit fetches, scans and persists one commit's findings. Errors
// here are absorbed by the caller; sibling commits keep going. Duplicate
// findings are collapsed within this commit only: each commit is persisted
// independently, so the same secret leaked in two commits of one push gets
// a record per commit.
func (i *Ingestor) processCommit(ctx context.Context, repo store.Repository, user store.User, commit PushCommit) error {
	owner, name, ok := strings.Cut(repo.FullName, "/")
	if !ok {
		return fmt.Errorf("invalid repository full name %q", repo.FullName)
	}

	fetched, err := i.fetcher.FetchCommit(ctx, owner, name, commit.ID)
	if err != nil {
		return err
	}

	message := fetched.Message
	if message == "" {
		message = commit.Message
	}
	commitURL := fetched.HTMLURL
	if commitURL == "" {
		commitURL = commit.URL
	}

	seen := map[string]struct{}{}
	for _, file := range fetched.Files {
		result := i.scanner.Scan(file.Content, file.Path)
		for _, finding := range result.Findings {
			hash, err := rxhash.HashStruct(finding)
			if err == nil {
				if _, dup := seen[hash]; dup {
					continue
				}
				seen[hash] = struct{}{}
			}

			record, err := i.store.AddScanRecord(store.ScanRecord{
				RepositoryID:  repo.ID,
				CommitSHA:     commit.ID,
				CommitMessage: message,
				CommitURL:     commitURL,
				Kind:          finding.Kind,
				Value:         finding.Value,
				FilePath:      finding.FilePath,
				LineNumber:    finding.LineNumber,
			})
			if err != nil {
				log.Error().Err(err).Str("file", finding.FilePath).Str("sha", commit.ID).Msg("Failed persisting scan record")
				continue
			}

			i.findings.Add(1)
			log.Info().
				Str("kind", string(finding.Kind)).
				Str("repo", repo.FullName).
				Str("file", finding.FilePath).
				Int("line", finding.LineNumber).
				Str("sha", shortSHA(commit.ID)).
				Msg("SECRET")

			switch i.dispatcher.Dispatch(ctx, user, record, repo) {
			case store.AlertStatusSent:
				i.alertsSent.Add(1)
			case store.AlertStatusFailed:
				i.alertsFailed.Add(1)
			}
		}
	}

	return nil
}

func isDefaultBranch(ref string) bool {
	for _, candidate := range defaultBranchRefs {
		if ref == candidate {
			return true
		}
	}
	return false
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed encoding response body")
	}
}
