package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v69/github"
	"github.com/rs/zerolog/log"
)

// ErrManualRemediation signals that a foreign hook already exists on the
// repository and the registrar refuses to adopt or delete it.
var ErrManualRemediation = errors.New("a webhook with a different target URL already exists on this repository, manual cleanup required")

// Registrar manages push-event webhooks on GitHub repositories. The create
// API is not idempotent under retries or duplicate user actions; Register
// resolves "already exists" conflicts so that the overall connect operation
// is.
type Registrar struct {
	client *github.Client
	secret string
}

// NewRegistrar builds a registrar. secret is the shared HMAC secret placed
// in the hook config.
func NewRegistrar(client *github.Client, webhookSecret string) *Registrar {
	return &Registrar{client: client, secret: webhookSecret}
}

// Register creates a push webhook pointing at targetURL and returns the
// remote hook id. If GitHub reports the hook already exists, the existing
// hook is looked up: an exact config-URL match is deleted and creation is
// retried once; anything else fails with ErrManualRemediation.
func (r *Registrar) Register(ctx context.Context, owner, repo, targetURL string) (int64, error) {
	hookID, err := r.createHook(ctx, owner, repo, targetURL)
	if err == nil {
		return hookID, nil
	}
	if !isHookExistsError(err) {
		return 0, err
	}

	log.Debug().Str("repo", owner+"/"+repo).Str("url", targetURL).Msg("Webhook already exists, attempting repair")

	existing, err := r.findHookByURL(ctx, owner, repo, targetURL)
	if err != nil {
		return 0, err
	}
	if existing == 0 {
		return 0, fmt.Errorf("repository %s/%s: %w", owner, repo, ErrManualRemediation)
	}

	if err := r.Deregister(ctx, owner, repo, existing); err != nil {
		return 0, fmt.Errorf("failed deleting stale webhook %d: %w", existing, err)
	}

	return r.createHook(ctx, owner, repo, targetURL)
}

// Deregister deletes a remote hook. A 404 counts as success; the binding is
// already gone.
func (r *Registrar) Deregister(ctx context.Context, owner, repo string, hookID int64) error {
	resp, err := r.client.Repositories.DeleteHook(ctx, owner, repo, hookID)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed deleting webhook %d on %s/%s: %w", hookID, owner, repo, err)
	}
	return nil
}

func (r *Registrar) createHook(ctx context.Context, owner, repo, targetURL string) (int64, error) {
	hook := &github.Hook{
		Active: github.Bool(true),
		Events: []string{"push"},
		Config: &github.HookConfig{
			URL:         github.String(targetURL),
			ContentType: github.String("json"),
			Secret:      github.String(r.secret),
		},
	}

	created, _, err := r.client.Repositories.CreateHook(ctx, owner, repo, hook)
	if err != nil {
		return 0, fmt.Errorf("failed creating webhook on %s/%s: %w", owner, repo, err)
	}

	log.Info().Str("repo", owner+"/"+repo).Int64("hookId", created.GetID()).Msg("Webhook registered")
	return created.GetID(), nil
}

// findHookByURL returns the id of the hook whose configured URL exactly
// matches targetURL, or 0 when none does.
func (r *Registrar) findHookByURL(ctx context.Context, owner, repo, targetURL string) (int64, error) {
	opt := &github.ListOptions{PerPage: 100}
	for {
		hooks, resp, err := r.client.Repositories.ListHooks(ctx, owner, repo, opt)
		if err != nil {
			return 0, fmt.Errorf("failed listing webhooks on %s/%s: %w", owner, repo, err)
		}

		for _, hook := range hooks {
			if hook.GetConfig().GetURL() == targetURL {
				return hook.GetID(), nil
			}
		}

		if resp.NextPage == 0 {
			return 0, nil
		}
		opt.Page = resp.NextPage
	}
}

func isHookExistsError(err error) bool {
	var errResp *github.ErrorResponse
	if !errors.As(err, &errResp) {
		return false
	}
	if errResp.Response == nil || errResp.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	for _, e := range errResp.Errors {
		if strings.Contains(e.Message, "already exists") {
			return true
		}
	}
	return strings.Contains(errResp.Message, "already exists")
}
