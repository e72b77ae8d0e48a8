// Package github talks to the GitHub REST API: commit fetching for scans and
// push-webhook lifecycle management.
package github

import (
	"net/http"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit/github_primary_ratelimit"
	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit/github_secondary_ratelimit"
	"github.com/google/go-github/v69/github"
	"github.com/rs/zerolog/log"

	"github.com/gitwizard/gitwizard/pkg/httpclient"
)

const defaultBaseURL = "https://api.github.com/"

// NewClient builds a go-github client with retry and rate limit handling.
// An empty baseURL targets github.com; anything else is treated as an
// enterprise endpoint.
func NewClient(accessToken string, baseURL string) *github.Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	retryClient := httpclient.GetHTTPClient(map[string]string{
		"User-Agent": "GitWizard/1.0",
	})

	rateLimiter := github_ratelimit.New(retryClient.StandardClient().Transport,
		github_primary_ratelimit.WithLimitDetectedCallback(func(ctx *github_primary_ratelimit.CallbackContext) {
			resetTime := ctx.ResetTime.Add(time.Second * 30)
			log.Info().Str("category", string(ctx.Category)).Time("reset", resetTime).Msg("Primary rate limit detected, will resume automatically")
			time.Sleep(time.Until(resetTime))
			log.Info().Str("category", string(ctx.Category)).Msg("Resuming")
		}),
		github_secondary_ratelimit.WithLimitDetectedCallback(func(ctx *github_secondary_ratelimit.CallbackContext) {
			resetTime := ctx.ResetTime.Add(time.Second * 30)
			log.Info().Time("reset", *ctx.ResetTime).Dur("totalSleep", *ctx.TotalSleepTime).Msg("Secondary rate limit detected, will resume automatically")
			time.Sleep(time.Until(resetTime))
			log.Info().Msg("Resuming")
		}),
	)

	client := github.NewClient(&http.Client{Transport: rateLimiter}).WithAuthToken(accessToken)
	if baseURL != defaultBaseURL {
		client, _ = client.WithEnterpriseURLs(baseURL, baseURL)
	}
	return client
}
