// Package httpclient provides the shared retryable HTTP client used for
// outbound API traffic.
package httpclient

import (
	"context"
	"net/http"
	"net/url"
	"os"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
)

// HeaderRoundTripper is an http.RoundTripper that adds default headers to
// requests. Headers are only added if they're not already present.
type HeaderRoundTripper struct {
	Headers map[string]string
	Next    http.RoundTripper
}

func (hrt *HeaderRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	next := hrt.Next
	if next == nil {
		next = http.DefaultTransport
	}

	for k, v := range hrt.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	return next.RoundTrip(req)
}

// GetHTTPClient creates a retryable HTTP client with optional default headers.
// Retries 429 and 5xx (except 501) responses and honors HTTP_PROXY.
func GetHTTPClient(defaultHeaders map[string]string) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = nil

	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if err != nil {
			log.Error().Err(err).Msg("Retrying HTTP request, error occurred")
			return true, nil
		}

		if resp == nil {
			log.Error().Msg("Retrying HTTP request, no response")
			return false, nil
		}

		if resp.StatusCode == 429 || (resp.StatusCode >= 500 && resp.StatusCode != 501) {
			reqUrl := ""
			if resp.Request != nil && resp.Request.URL != nil {
				reqUrl = resp.Request.URL.String()
			}
			log.Trace().Str("url", reqUrl).Int("statusCode", resp.StatusCode).Msg("Retrying HTTP request")
			return true, nil
		}

		return false, nil
	}

	tr := &http.Transport{}
	proxyServer, useHttpProxy := os.LookupEnv("HTTP_PROXY")
	if useHttpProxy {
		proxyUrl, err := url.Parse(proxyServer)
		if err != nil {
			log.Fatal().Err(err).Str("HTTP_PROXY", proxyServer).Msg("Invalid Proxy URL in HTTP_PROXY environment variable")
		}
		log.Info().Str("proxy", proxyUrl.String()).Msg("Using HTTP_PROXY")
		tr.Proxy = http.ProxyURL(proxyUrl)
	}

	client.HTTPClient.Transport = &HeaderRoundTripper{Headers: defaultHeaders, Next: tr}
	return client
}
