// Package mailer sends alert and onboarding emails through the Resend API.
package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"resty.dev/v3"

	"github.com/gitwizard/gitwizard/pkg/store"
)

const defaultAPIBaseURL = "https://api.resend.com"

// Mailer is a thin client over the Resend emails endpoint.
type Mailer struct {
	client *resty.Client
	from   string
	appURL string
}

// New builds a mailer. baseURL overrides the Resend endpoint, used in tests;
// empty selects the production API.
func New(apiKey, from, appURL, baseURL string) *Mailer {
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")
	return &Mailer{client: client, from: from, appURL: appURL}
}

// SendSecretAlert emails the repository owner about one persisted scan
// record. The error is returned so the dispatcher can record the outcome;
// callers must not retry.
func (m *Mailer) SendSecretAlert(ctx context.Context, user store.User, scan store.ScanRecord, repo store.Repository) error {
	displayName := scan.Kind.DisplayName()
	subject := fmt.Sprintf("🚨 Secret Detected: %s in %s", displayName, repo.Name)
	return m.send(ctx, user.Email, subject, secretAlertHTML(user, scan, repo, m.appURL))
}

// SendWelcome emails a newly signed-up user.
func (m *Mailer) SendWelcome(ctx context.Context, user store.User) error {
	return m.send(ctx, user.Email, "🎉 Welcome to GitWizard - Your Security Guardian", welcomeHTML(user, m.appURL))
}

func (m *Mailer) send(ctx context.Context, to, subject, html string) error {
	res, err := m.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"from":    m.from,
			"to":      []string{to},
			"subject": subject,
			"html":    html,
		}).
		Post("/emails")
	if err != nil {
		return fmt.Errorf("failed sending email: %w", err)
	}
	if res.StatusCode() >= 400 {
		return fmt.Errorf("email API returned status %d: %s", res.StatusCode(), res.String())
	}

	emailID := gjson.Get(res.String(), "id").String()
	log.Debug().Str("emailId", emailID).Str("to", to).Msg("Email accepted")
	return nil
}

func secretAlertHTML(user store.User, scan store.ScanRecord, repo store.Repository, appURL string) string {
	displayName := scan.Kind.DisplayName()
	severity := string(scan.Kind.Severity())
	shortSHA := scan.CommitSHA
	if len(shortSHA) > 8 {
		shortSHA = shortSHA[:8]
	}

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><body>`)
	b.WriteString(`<h1>🚨 Secret Detected</h1>`)
	fmt.Fprintf(&b, `<div class="alert severity-%s"><h2>⚠️ %s Found</h2>`, severity, displayName)
	fmt.Fprintf(&b, `<p>A <strong>%s</strong> was detected in your repository <strong>%s</strong>.</p></div>`, displayName, repo.FullName)
	b.WriteString(`<h3>📋 Details</h3><div class="secret-info">`)
	fmt.Fprintf(&b, `<strong>Repository:</strong> %s<br>`, repo.FullName)
	fmt.Fprintf(&b, `<strong>File:</strong> %s<br>`, scan.FilePath)
	fmt.Fprintf(&b, `<strong>Line:</strong> %d<br>`, scan.LineNumber)
	fmt.Fprintf(&b, `<strong>Commit:</strong> %s<br>`, shortSHA)
	fmt.Fprintf(&b, `<strong>Message:</strong> %s</div>`, scan.CommitMessage)
	b.WriteString(`<h3>🔗 Quick Actions</h3>`)
	fmt.Fprintf(&b, `<a href="%s">View Commit</a> `, scan.CommitURL)
	fmt.Fprintf(&b, `<a href="https://github.com/%s/blob/main/%s#L%d">View File</a> `, repo.FullName, scan.FilePath, scan.LineNumber)
	fmt.Fprintf(&b, `<a href="%s/dashboard">View Dashboard</a>`, appURL)
	b.WriteString(`<h3>🛡️ Recommended Actions</h3><ol>`)
	b.WriteString(`<li><strong>Immediately revoke</strong> the exposed secret/key</li>`)
	b.WriteString(`<li><strong>Rotate</strong> any related credentials</li>`)
	b.WriteString(`<li><strong>Check</strong> your Git history for other instances</li>`)
	b.WriteString(`<li><strong>Use environment variables</strong> for sensitive data</li>`)
	b.WriteString(`<li><strong>Add the file</strong> to your .gitignore</li></ol>`)
	fmt.Fprintf(&b, `<p><a href="%s/unsubscribe?email=%s">Unsubscribe</a> | <a href="%s/settings">Settings</a></p>`, appURL, user.Email, appURL)
	b.WriteString(`</body></html>`)
	return b.String()
}

func welcomeHTML(user store.User, appURL string) string {
	name := user.Name
	if name == "" {
		name = "Developer"
	}

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><body>`)
	b.WriteString(`<h1>🎉 Welcome to GitWizard!</h1>`)
	fmt.Fprintf(&b, `<h2>Hello %s!</h2>`, name)
	b.WriteString(`<p>Welcome to GitWizard - the intelligent secret detection platform that keeps your repositories secure.</p>`)
	b.WriteString(`<h3>🚀 Getting Started</h3><ol>`)
	b.WriteString(`<li><strong>Connect your first repository</strong> from your dashboard</li>`)
	b.WriteString(`<li><strong>GitWizard will automatically scan</strong> new commits for secrets</li>`)
	b.WriteString(`<li><strong>Receive instant alerts</strong> when potential secrets are detected</li>`)
	b.WriteString(`<li><strong>Take action</strong> to secure your codebase</li></ol>`)
	fmt.Fprintf(&b, `<p><a href="%s/dashboard">Go to Dashboard</a></p>`, appURL)
	b.WriteString(`</body></html>`)
	return b.String()
}
