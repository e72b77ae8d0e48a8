package mailer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/gitwizard/gitwizard/pkg/scanner/rules"
	"github.com/gitwizard/gitwizard/pkg/store"
)

var (
	alertUser = store.User{ID: "user-1", Name: "Dev", Email: "dev@example.com"}
	alertScan = store.ScanRecord{
		ID:         "scan-1",
		CommitSHA:  "abc123def456",
		CommitURL:  "https://github.com/acme/api/commit/abc123def456",
		Kind:       rules.KindAWSAccessKey,
		FilePath:   "src/config.go",
		LineNumber: 3,
	}
	alertRepo = store.Repository{ID: "repo-1", Name: "api", FullName: "acme/api"}
)

func TestSendSecretAlert(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody []byte
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "email-1"})
	}))
	defer server.Close()

	m := New("re_test_key", "GitWizard <alerts@gitwizard.com>", "https://gitwizard.example.com", server.URL)
	err := m.SendSecretAlert(context.Background(), alertUser, alertScan, alertRepo)

	require.NoError(t, err)
	assert.Equal(t, "/emails", gotPath)
	assert.Equal(t, "Bearer re_test_key", gotAuth)

	body := string(gotBody)
	assert.Equal(t, "GitWizard <alerts@gitwizard.com>", gjson.Get(body, "from").String())
	assert.Equal(t, "dev@example.com", gjson.Get(body, "to.0").String())
	assert.Contains(t, gjson.Get(body, "subject").String(), "AWS Access Key")
	assert.Contains(t, gjson.Get(body, "subject").String(), "api")

	html := gjson.Get(body, "html").String()
	assert.Contains(t, html, "src/config.go")
	assert.Contains(t, html, "abc123de")
	assert.Contains(t, html, alertScan.CommitURL)
	assert.Contains(t, html, "https://gitwizard.example.com")
}

func TestSendSecretAlertAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid from address"}`))
	}))
	defer server.Close()

	m := New("re_test_key", "broken", "https://gitwizard.example.com", server.URL)
	err := m.SendSecretAlert(context.Background(), alertUser, alertScan, alertRepo)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestSendWelcome(t *testing.T) {
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "email-2"})
	}))
	defer server.Close()

	m := New("re_test_key", "GitWizard <alerts@gitwizard.com>", "https://gitwizard.example.com", server.URL)
	err := m.SendWelcome(context.Background(), alertUser)

	require.NoError(t, err)
	body := string(gotBody)
	assert.Contains(t, gjson.Get(body, "subject").String(), "Welcome")
	assert.Contains(t, gjson.Get(body, "html").String(), "Dev")
}
