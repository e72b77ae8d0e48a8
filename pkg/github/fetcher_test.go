package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-github/v69/github"
	"github.com/stretchr/testify/assert"
)

const commitPath = "/api/v3/repos/acme/api/commits/abc123"

func contentResponse(content string) github.RepositoryContent {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	return github.RepositoryContent{
		Type:     github.String("file"),
		Encoding: github.String("base64"),
		Content:  github.String(encoded),
	}
}

func TestFetchCommitFiltersRemovedAndBinaryFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == commitPath:
			_ = json.NewEncoder(w).Encode(github.RepositoryCommit{
				SHA:     github.String("abc123"),
				HTMLURL: github.String("https://github.com/acme/api/commit/abc123"),
				Commit:  &github.Commit{Message: github.String("update config")},
				Files: []*github.CommitFile{
					{Filename: github.String("src/config.go"), Status: github.String("modified")},
					{Filename: github.String("old/legacy.go"), Status: github.String("removed")},
					{Filename: github.String("assets/logo.png"), Status: github.String("added")},
				},
			})

		case strings.HasPrefix(r.URL.Path, "/api/v3/repos/acme/api/contents/"):
			assert.Equal(t, "abc123", r.URL.Query().Get("ref"))
			_ = json.NewEncoder(w).Encode(contentResponse("key := \"value\"\n"))

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	fetcher := NewFetcher(testClient(t, server.URL), 0, 2)
	commit, err := fetcher.FetchCommit(context.Background(), "acme", "api", "abc123")

	assert.NoError(t, err)
	assert.Equal(t, "abc123", commit.SHA)
	assert.Equal(t, "update config", commit.Message)
	assert.Equal(t, "https://github.com/acme/api/commit/abc123", commit.HTMLURL)
	assert.Len(t, commit.Files, 1)
	assert.Equal(t, "src/config.go", commit.Files[0].Path)
	assert.Equal(t, "key := \"value\"\n", commit.Files[0].Content)
}

func TestFetchCommitSkipsFailedFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == commitPath:
			_ = json.NewEncoder(w).Encode(github.RepositoryCommit{
				SHA: github.String("abc123"),
				Files: []*github.CommitFile{
					{Filename: github.String("src/broken.go"), Status: github.String("modified")},
					{Filename: github.String("src/fine.go"), Status: github.String("modified")},
				},
			})

		case strings.HasSuffix(r.URL.Path, "/contents/src/broken.go"):
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "boom"})

		case strings.HasSuffix(r.URL.Path, "/contents/src/fine.go"):
			_ = json.NewEncoder(w).Encode(contentResponse("package src\n"))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	fetcher := NewFetcher(testClient(t, server.URL), 0, 2)
	commit, err := fetcher.FetchCommit(context.Background(), "acme", "api", "abc123")

	assert.NoError(t, err)
	assert.Len(t, commit.Files, 1)
	assert.Equal(t, "src/fine.go", commit.Files[0].Path)
}

func TestFetchCommitEnforcesSizeCap(t *testing.T) {
	big := strings.Repeat("A", 2048)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == commitPath:
			_ = json.NewEncoder(w).Encode(github.RepositoryCommit{
				SHA: github.String("abc123"),
				Files: []*github.CommitFile{
					{Filename: github.String("src/big.txt"), Status: github.String("added")},
					{Filename: github.String("src/small.txt"), Status: github.String("added")},
				},
			})

		case strings.HasSuffix(r.URL.Path, "/contents/src/big.txt"):
			_ = json.NewEncoder(w).Encode(contentResponse(big))

		case strings.HasSuffix(r.URL.Path, "/contents/src/small.txt"):
			_ = json.NewEncoder(w).Encode(contentResponse("small\n"))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	fetcher := NewFetcher(testClient(t, server.URL), 1024, 2)
	commit, err := fetcher.FetchCommit(context.Background(), "acme", "api", "abc123")

	assert.NoError(t, err)
	assert.Len(t, commit.Files, 1)
	assert.Equal(t, "src/small.txt", commit.Files[0].Path)
}

func TestFetchCommitSniffsBinaryContent(t *testing.T) {
	// PNG magic bytes slip past the extension filter under a text name
	pngHeader := string([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == commitPath:
			_ = json.NewEncoder(w).Encode(github.RepositoryCommit{
				SHA: github.String("abc123"),
				Files: []*github.CommitFile{
					{Filename: github.String("src/image.dat"), Status: github.String("added")},
				},
			})

		case strings.HasSuffix(r.URL.Path, "/contents/src/image.dat"):
			_ = json.NewEncoder(w).Encode(contentResponse(pngHeader))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	fetcher := NewFetcher(testClient(t, server.URL), 0, 2)
	commit, err := fetcher.FetchCommit(context.Background(), "acme", "api", "abc123")

	assert.NoError(t, err)
	assert.Empty(t, commit.Files)
}

func TestFetchCommitNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Not Found"})
	}))
	defer server.Close()

	fetcher := NewFetcher(testClient(t, server.URL), 0, 2)
	_, err := fetcher.FetchCommit(context.Background(), "acme", "api", "abc123")

	assert.Error(t, err)
}

func TestIsBinaryPath(t *testing.T) {
	assert.True(t, isBinaryPath("assets/logo.PNG"))
	assert.True(t, isBinaryPath("release.tar"))
	assert.False(t, isBinaryPath("src/main.go"))
	assert.False(t, isBinaryPath("Makefile"))
}
