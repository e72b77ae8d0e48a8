package github

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/go-github/v69/github"
	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"
	"github.com/wandb/parallel"
)

// binaryExtensions are skipped without fetching content. The list mirrors
// what the webhook pipeline has always excluded; anything else still passes
// a magic-byte sniff after download.
var binaryExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {},
	".pdf": {}, ".zip": {}, ".tar": {}, ".gz": {}, ".rar": {},
	".mp4": {}, ".mp3": {}, ".wav": {}, ".avi": {}, ".mov": {},
}

// CommitFile is one changed file with its content at the commit revision.
type CommitFile struct {
	Path    string
	Content string
}

// Commit carries the metadata and scannable files of a single commit.
type Commit struct {
	SHA     string
	Message string
	HTMLURL string
	Files   []CommitFile
}

// Fetcher enumerates the files changed in a commit and loads their content.
type Fetcher struct {
	client      *github.Client
	maxFileSize int64
	workers     int
}

// NewFetcher builds a fetcher. maxFileSize caps the decoded size of a single
// file (0 disables the cap); workers bounds concurrent content fetches.
func NewFetcher(client *github.Client, maxFileSize int64, workers int) *Fetcher {
	if workers < 1 {
		workers = 1
	}
	return &Fetcher{client: client, maxFileSize: maxFileSize, workers: workers}
}

// FetchCommit returns commit metadata plus the content of every retained
// changed file. Removed files and binary files are excluded. A single file's
// fetch failure is logged and skipped; it never aborts the rest of the commit.
func (f *Fetcher) FetchCommit(ctx context.Context, owner, repo, sha string) (*Commit, error) {
	repoCommit, resp, err := f.client.Repositories.GetCommit(ctx, owner, repo, sha, &github.ListOptions{PerPage: 100})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, fmt.Errorf("failed fetching commit %s (status %d): %w", sha, status, err)
	}

	commit := &Commit{
		SHA:     sha,
		Message: repoCommit.GetCommit().GetMessage(),
		HTMLURL: repoCommit.GetHTMLURL(),
	}

	candidates := []string{}
	for _, file := range repoCommit.Files {
		if file.GetStatus() == "removed" {
			continue
		}
		if isBinaryPath(file.GetFilename()) {
			log.Debug().Str("file", file.GetFilename()).Msg("Skipped binary extension")
			continue
		}
		candidates = append(candidates, file.GetFilename())
	}

	group := parallel.Collect[*CommitFile](parallel.Limited(ctx, f.workers))
	for _, filePath := range candidates {
		group.Go(func(ctx context.Context) (*CommitFile, error) {
			content, err := f.FetchFileContent(ctx, owner, repo, filePath, sha)
			if err != nil {
				log.Warn().Err(err).Str("file", filePath).Str("sha", sha).Msg("Failed fetching file content, skipping file")
				return nil, nil
			}

			if f.maxFileSize > 0 && int64(len(content)) > f.maxFileSize {
				log.Debug().Str("file", filePath).Int("bytes", len(content)).Int64("maxBytes", f.maxFileSize).Msg("Skipped large file")
				return nil, nil
			}

			if kind, _ := filetype.Match([]byte(content)); kind != filetype.Unknown {
				log.Debug().Str("file", filePath).Str("detected", kind.MIME.Value).Msg("Skipped binary content")
				return nil, nil
			}

			return &CommitFile{Path: filePath, Content: content}, nil
		})
	}

	fetched, err := group.Wait()
	if err != nil {
		log.Error().Stack().Err(err).Msg("Failed waiting for parallel file fetches")
	}

	for _, file := range fetched {
		if file != nil {
			commit.Files = append(commit.Files, *file)
		}
	}
	return commit, nil
}

// FetchFileContent loads one file's decoded content at the given ref.
func (f *Fetcher) FetchFileContent(ctx context.Context, owner, repo, filePath, ref string) (string, error) {
	fileContent, _, _, err := f.client.Repositories.GetContents(ctx, owner, repo, filePath,
		&github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return "", fmt.Errorf("failed fetching contents of %s@%s: %w", filePath, ref, err)
	}
	if fileContent == nil {
		return "", fmt.Errorf("path %s is not a file", filePath)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed decoding content of %s: %w", filePath, err)
	}
	return content, nil
}

func isBinaryPath(filePath string) bool {
	ext := strings.ToLower(path.Ext(filePath))
	_, ok := binaryExtensions[ext]
	return ok
}
