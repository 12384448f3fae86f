package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/archivemaps/georef-pipeline/internal/config"
	"github.com/archivemaps/georef-pipeline/pkg/logger"
)

// GitHubPublisher writes files through the GitHub contents API with
// update-or-create semantics.
type GitHubPublisher struct {
	client *github.Client
	owner  string
	repo   string
	branch string
}

func NewGitHubPublisher(ctx context.Context, cfg config.PublishConfig) (*GitHubPublisher, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github token must be provided")
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github owner and repo must be provided")
	}
	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	return &GitHubPublisher{
		client: github.NewClient(oauth2.NewClient(ctx, ts)),
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		branch: branch,
	}, nil
}

// Push creates the file, or updates it when it already exists. On a
// concurrent-update conflict it refreshes the blob SHA once and retries; the
// last writer wins, which is correct here because content at a path is a pure
// function of its source image.
func (p *GitHubPublisher) Push(ctx context.Context, path string, content []byte, message string) (string, error) {
	commit, err := p.pushOnce(ctx, path, content, message)
	if err != nil && isConflict(err) {
		logger.Log.Warn().Str("path", path).Msg("push conflict, refreshing SHA and retrying once")
		commit, err = p.pushOnce(ctx, path, content, message)
	}
	if err != nil {
		return "", err
	}
	logger.Log.Info().Str("path", path).Str("commit", commit).Msg("artifact pushed")
	return commit, nil
}

func (p *GitHubPublisher) pushOnce(ctx context.Context, path string, content []byte, message string) (string, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		Branch:  github.String(p.branch),
	}

	existing, _, resp, err := p.client.Repositories.GetContents(ctx, p.owner, p.repo, path,
		&github.RepositoryContentGetOptions{Ref: p.branch})
	switch {
	case err == nil && existing != nil:
		opts.SHA = existing.SHA
		res, _, err := p.client.Repositories.UpdateFile(ctx, p.owner, p.repo, path, opts)
		if err != nil {
			return "", fmt.Errorf("update %s: %w", path, err)
		}
		return res.Commit.GetSHA(), nil
	case resp != nil && resp.StatusCode == http.StatusNotFound:
		res, _, err := p.client.Repositories.CreateFile(ctx, p.owner, p.repo, path, opts)
		if err != nil {
			return "", fmt.Errorf("create %s: %w", path, err)
		}
		return res.Commit.GetSHA(), nil
	default:
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
}

func isConflict(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		code := ghErr.Response.StatusCode
		return code == http.StatusConflict || code == http.StatusUnprocessableEntity
	}
	return false
}

var _ Publisher = (*GitHubPublisher)(nil)
