package forge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"matrixci/internal/config"

	"github.com/google/go-github/v68/github"
)

// GitHubClient implements Client on the GitHub REST API. It works against
// both github.com and enterprise installs.
type GitHubClient struct {
	client *github.Client
}

// NewGitHubClient creates a forge client from the forge configuration.
func NewGitHubClient(cfg config.ForgeConfig) (*GitHubClient, error) {
	// Create HTTP client with timeout
	timeout := time.Duration(cfg.Timeout) * time.Second
	httpClient := &http.Client{
		Timeout: timeout,
	}

	client := github.NewClient(httpClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}

	// Point the client at an enterprise install when configured
	if cfg.APIURL != "" {
		uploadURL := cfg.UploadURL
		if uploadURL == "" {
			uploadURL = cfg.APIURL
		}
		var err error
		client, err = client.WithEnterpriseURLs(cfg.APIURL, uploadURL)
		if err != nil {
			return nil, fmt.Errorf("invalid forge.api_url: %v", err)
		}
	}

	return &GitHubClient{client: client}, nil
}

// ListChangedFiles returns every changed path of the pull request, following
// pagination. Removed files count as changed paths: a deletion can trip a
// trigger rule just like an edit.
func (c *GitHubClient) ListChangedFiles(ctx context.Context, repo Repo, prNumber int) ([]string, error) {
	opts := &github.ListOptions{PerPage: 100}

	var paths []string
	for {
		files, resp, err := c.client.PullRequests.ListFiles(ctx, repo.Owner, repo.Name, prNumber, opts)
		if err != nil {
			return nil, formatForgeError(err)
		}

		for _, file := range files {
			if file.Filename != nil {
				paths = append(paths, *file.Filename)
			}
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return paths, nil
}

// CreateStatus posts a commit status against the head SHA.
func (c *GitHubClient) CreateStatus(ctx context.Context, repo Repo, sha string, status Status) error {
	repoStatus := &github.RepoStatus{
		State:       github.String(string(status.State)),
		Context:     github.String(status.Context),
		Description: github.String(truncateDescription(status.Description)),
	}
	if status.TargetURL != "" {
		repoStatus.TargetURL = github.String(status.TargetURL)
	}

	_, _, err := c.client.Repositories.CreateStatus(ctx, repo.Owner, repo.Name, sha, repoStatus)
	if err != nil {
		return formatForgeError(err)
	}

	return nil
}

// The forge rejects status descriptions longer than 140 characters.
const maxDescriptionLen = 140

func truncateDescription(s string) string {
	if len(s) <= maxDescriptionLen {
		return s
	}
	return s[:maxDescriptionLen-3] + "..."
}

// formatForgeError maps forge API errors to user-friendly messages without
// exposing response internals.
func formatForgeError(err error) error {
	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		switch errResp.Response.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("forge authentication failed: invalid credentials")
		case http.StatusForbidden:
			return fmt.Errorf("forge access denied: insufficient permissions")
		case http.StatusNotFound:
			return fmt.Errorf("forge resource not found")
		case http.StatusUnprocessableEntity:
			return fmt.Errorf("forge rejected the request")
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
			return fmt.Errorf("forge server error: please try again later")
		}
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("forge rate limit exceeded")
	}

	return fmt.Errorf("forge api request failed: %v", err)
}
