// Package forge talks to the code host: listing a pull request's changed
// files and posting per-environment commit statuses back to the pull
// request's check interface.
package forge

import (
	"context"
)

// Repo identifies a repository on the forge.
type Repo struct {
	Owner string
	Name  string
}

// String returns the owner/name form.
func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// StatusState is the state of a commit status.
type StatusState string

const (
	StatusPending StatusState = "pending"
	StatusSuccess StatusState = "success"
	StatusFailure StatusState = "failure"
	StatusError   StatusState = "error"
)

// Status is one commit status posted against a head commit. Each job posts
// under its own context, so the pull request shows one check per
// environment.
type Status struct {
	State       StatusState
	Context     string
	Description string
	TargetURL   string
}

// Client is the forge API surface the service needs.
type Client interface {
	// ListChangedFiles returns the pull request's changed-path set, as
	// repo-relative slash-separated paths.
	ListChangedFiles(ctx context.Context, repo Repo, prNumber int) ([]string, error)

	// CreateStatus posts a commit status against the given head SHA.
	CreateStatus(ctx context.Context, repo Repo, sha string, status Status) error
}
