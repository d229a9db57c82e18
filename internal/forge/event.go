package forge

import (
	"encoding/json"
	"fmt"
)

// Pull request actions that cause trigger evaluation. Everything else is
// acknowledged as a no-op.
const (
	ActionOpened      = "opened"
	ActionSynchronize = "synchronize"
	ActionReopened    = "reopened"
)

// PullRequestEvent is the subset of the forge's pull_request webhook payload
// the service consumes.
type PullRequestEvent struct {
	Action      string         `json:"action"`
	Number      int            `json:"number"`
	PullRequest PullRequestRef `json:"pull_request"`
	Repository  RepositoryRef  `json:"repository"`

	// ChangedPaths is an extension for senders that already know the
	// changed-path set. When present the forge API is not consulted.
	ChangedPaths []string `json:"changed_paths,omitempty"`
}

// PullRequestRef carries the head commit of the pull request.
type PullRequestRef struct {
	Head CommitRef `json:"head"`
}

// CommitRef names a commit and the ref it was on.
type CommitRef struct {
	SHA string `json:"sha"`
	Ref string `json:"ref"`
}

// RepositoryRef identifies the repository the event came from.
type RepositoryRef struct {
	Name     string   `json:"name"`
	FullName string   `json:"full_name"`
	CloneURL string   `json:"clone_url"`
	Owner    OwnerRef `json:"owner"`
}

// OwnerRef is the repository owner.
type OwnerRef struct {
	Login string `json:"login"`
}

// ParsePullRequestEvent decodes a pull_request payload.
func ParsePullRequestEvent(payload []byte) (*PullRequestEvent, error) {
	event := &PullRequestEvent{}
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("invalid pull_request payload: %v", err)
	}
	return event, nil
}

// Triggers reports whether the event's action causes trigger evaluation.
// Direct API clients may omit the action entirely.
func (e *PullRequestEvent) Triggers() bool {
	switch e.Action {
	case "", ActionOpened, ActionSynchronize, ActionReopened:
		return true
	}
	return false
}

// Repo returns the event's repository coordinates.
func (e *PullRequestEvent) Repo() Repo {
	return Repo{Owner: e.Repository.Owner.Login, Name: e.Repository.Name}
}

// Validate checks that the event carries everything job execution needs.
func (e *PullRequestEvent) Validate() error {
	if e.Repository.Owner.Login == "" || e.Repository.Name == "" {
		return fmt.Errorf("event is missing repository coordinates")
	}
	if e.Number <= 0 {
		return fmt.Errorf("event is missing the pull request number")
	}
	if e.PullRequest.Head.SHA == "" {
		return fmt.Errorf("event is missing the head commit")
	}
	return nil
}
