package engine

import (
	"context"

	"matrixci/internal/forge"
	"matrixci/internal/storage/models"
	"matrixci/internal/workflow"
)

// Engine evaluates triggering events against the loaded workflows and
// dispatches runs
type Engine interface {
	// EvaluatePullRequest matches the event's changed paths against every
	// workflow's pull request trigger and dispatches one run per matching
	// workflow. A pull request that matches nothing is not an error: it
	// returns an empty slice.
	EvaluatePullRequest(ctx context.Context, event *forge.PullRequestEvent) ([]*models.Run, error)

	// DispatchScheduled starts a scheduled run of the workflow
	DispatchScheduled(wf *workflow.Workflow) (*models.Run, error)

	// Workflows returns the loaded workflow definitions
	Workflows() []*workflow.Workflow
}
