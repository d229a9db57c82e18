// Package engine connects triggering events to the matrix runner: it decides
// which workflows fire for an event and dispatches one run per firing
// workflow.
package engine

import (
	"context"
	"errors"
	"fmt"

	"matrixci/internal/forge"
	"matrixci/internal/logger"
	"matrixci/internal/runner"
	"matrixci/internal/storage/models"
	"matrixci/internal/workflow"
)

// MatrixEngine is the Engine implementation backed by the local matrix
// runner.
type MatrixEngine struct {
	workflows []*workflow.Workflow
	runner    *runner.Runner
	forge     forge.Client // may be nil; events must then carry changed paths inline
}

// New creates an engine over the loaded workflows.
func New(workflows []*workflow.Workflow, r *runner.Runner, client forge.Client) *MatrixEngine {
	return &MatrixEngine{
		workflows: workflows,
		runner:    r,
		forge:     client,
	}
}

// EvaluatePullRequest matches the event's changed paths against every
// workflow's pull request trigger and dispatches one run per matching
// workflow. Workflows evaluate independently: one pull request can fire
// several of them, and a pull request that fires none is a logged no-op.
func (e *MatrixEngine) EvaluatePullRequest(ctx context.Context, event *forge.PullRequestEvent) ([]*models.Run, error) {
	changed, err := e.changedPaths(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve changed files: %w", err)
	}

	var (
		runs []*models.Run
		errs []error
	)
	for _, wf := range e.workflows {
		if wf.On.PullRequest == nil {
			continue
		}
		path, pattern, ok := wf.FirstMatch(changed)
		if !ok {
			continue
		}

		logger.Info("Trigger fired",
			"workflow", wf.Name,
			"repo", event.Repository.FullName,
			"pr", event.Number,
			"path", path,
			"pattern", pattern)

		run, err := e.runner.Dispatch(runner.RunSpec{
			Workflow: wf,
			Trigger:  models.TriggerPullRequest,
			Repo:     event.Repo(),
			PRNumber: event.Number,
			HeadSHA:  event.PullRequest.Head.SHA,
			HeadRef:  event.PullRequest.Head.Ref,
			CloneURL: event.Repository.CloneURL,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %q: %w", wf.Name, err))
			continue
		}
		runs = append(runs, run)
	}

	if len(runs) == 0 && len(errs) == 0 {
		logger.Info("No workflows matched",
			"repo", event.Repository.FullName,
			"pr", event.Number,
			"changed_files", len(changed))
	}

	return runs, errors.Join(errs...)
}

// changedPaths resolves the pull request's changed file list. Events may
// carry the list inline; otherwise it comes from the forge API.
func (e *MatrixEngine) changedPaths(ctx context.Context, event *forge.PullRequestEvent) ([]string, error) {
	if len(event.ChangedPaths) > 0 {
		return event.ChangedPaths, nil
	}
	if e.forge == nil {
		return nil, errors.New("event carries no changed paths and no forge client is configured")
	}
	return e.forge.ListChangedFiles(ctx, event.Repo(), event.Number)
}

// DispatchScheduled starts a scheduled run of the workflow. Scheduled runs
// skip path evaluation and status reporting; there is no pull request to
// evaluate or report against.
func (e *MatrixEngine) DispatchScheduled(wf *workflow.Workflow) (*models.Run, error) {
	return e.runner.Dispatch(runner.RunSpec{
		Workflow: wf,
		Trigger:  models.TriggerSchedule,
	})
}

// Workflows returns the loaded workflow definitions.
func (e *MatrixEngine) Workflows() []*workflow.Workflow {
	return e.workflows
}
