// Package runner executes runs: for each triggering event it fans one job
// per environment out, runs every job's step pipeline in an isolated
// workspace, and records one terminal result per environment. Jobs of a run
// are independent: no ordering, no communication, and no shared fate.
package runner

import (
	"context"
	"sync"
	"time"

	"matrixci/internal/config"
	"matrixci/internal/forge"
	"matrixci/internal/logger"
	"matrixci/internal/storage"
	"matrixci/internal/storage/models"
	"matrixci/internal/stream"
	"matrixci/internal/workflow"

	"github.com/google/uuid"
)

// RunSpec describes one triggering event.
type RunSpec struct {
	Workflow *workflow.Workflow
	Trigger  string // models.TriggerPullRequest, TriggerSchedule or TriggerManual

	// Pull request coordinates; zero values for schedule and manual runs
	Repo     forge.Repo
	PRNumber int
	HeadSHA  string
	HeadRef  string
	CloneURL string
}

// repoLabel is what the run records as its repository.
func (s RunSpec) repoLabel() string {
	if s.Repo.Owner != "" || s.Repo.Name != "" {
		return s.Repo.String()
	}
	if s.Workflow.Repo != nil {
		return s.Workflow.Repo.CloneURL
	}
	return ""
}

// Source describes where a job's working tree comes from.
type Source struct {
	// Remote mode: checkout steps fetch CloneURL at SHA (or Ref when SHA is
	// empty) into the job workspace
	CloneURL string
	SHA      string
	Ref      string

	// Local mode: LocalDir is the working tree and checkout steps are
	// skipped
	LocalDir string
}

// Runner executes runs. The service path (Dispatch) persists runs and
// reports statuses; the local path (RunLocal) only executes.
type Runner struct {
	cfg      config.RunnerConfig
	sink     stream.Sink
	reporter *Reporter

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	sem     chan struct{} // nil means unbounded
}

// New creates a runner. sink may be nil; reporter may be nil to disable
// status reporting.
func New(cfg config.RunnerConfig, sink stream.Sink, reporter *Reporter) *Runner {
	if sink == nil {
		sink = stream.NopSink{}
	}

	var sem chan struct{}
	if cfg.MaxConcurrent > 0 {
		sem = make(chan struct{}, cfg.MaxConcurrent)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:      cfg,
		sink:     sink,
		reporter: reporter,
		baseCtx:  ctx,
		cancel:   cancel,
		sem:      sem,
	}
}

// Dispatch persists a new run for the spec and executes it in the
// background. The returned run is pending; progress lands in storage and on
// the stream.
func (r *Runner) Dispatch(spec RunSpec) (*models.Run, error) {
	run := models.Run{
		ID:        uuid.NewString(),
		Workflow:  spec.Workflow.Name,
		Repo:      spec.repoLabel(),
		PRNumber:  spec.PRNumber,
		HeadSHA:   spec.HeadSHA,
		HeadRef:   spec.HeadRef,
		Trigger:   spec.Trigger,
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
	}
	for _, env := range spec.Workflow.Environments {
		run.Jobs = append(run.Jobs, models.Job{
			ID:          uuid.NewString(),
			RunID:       run.ID,
			Environment: env.Name,
			Status:      models.StatusPending,
		})
	}

	if err := storage.CreateRun(run); err != nil {
		return nil, err
	}

	r.sink.Publish(stream.Event{
		Type:      stream.EventRunCreated,
		RunID:     run.ID,
		Status:    string(run.Status),
		Timestamp: run.CreatedAt,
	})
	logger.Info("Run dispatched",
		"run_id", run.ID,
		"workflow", run.Workflow,
		"trigger", run.Trigger,
		"repo", run.Repo,
		"jobs", len(run.Jobs))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.executeRun(run, spec)
	}()

	return &run, nil
}

// executeRun drives one dispatched run to completion.
func (r *Runner) executeRun(run models.Run, spec RunSpec) {
	if err := storage.MarkRunStarted(run.ID); err != nil {
		logger.Error("Failed to mark run started", "error", err, "run_id", run.ID)
	}

	source := Source{
		CloneURL: spec.CloneURL,
		SHA:      spec.HeadSHA,
		Ref:      spec.HeadRef,
	}
	if spec.CloneURL == "" && spec.Workflow.Repo != nil {
		source.CloneURL = spec.Workflow.Repo.CloneURL
		source.Ref = spec.Workflow.Repo.Ref
	}

	jobs := r.executeMatrix(r.baseCtx, spec.Workflow, source, run.Jobs, serviceHooks{runner: r, spec: spec})

	status := models.DeriveRunStatus(jobs)
	finishedAt := time.Now()
	if err := storage.MarkRunFinished(run.ID, status, finishedAt); err != nil {
		logger.Error("Failed to mark run finished", "error", err, "run_id", run.ID)
	}

	r.sink.Publish(stream.Event{
		Type:      stream.EventRunFinished,
		RunID:     run.ID,
		Status:    string(status),
		Timestamp: finishedAt,
	})
	logger.Info("Run finished", "run_id", run.ID, "workflow", run.Workflow, "status", string(status))
}

// RunLocal executes the workflow's matrix against a local working tree,
// without persistence or status reporting. Checkout steps are skipped; the
// tree is already there.
func (r *Runner) RunLocal(ctx context.Context, wf *workflow.Workflow, dir string) []models.Job {
	runID := uuid.NewString()
	jobs := make([]models.Job, 0, len(wf.Environments))
	for _, env := range wf.Environments {
		jobs = append(jobs, models.Job{
			ID:          uuid.NewString(),
			RunID:       runID,
			Environment: env.Name,
			Status:      models.StatusPending,
		})
	}

	return r.executeMatrix(ctx, wf, Source{LocalDir: dir}, jobs, nopHooks{})
}

// executeMatrix runs one job per environment and waits for all of them.
// jobs must be index-aligned with wf.Environments. Each job runs in its own
// goroutine with its own context: a failing or hanging job never cancels a
// sibling.
func (r *Runner) executeMatrix(ctx context.Context, wf *workflow.Workflow, source Source, jobs []models.Job, hooks jobHooks) []models.Job {
	results := make([]models.Job, len(jobs))

	var wg sync.WaitGroup
	for i := range jobs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			if r.sem != nil {
				select {
				case r.sem <- struct{}{}:
					defer func() { <-r.sem }()
				case <-ctx.Done():
					// Shutdown while queued: record the job as failed
					// rather than leaving it pending forever
					results[i] = r.abortQueued(jobs[i], hooks)
					return
				}
			}

			results[i] = r.executeJob(ctx, wf, wf.Environments[i], source, jobs[i], hooks)
		}(i)
	}
	wg.Wait()

	return results
}

// abortQueued finalizes a job that never got to run.
func (r *Runner) abortQueued(job models.Job, hooks jobHooks) models.Job {
	now := time.Now()
	job.Status = models.StatusFailure
	job.Error = "job aborted before execution"
	job.StartedAt = &now
	job.FinishedAt = &now
	hooks.finished(job)
	return job
}

// Shutdown stops accepting work, cancels running jobs, and waits for
// in-flight runs to finalize or the context to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// jobHooks observes job transitions; the service path persists and reports,
// the local path does nothing.
type jobHooks interface {
	started(job models.Job)
	finished(job models.Job)
}

type nopHooks struct{}

func (nopHooks) started(models.Job)  {}
func (nopHooks) finished(models.Job) {}

// serviceHooks persists job transitions and posts commit statuses.
type serviceHooks struct {
	runner *Runner
	spec   RunSpec
}

func (h serviceHooks) started(job models.Job) {
	if err := storage.MarkJobStarted(job.ID, *job.StartedAt); err != nil {
		logger.Error("Failed to mark job started", "error", err, "job_id", job.ID)
	}
	h.runner.reporter.JobStarted(h.spec, job)
}

func (h serviceHooks) finished(job models.Job) {
	if err := storage.MarkJobFinished(job); err != nil {
		logger.Error("Failed to mark job finished", "error", err, "job_id", job.ID)
	}
	h.runner.reporter.JobFinished(h.spec, job)
}
