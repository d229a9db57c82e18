package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"matrixci/internal/logger"
	"matrixci/internal/storage/models"
	"matrixci/internal/stream"
	"matrixci/internal/workflow"
)

// executeJob runs one environment's step pipeline and returns the terminal
// job. Every failure mode lands the same way: a failed job with the reason
// in Error and whatever output the steps produced.
func (r *Runner) executeJob(ctx context.Context, wf *workflow.Workflow, env workflow.Environment, source Source, job models.Job, hooks jobHooks) models.Job {
	startedAt := time.Now()
	job.Status = models.StatusRunning
	job.StartedAt = &startedAt

	hooks.started(job)
	r.sink.Publish(stream.Event{
		Type:        stream.EventJobStarted,
		RunID:       job.RunID,
		JobID:       job.ID,
		Environment: job.Environment,
		Status:      string(job.Status),
		Timestamp:   startedAt,
	})
	logger.Info("Job started", "job_id", job.ID, "run_id", job.RunID, "environment", env.Name)

	if r.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.JobTimeout)*time.Second)
		defer cancel()
	}

	out := newLimitedBuffer(maxOutputBytes)
	events := newEventWriter(r.sink, job)
	sink := io.MultiWriter(out, events)

	finish := func(status models.Status, exitCode *int, errMsg string) models.Job {
		events.Flush()
		finishedAt := time.Now()
		job.Status = status
		job.ExitCode = exitCode
		job.Output = out.String()
		job.Error = errMsg
		job.FinishedAt = &finishedAt

		hooks.finished(job)
		r.sink.Publish(stream.Event{
			Type:        stream.EventJobFinished,
			RunID:       job.RunID,
			JobID:       job.ID,
			Environment: job.Environment,
			Status:      string(job.Status),
			Timestamp:   finishedAt,
		})
		logger.Info("Job finished",
			"job_id", job.ID,
			"run_id", job.RunID,
			"environment", env.Name,
			"status", string(status),
			"duration", finishedAt.Sub(startedAt).String())
		return job
	}

	// An environment pinned to another OS cannot run on this host. That is
	// a provisioning failure and it fails the job like any other failure.
	if env.OS != "" && env.OS != runtime.GOOS {
		msg := fmt.Sprintf("environment %q requires %s, host is %s", env.Name, env.OS, runtime.GOOS)
		fmt.Fprintln(sink, msg)
		return finish(models.StatusFailure, nil, msg)
	}

	// Resolve the working tree. Remote sources get a fresh workspace per
	// job so parallel environments never share state; local sources run in
	// place.
	baseDir := source.LocalDir
	if baseDir == "" {
		workspace := filepath.Join(r.cfg.Workdir, job.ID)
		if err := os.MkdirAll(workspace, 0o755); err != nil {
			msg := fmt.Sprintf("failed to create workspace: %v", err)
			fmt.Fprintln(sink, msg)
			return finish(models.StatusFailure, nil, msg)
		}
		if !r.cfg.KeepWorkspaces {
			defer os.RemoveAll(workspace)
		}
		baseDir = workspace
	}

	// Run the steps in order. The first failing step fails the job and the
	// remaining steps are skipped; there are no retries.
	baseEnv := jobEnv(wf, env, job)
	for _, step := range wf.Steps {
		fmt.Fprintf(sink, "--- %s\n", step.Name)

		var (
			exitCode int
			err      error
		)
		if step.IsCheckout() {
			if source.LocalDir != "" {
				fmt.Fprintln(sink, "using local working tree, checkout skipped")
				continue
			}
			exitCode, err = r.checkout(ctx, baseDir, source, baseEnv, sink)
		} else {
			exitCode, err = r.runStep(ctx, step, baseDir, baseEnv, sink)
		}
		if err != nil {
			msg := stepFailure(ctx, step, exitCode, err)
			fmt.Fprintln(sink, msg)
			if exitCode != 0 {
				code := exitCode
				return finish(models.StatusFailure, &code, msg)
			}
			return finish(models.StatusFailure, nil, msg)
		}
	}

	return finish(models.StatusSuccess, nil, "")
}

// stepFailure builds the one-line failure reason for a step error.
func stepFailure(ctx context.Context, step workflow.Step, exitCode int, err error) string {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return fmt.Sprintf("step %q timed out", step.Name)
	case context.Canceled:
		return fmt.Sprintf("step %q canceled", step.Name)
	}
	if exitCode != 0 {
		return fmt.Sprintf("step %q failed (exit %d)", step.Name, exitCode)
	}
	return fmt.Sprintf("step %q failed: %v", step.Name, err)
}
