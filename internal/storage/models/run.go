package models

import (
	"time"
)

// Status is the lifecycle state of a run or a job.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Trigger kinds recorded on a run.
const (
	TriggerPullRequest = "pull_request"
	TriggerSchedule    = "schedule"
	TriggerManual      = "manual"
)

// Run represents one triggering event: a workflow that fired, with one job
// per environment in its matrix.
type Run struct {
	ID         string     `json:"id"`
	Workflow   string     `json:"workflow"`
	Repo       string     `json:"repo"`
	PRNumber   int        `json:"pr_number,omitempty"`
	HeadSHA    string     `json:"head_sha,omitempty"`
	HeadRef    string     `json:"head_ref,omitempty"`
	Trigger    string     `json:"trigger"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Jobs []Job `json:"jobs,omitempty"`
}

// Job is one isolated execution of the step pipeline bound to one
// environment. Jobs of the same run are independent: no ordering, no shared
// fate.
type Job struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	Environment string     `json:"environment"`
	Status      Status     `json:"status"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// DeriveRunStatus folds job statuses into the run status. The run stays
// running until every job reaches a terminal state, then it is success only
// when every job succeeded.
func DeriveRunStatus(jobs []Job) Status {
	if len(jobs) == 0 {
		return StatusPending
	}

	failed := false
	for _, job := range jobs {
		if !job.Status.Terminal() {
			return StatusRunning
		}
		if job.Status == StatusFailure {
			failed = true
		}
	}

	if failed {
		return StatusFailure
	}
	return StatusSuccess
}
