package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"matrixci/internal/config"
	"matrixci/internal/forge"
	"matrixci/internal/logger"
	"matrixci/internal/storage/models"
)

// Reporter posts per-environment commit statuses back to the forge. A nil
// Reporter reports nothing. Reporting is best effort: a forge hiccup gets
// logged and never changes a job's result.
type Reporter struct {
	client    forge.Client
	prefix    string
	publicURL string
}

// NewReporter creates a reporter that posts statuses through the given
// forge client.
func NewReporter(client forge.Client, cfg config.ForgeConfig, publicURL string) *Reporter {
	return &Reporter{
		client:    client,
		prefix:    cfg.StatusContextPrefix,
		publicURL: publicURL,
	}
}

// JobStarted posts a pending status for the job's environment.
func (r *Reporter) JobStarted(spec RunSpec, job models.Job) {
	r.post(spec, job, forge.StatusPending, "Job running")
}

// JobFinished posts the job's terminal status. Every environment gets its
// own status, so one red environment never hides behind a green sibling.
func (r *Reporter) JobFinished(spec RunSpec, job models.Job) {
	if job.Status == models.StatusSuccess {
		r.post(spec, job, forge.StatusSuccess, "Job passed")
		return
	}

	description := "Job failed"
	if job.Error != "" {
		description = job.Error
	}
	r.post(spec, job, forge.StatusFailure, description)
}

func (r *Reporter) post(spec RunSpec, job models.Job, state forge.StatusState, description string) {
	if r == nil || r.client == nil {
		return
	}
	// Statuses attach to a commit; only pull request runs have one
	if spec.Trigger != models.TriggerPullRequest || spec.HeadSHA == "" {
		return
	}

	// The job's own context may already be expired by the time the final
	// status goes out, so reporting gets its own deadline
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	status := forge.Status{
		State:       state,
		Context:     fmt.Sprintf("%s/%s/%s", r.prefix, spec.Workflow.Name, job.Environment),
		Description: description,
	}
	if r.publicURL != "" {
		status.TargetURL = fmt.Sprintf("%s/api/v1/runs/%s", strings.TrimRight(r.publicURL, "/"), job.RunID)
	}

	if err := r.client.CreateStatus(ctx, spec.Repo, spec.HeadSHA, status); err != nil {
		logger.Warn("Failed to report commit status",
			"error", err,
			"repo", spec.Repo.String(),
			"sha", spec.HeadSHA,
			"context", status.Context)
	}
}
