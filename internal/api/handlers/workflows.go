package handlers

import (
	"net/http"

	"matrixci/internal/engine"
)

// WorkflowsHandler reports the loaded workflow definitions
type WorkflowsHandler struct {
	engine engine.Engine
}

// NewWorkflowsHandler creates a new WorkflowsHandler instance
func NewWorkflowsHandler(eng engine.Engine) *WorkflowsHandler {
	return &WorkflowsHandler{engine: eng}
}

// workflowSummary is the API shape of a loaded workflow
type workflowSummary struct {
	Name         string   `json:"name"`
	Source       string   `json:"source,omitempty"`
	Paths        []string `json:"paths,omitempty"`
	Schedules    []string `json:"schedules,omitempty"`
	Environments []string `json:"environments"`
}

// ListWorkflows handles the GET /api/v1/workflows request
func (h *WorkflowsHandler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows := h.engine.Workflows()

	summaries := make([]workflowSummary, 0, len(workflows))
	for _, wf := range workflows {
		summary := workflowSummary{
			Name:      wf.Name,
			Source:    wf.Source(),
			Schedules: wf.Schedules(),
		}
		if wf.On.PullRequest != nil {
			summary.Paths = wf.On.PullRequest.Paths
		}
		for _, env := range wf.Environments {
			summary.Environments = append(summary.Environments, env.Name)
		}
		summaries = append(summaries, summary)
	}

	writeJSON(w, http.StatusOK, summaries)
}
