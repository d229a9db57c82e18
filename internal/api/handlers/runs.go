package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"matrixci/internal/logger"
	"matrixci/internal/storage"

	"github.com/go-chi/chi/v5"
)

// RunsHandler handles run query API requests
type RunsHandler struct{}

// NewRunsHandler creates a new RunsHandler instance
func NewRunsHandler() *RunsHandler {
	return &RunsHandler{}
}

// ListRuns handles the GET /api/v1/runs request
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	limit := 100
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	runs, err := storage.ListRuns(limit, offset)
	if err != nil {
		logger.Error("Failed to list runs", "error", err)
		writeErrorWithRequestID(w, r, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, runs)
}

// GetRun handles the GET /api/v1/runs/{id} request. The response includes
// the run's job rows, one per environment.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := storage.GetRun(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorWithRequestID(w, r, http.StatusNotFound, "Run not found")
			return
		}
		logger.Error("Failed to get run", "error", err, "run_id", id)
		writeErrorWithRequestID(w, r, http.StatusInternalServerError, "Failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, run)
}
