package handlers

import (
	"errors"
	"net/http"

	"matrixci/internal/logger"
	"matrixci/internal/storage"
	"matrixci/internal/stream"

	"github.com/go-chi/chi/v5"
)

// StreamHandler upgrades run event subscriptions to websockets
type StreamHandler struct {
	hub *stream.Hub
}

// NewStreamHandler creates a new StreamHandler instance
func NewStreamHandler(hub *stream.Hub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// SubscribeRun handles the GET /api/v1/runs/{id}/events request. The
// connection receives the run's events as they happen; it does not replay
// events from before the subscription.
func (h *StreamHandler) SubscribeRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Refuse subscriptions to unknown runs before upgrading
	if _, err := storage.GetRun(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorWithRequestID(w, r, http.StatusNotFound, "Run not found")
			return
		}
		logger.Error("Failed to look up run", "error", err, "run_id", id)
		writeErrorWithRequestID(w, r, http.StatusInternalServerError, "Failed to look up run")
		return
	}

	if err := stream.Subscribe(h.hub, id, w, r); err != nil {
		// The upgrader already wrote an HTTP error to the client
		logger.Warn("Websocket upgrade failed", "error", err, "run_id", id)
	}
}
