package handlers

import (
	"errors"
	"io"
	"net/http"

	"matrixci/internal/engine"
	"matrixci/internal/forge"
	"matrixci/internal/logger"

	"github.com/google/go-github/v68/github"
)

// EventsHandler handles incoming forge events
type EventsHandler struct {
	engine        engine.Engine
	webhookSecret string
}

// NewEventsHandler creates a new EventsHandler instance. A non-empty
// webhookSecret turns on HMAC verification of incoming payloads.
func NewEventsHandler(eng engine.Engine, webhookSecret string) *EventsHandler {
	return &EventsHandler{
		engine:        eng,
		webhookSecret: webhookSecret,
	}
}

// runRef is the caller-facing summary of a dispatched run
type runRef struct {
	ID       string `json:"id"`
	Workflow string `json:"workflow"`
	Status   string `json:"status"`
}

// HandlePullRequest handles the POST /api/v1/events/pull_request request
func (h *EventsHandler) HandlePullRequest(w http.ResponseWriter, r *http.Request) {
	// Read the payload, verifying the forge signature when a webhook
	// secret is configured
	var (
		payload []byte
		err     error
	)
	if h.webhookSecret != "" {
		payload, err = github.ValidatePayload(r, []byte(h.webhookSecret))
		if err != nil {
			logger.Warn("Webhook signature verification failed", "error", err, "ip", r.RemoteAddr)
			writeErrorWithRequestID(w, r, http.StatusUnauthorized, "Invalid webhook signature")
			return
		}
	} else {
		payload, err = io.ReadAll(r.Body)
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeErrorWithRequestID(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			logger.Error("Failed to read request body", "error", err)
			writeErrorWithRequestID(w, r, http.StatusBadRequest, "Failed to read request body")
			return
		}
	}

	// Forge webhooks label their event type; requests without a label come
	// from direct API clients and are treated as pull request events
	switch eventType := r.Header.Get("X-GitHub-Event"); eventType {
	case "", "pull_request":
	case "ping":
		writeJSON(w, http.StatusOK, map[string]interface{}{"message": "pong"})
		return
	default:
		logger.Debug("Ignoring event", "event", eventType)
		writeJSON(w, http.StatusOK, map[string]interface{}{"message": "ignored", "event": eventType})
		return
	}

	// Parse and validate the event
	event, err := forge.ParsePullRequestEvent(payload)
	if err != nil {
		logger.Error("Failed to parse event payload", "error", err)
		writeErrorWithRequestID(w, r, http.StatusBadRequest, "Invalid event payload")
		return
	}
	if err := event.Validate(); err != nil {
		writeErrorWithRequestID(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Actions that do not change the head commit are acknowledged as no-ops
	if !event.Triggers() {
		writeJSON(w, http.StatusOK, map[string]interface{}{"message": "ignored", "action": event.Action})
		return
	}

	// Evaluate the event against the loaded workflows
	runs, err := h.engine.EvaluatePullRequest(r.Context(), event)
	if err != nil {
		logger.Error("Failed to evaluate pull request event",
			"error", err,
			"repo", event.Repository.FullName,
			"pr", event.Number)
		if len(runs) == 0 {
			writeErrorWithRequestID(w, r, http.StatusBadGateway, "Failed to evaluate event")
			return
		}
		// Some runs were dispatched before the failure; report those
	}

	refs := make([]runRef, 0, len(runs))
	for _, run := range runs {
		refs = append(refs, runRef{ID: run.ID, Workflow: run.Workflow, Status: string(run.Status)})
	}

	// A pull request that matches nothing is accepted and recorded as a
	// no-op, not an error
	message := "runs dispatched"
	if len(refs) == 0 {
		message = "no workflows matched"
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": message,
		"runs":    refs,
	})
}
