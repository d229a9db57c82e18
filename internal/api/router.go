package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"matrixci/internal/api/handlers"
	"matrixci/internal/api/middleware"
	"matrixci/internal/config"
	"matrixci/internal/engine"
	"matrixci/internal/logger"
	"matrixci/internal/storage"
	"matrixci/internal/stream"

	"github.com/go-chi/chi/v5"
)

// Router represents the API router
type Router struct {
	mux            *chi.Mux
	allowedOrigins []string
}

// NewRouter creates a new Router instance
func NewRouter(cfg *config.Config, eng engine.Engine, hub *stream.Hub) *Router {
	router := &Router{
		allowedOrigins: cfg.Server.AllowedOrigins,
	}

	// Create handlers
	eventsHandler := handlers.NewEventsHandler(eng, cfg.Forge.WebhookSecret)
	runsHandler := handlers.NewRunsHandler()
	workflowsHandler := handlers.NewWorkflowsHandler(eng)
	streamHandler := handlers.NewStreamHandler(hub)

	// Create middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.API)

	mux := chi.NewRouter()
	mux.Use(middleware.RequestIDMiddleware)
	mux.Use(middleware.LimitBodySize(cfg.Server.MaxBodySize))
	mux.Use(router.corsMiddleware)

	// Public routes
	// Root path handler
	mux.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"message": "matrixci API",
			"endpoints": []string{
				"/health - Health check",
				"/api/v1/events/pull_request - Submit a pull request event",
				"/api/v1/workflows - List loaded workflows",
				"/api/v1/runs - List runs",
				"/api/v1/runs/{id} - Get a run with its jobs",
				"/api/v1/runs/{id}/events - Subscribe to run events (websocket)",
			},
		}); err != nil {
			logger.Error("Failed to encode response", "error", err)
		}
	})

	// Health check
	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		// Check database connection
		if err := storage.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			if encodeErr := json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "unhealthy",
				"error":  "database connection failed",
			}); encodeErr != nil {
				logger.Error("Failed to encode health check error", "error", encodeErr)
			}
			return
		}

		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "healthy",
		}); err != nil {
			logger.Error("Failed to encode health check response", "error", err)
		}
	})

	mux.Route("/api/v1", func(api chi.Router) {
		// The webhook authenticates by payload signature when a secret is
		// configured and falls back to API key auth otherwise
		if cfg.Forge.WebhookSecret != "" {
			api.Post("/events/pull_request", eventsHandler.HandlePullRequest)
		} else {
			api.With(authMiddleware.Middleware).Post("/events/pull_request", eventsHandler.HandlePullRequest)
		}

		// Query routes
		api.Group(func(protected chi.Router) {
			protected.Use(authMiddleware.Middleware)
			protected.Get("/workflows", workflowsHandler.ListWorkflows)
			protected.Get("/runs", runsHandler.ListRuns)
			protected.Get("/runs/{id}", runsHandler.GetRun)
			protected.Get("/runs/{id}/events", streamHandler.SubscribeRun)
		})
	})

	router.mux = mux
	return router
}

// ServeHTTP implements the http.Handler interface
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// corsMiddleware handles CORS headers and preflight requests
func (r *Router) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")

		// Handle CORS based on configuration
		if len(r.allowedOrigins) == 0 {
			// Empty allowed origins means allow all
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			if !r.isValidOrigin(origin) {
				// Invalid origin format: no CORS headers, but the request
				// itself still proceeds
				logger.Warn("Invalid origin format", "origin", origin, "request_id", middleware.GetRequestID(req))
			} else if r.isOriginAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else {
				logger.Warn("Origin not allowed", "origin", origin, "request_id", middleware.GetRequestID(req))
			}
		}
		// An empty origin is a same-origin request and needs no CORS headers

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle OPTIONS requests for CORS preflight
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		// Call the next handler
		next.ServeHTTP(w, req)
	})
}

// isValidOrigin validates the origin format (must be http:// or https://)
func (r *Router) isValidOrigin(origin string) bool {
	return strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://")
}

// isOriginAllowed checks if the given origin is in the allowed list
func (r *Router) isOriginAllowed(origin string) bool {
	for _, allowed := range r.allowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}
