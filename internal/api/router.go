package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/openhandy-bridge/internal/audit"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/hub", s.handleHubStats)
		r.Get("/actions", s.handleListActions)
		r.Get("/ws", s.handleWebSocket)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, ErrCodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, ErrCodeMethodNotAllow, "method not allowed")
	})

	return r
}

// handleHealth runs the component checks and reports each one as "ok" or
// its error text. Any failure turns the overall status to "degraded" with
// a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "version": s.version}
	code := http.StatusOK

	if len(s.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		components := make(map[string]string, len(s.checks))
		for name, c := range s.checks {
			if err := c.HealthCheck(ctx); err != nil {
				components[name] = err.Error()
				body["status"] = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			components[name] = "ok"
		}
		body["components"] = components
	}

	writeJSON(w, code, body)
}

// handleStatus returns the bridge snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Snapshot())
}

// handleHubStats returns hub connection counters.
func (s *Server) handleHubStats(w http.ResponseWriter, r *http.Request) {
	if s.hubStats == nil {
		writeError(w, r, ErrCodeNotFound, "hub statistics not available")
		return
	}
	writeJSON(w, http.StatusOK, s.hubStats.Stats())
}

// handleListActions returns the action history, newest first.
//
// Query parameters: limit (default 50, max 200), offset, action, session_id.
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, ok := intParam(q.Get("limit"))
	if !ok {
		writeError(w, r, ErrCodeBadRequest, "limit must be an integer")
		return
	}
	offset, ok := intParam(q.Get("offset"))
	if !ok {
		writeError(w, r, ErrCodeBadRequest, "offset must be an integer")
		return
	}

	filter := audit.Filter{
		Action:    q.Get("action"),
		SessionID: q.Get("session_id"),
		Limit:     limit,
		Offset:    offset,
	}

	if s.history == nil {
		writeJSON(w, http.StatusOK, &audit.ListResult{
			Actions: []audit.ActionLog{},
			Limit:   audit.ClampLimit(limit),
			Offset:  max(offset, 0),
		})
		return
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing action history failed", "error", err)
		writeError(w, r, ErrCodeInternal, "failed to list actions")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// intParam parses an optional integer query value; empty yields 0.
func intParam(v string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
