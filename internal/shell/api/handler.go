// Package api exposes the diagnostic engine over HTTP: the synchronous
// action endpoint, the polling and streaming reads, and the WebSocket
// channel.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dockfra/dockfra/internal/core/domain"
	"github.com/dockfra/dockfra/internal/engine"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the engine API.
type Handler struct {
	engine      *engine.DiagnosticEngine
	broadcaster *Broadcaster
	hub         *Hub
	logger      *slog.Logger
}

// NewHandler wires the handler to a running engine.
func NewHandler(e *engine.DiagnosticEngine, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	h := &Handler{
		engine:      e,
		broadcaster: NewBroadcaster(e.Bus(), l),
		hub:         NewHub(e, l),
		logger:      l.With("component", "api"),
	}
	return h
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleLiveness)
	r.Get("/ws", h.hub.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/action", h.handleAction)
		r.Get("/events/since/{id}", h.handleEventsSince)
		r.Get("/stream", h.handleStream)
		r.Get("/logs/tail", h.handleLogsTail)
		r.Get("/health", h.handleHealth)
		r.Get("/containers", h.handleContainers)
	})

	return r
}

func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// =============================================================================
// Actions
// =============================================================================

// handleAction runs one action synchronously. Every event emitted during
// the call is gathered by a request-local collector and echoed in the
// response; the same events have already fanned out to live clients.
func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		h.writeError(w, http.StatusBadRequest, "action is required", "validation_error")
		return
	}

	collector := engine.NewCollector()
	ctx := engine.WithCollector(r.Context(), collector)

	src := r.URL.Query().Get("src")
	if src == "" {
		src = domain.SrcCLI
	}

	h.engine.Dispatch(ctx, req.Action, req.Form, src)

	result := collector.Drain()
	if result == nil {
		result = []domain.Event{}
	}
	h.writeJSON(w, http.StatusOK, ActionResponse{OK: true, Result: result})
}

// =============================================================================
// Reads
// =============================================================================

func (h *Handler) handleEventsSince(w http.ResponseWriter, r *http.Request) {
	sinceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || sinceID < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid since id", "validation_error")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid limit", "validation_error")
			return
		}
	}

	events, err := h.engine.Bus().QueryEvents(
		sinceID, limit,
		r.URL.Query().Get("type"),
		r.URL.Query().Get("src"),
	)
	if err != nil {
		h.logger.Error("event query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "event query failed", "internal_error")
		return
	}
	if events == nil {
		events = []domain.Event{}
	}

	h.writeJSON(w, http.StatusOK, EventsResponse{
		Events: events,
		MaxID:  h.engine.Bus().QueryMaxID(),
	})
}

func (h *Handler) handleLogsTail(w http.ResponseWriter, r *http.Request) {
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		var err error
		n, err = strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid n", "validation_error")
			return
		}
	}

	buffer := h.engine.Buffer()
	lines := buffer.Tail(n)
	if lines == nil {
		lines = []engine.LogEntry{}
	}
	h.writeJSON(w, http.StatusOK, LogsResponse{Lines: lines, Total: buffer.Len()})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.HealthScan(r.Context())
	if err != nil {
		h.writeJSON(w, http.StatusOK, map[string]any{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleContainers(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.HealthScan(r.Context())
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error(), "runtime_unavailable")
		return
	}

	out := make([]ContainerResponse, 0, len(report.Containers))
	for _, c := range report.Containers {
		out = append(out, ContainerResponse{
			Name:   c.Name,
			Status: string(c.Status),
			Ports:  c.Ports,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
