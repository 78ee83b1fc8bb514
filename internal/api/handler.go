package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-memory/internal/config"
	"github.com/nidhogg/nuka-memory/internal/history"
	"github.com/nidhogg/nuka-memory/internal/memory"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	mem    *memory.Memory
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(mem *memory.Memory, logger *zap.Logger) *Handler {
	return &Handler{mem: mem, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(instrument)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/config/validate", h.validateConfig)

		r.Post("/memories", h.addMemories)
		r.Get("/memories", h.listMemories)
		r.Delete("/memories", h.deleteAllMemories)
		r.Post("/memories/search", h.searchMemories)
		r.Get("/memories/{id}", h.getMemory)
		r.Put("/memories/{id}", h.updateMemory)
		r.Delete("/memories/{id}", h.deleteMemory)
		r.Get("/memories/{id}/history", h.memoryHistory)

		r.Post("/reset", h.reset)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type validateResponse struct {
	Valid  bool                `json:"valid"`
	Errors []config.FieldError `json:"errors,omitempty"`
}

// validateConfig checks a memory config document without constructing providers.
func (h *Handler) validateConfig(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	// Malformed JSON is reported as a field error at "$".
	if _, err := config.ParseJSON(data); err != nil {
		var ve *config.ValidationError
		if !errors.As(err, &ve) {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, validateResponse{Valid: false, Errors: ve.Fields})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: true})
}

type addRequest struct {
	Messages []memory.Message `json:"messages"`
	memory.AddOptions
}

func (h *Handler) addMemories(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "messages is required"})
		return
	}
	res, err := h.mem.Add(r.Context(), req.Messages, req.AddOptions)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type searchRequest struct {
	Query   string               `json:"query"`
	Filters memory.SearchFilters `json:"filters"`
	UserID  string               `json:"userId"`
	AgentID string               `json:"agentId"`
	RunID   string               `json:"runId"`
	Limit   int                  `json:"limit"`
}

func (h *Handler) searchMemories(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	filters := req.Filters
	if filters == nil {
		filters = memory.SearchFilters{}
	}
	setScope(filters, req.UserID, req.AgentID, req.RunID)

	res, err := h.mem.Search(r.Context(), req.Query, memory.SearchOptions{Filters: filters, Limit: req.Limit})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listMemories(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	res, err := h.mem.GetAll(r.Context(), queryFilters(r), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) deleteAllMemories(w http.ResponseWriter, r *http.Request) {
	n, err := h.mem.DeleteAll(r.Context(), queryFilters(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	item, err := h.mem.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type updateRequest struct {
	Memory string `json:"memory"`
}

func (h *Handler) updateMemory(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Memory == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "memory is required"})
		return
	}
	item, err := h.mem.Update(r.Context(), chi.URLParam(r, "id"), req.Memory)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) deleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := h.mem.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) memoryHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.mem.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.mem.Reset(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// writeError maps facade errors to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, memory.ErrMissingScope), errors.Is(err, memory.ErrUnsupportedContent):
		status = http.StatusBadRequest
	case errors.Is(err, memory.ErrNotFound):
		status = http.StatusNotFound
	default:
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryFilters(r *http.Request) memory.SearchFilters {
	q := r.URL.Query()
	f := memory.SearchFilters{}
	setScope(f, q.Get("userId"), q.Get("agentId"), q.Get("runId"))
	return f
}

func setScope(f memory.SearchFilters, userID, agentID, runID string) {
	if userID != "" {
		f["userId"] = userID
	}
	if agentID != "" {
		f["agentId"] = agentID
	}
	if runID != "" {
		f["runId"] = runID
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
