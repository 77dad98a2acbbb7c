package handler

import (
	"log/slog"
	"net/http"

	"marginalia/internal/domain/repositories"
	"marginalia/internal/httputil"
	"marginalia/internal/service/suggest"
)

// SuggestHandler handles suggestion run and processing log HTTP requests
type SuggestHandler struct {
	runner *suggest.Runner
	logs   repositories.ProcessingLogRepository
	logger *slog.Logger
}

// NewSuggestHandler creates a new suggestion handler
func NewSuggestHandler(runner *suggest.Runner, logs repositories.ProcessingLogRepository, logger *slog.Logger) *SuggestHandler {
	return &SuggestHandler{
		runner: runner,
		logs:   logs,
		logger: logger,
	}
}

// RunSuggestions executes one suggestion run against a note
// POST /api/notes/{id}/suggestions
func (h *SuggestHandler) RunSuggestions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req suggest.RunRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ResourceID = r.PathValue("id")
	req.OwnerID = userID

	summary, err := h.runner.Run(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, summary)
}

// ListProcessingLogs lists the suggestion run history for a note
// GET /api/notes/{id}/processing-logs
func (h *SuggestHandler) ListProcessingLogs(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	logs, err := h.logs.ListByResource(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"total": len(logs),
	})
}

// GetProcessingLog retrieves one run's audit record
// GET /api/processing-logs/{id}
func (h *SuggestHandler) GetProcessingLog(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	l, err := h.logs.GetByID(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, l)
}
