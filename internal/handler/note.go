package handler

import (
	"log/slog"
	"net/http"

	annotationsSvc "marginalia/internal/domain/services/annotations"
	notesSvc "marginalia/internal/domain/services/notes"
	"marginalia/internal/httputil"
)

// NoteHandler handles note HTTP requests
type NoteHandler struct {
	notes       notesSvc.Service
	annotations annotationsSvc.Service
	logger      *slog.Logger
}

// NewNoteHandler creates a new note handler
func NewNoteHandler(notes notesSvc.Service, annotations annotationsSvc.Service, logger *slog.Logger) *NoteHandler {
	return &NoteHandler{
		notes:       notes,
		annotations: annotations,
		logger:      logger,
	}
}

// CreateNote creates a new note
// POST /api/notes
func (h *NoteHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req notesSvc.CreateNoteRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.OwnerID = userID

	n, err := h.notes.Create(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, n)
}

// GetNote retrieves a note
// GET /api/notes/{id}
func (h *NoteHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	n, err := h.notes.Get(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, n)
}

// ListNotes lists the caller's notes without content
// GET /api/notes
func (h *NoteHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	list, err := h.notes.List(r.Context(), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"notes": list,
		"total": len(list),
	})
}

// SyncContent ingests an edited note body, shifting anchors to match.
// The response carries the note's annotations with their updated offsets
// and staleness so the editor can re-render highlights immediately.
// PUT /api/notes/{id}/content
func (h *NoteHandler) SyncContent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req annotationsSvc.SyncEditRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ResourceID = r.PathValue("id")
	req.OwnerID = userID

	anns, err := h.annotations.SyncEdit(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"annotations": anns,
	})
}

// FlushAnchors forces debounced anchor writes out, for editor teardown
// POST /api/sync/flush
func (h *NoteHandler) FlushAnchors(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	if err := h.annotations.Flush(r.Context()); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck is a simple health check endpoint
// GET /health
func (h *NoteHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
