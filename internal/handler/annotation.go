package handler

import (
	"log/slog"
	"net/http"

	"marginalia/internal/domain/models"
	annotationsSvc "marginalia/internal/domain/services/annotations"
	"marginalia/internal/httputil"
)

// AnnotationHandler handles annotation and thread HTTP requests
type AnnotationHandler struct {
	service annotationsSvc.Service
	logger  *slog.Logger
}

// NewAnnotationHandler creates a new annotation handler
func NewAnnotationHandler(service annotationsSvc.Service, logger *slog.Logger) *AnnotationHandler {
	return &AnnotationHandler{
		service: service,
		logger:  logger,
	}
}

// CreateAnnotation creates a root annotation on a note
// POST /api/notes/{id}/annotations
func (h *AnnotationHandler) CreateAnnotation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req annotationsSvc.CreateRootRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ResourceID = r.PathValue("id")
	req.OwnerID = userID

	a, err := h.service.CreateRoot(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, a)
}

// ListThreads lists all annotation threads on a note
// GET /api/notes/{id}/annotations?status=active|resolved
func (h *AnnotationHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var status *models.AnnotationStatus
	switch q := r.URL.Query().Get("status"); q {
	case "":
	case string(models.AnnotationStatusActive), string(models.AnnotationStatusResolved):
		s := models.AnnotationStatus(q)
		status = &s
	default:
		httputil.RespondError(w, http.StatusBadRequest, "status must be active or resolved")
		return
	}

	threads, err := h.service.ListThreads(r.Context(), r.PathValue("id"), userID, status)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"threads": threads,
		"total":   len(threads),
	})
}

// GetThread retrieves one thread in display order
// GET /api/annotations/{id}/thread
func (h *AnnotationHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	th, err := h.service.GetThread(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, th)
}

// CreateReply appends a reply to a thread
// POST /api/annotations/{id}/replies
func (h *AnnotationHandler) CreateReply(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req annotationsSvc.CreateReplyRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.RootID = r.PathValue("id")
	req.OwnerID = userID

	reply, err := h.service.CreateReply(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, reply)
}

// Resolve marks an annotation resolved
// POST /api/annotations/{id}/resolve
func (h *AnnotationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	a, err := h.service.Resolve(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, a)
}

// Reopen clears an annotation's resolution
// POST /api/annotations/{id}/reopen
func (h *AnnotationHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	a, err := h.service.Reopen(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, a)
}

// DeleteReply deletes a resolved reply, repairing the chain around it
// DELETE /api/annotations/{id}
func (h *AnnotationHandler) DeleteReply(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteReply(r.Context(), r.PathValue("id"), userID); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteThread deletes a root annotation and all of its replies
// DELETE /api/annotations/{id}/thread
func (h *AnnotationHandler) DeleteThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteThread(r.Context(), r.PathValue("id"), userID); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
