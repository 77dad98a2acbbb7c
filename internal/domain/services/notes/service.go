package notes

import (
	"context"

	"marginalia/internal/domain/models"
)

// Service defines note CRUD as seen by handlers. Content updates flow
// through the annotations service's edit sync instead, so anchors are never
// bypassed.
type Service interface {
	// Create inserts a new note for the owner.
	Create(ctx context.Context, req *CreateNoteRequest) (*models.Note, error)

	// Get retrieves a note by id.
	Get(ctx context.Context, id, ownerID string) (*models.Note, error)

	// List returns the owner's notes without content.
	List(ctx context.Context, ownerID string) ([]*models.Note, error)
}

// CreateNoteRequest creates a note.
type CreateNoteRequest struct {
	OwnerID  string `json:"-"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	NoteType string `json:"note_type"`
}
