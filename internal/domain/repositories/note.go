package repositories

import (
	"context"

	"marginalia/internal/domain/models"
)

// NoteRepository is the document-store boundary. The annotation engine only
// reads notes; UpdateContent exists for the editor-facing sync route.
type NoteRepository interface {
	// GetByID retrieves a note by id, scoped to its owner.
	GetByID(ctx context.Context, id, ownerID string) (*models.Note, error)

	// Create inserts a note.
	Create(ctx context.Context, n *models.Note) error

	// UpdateContent replaces a note's content.
	UpdateContent(ctx context.Context, id, ownerID, content string, wordCount int) error

	// ListByOwner lists note metadata (no content) for an owner.
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Note, error)
}
