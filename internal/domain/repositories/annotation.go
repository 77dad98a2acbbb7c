package repositories

import (
	"context"

	"marginalia/internal/domain/models"
)

// AnnotationUpdate carries the fields a partial annotation update may touch.
// Nil pointers mean "leave unchanged".
type AnnotationUpdate struct {
	Body               *string
	Status             *models.AnnotationStatus
	StartOffset        *int
	EndOffset          *int
	QuotedText         *string
	IsStale            *bool
	OriginalQuotedText *string
	ResolvedAt         *bool // true sets resolved_at to now, false clears it
}

// AnnotationRepository is the store boundary for annotation records.
// All operations are scoped by owner.
type AnnotationRepository interface {
	// Create inserts a root annotation.
	Create(ctx context.Context, a *models.Annotation) error

	// CreateReply inserts a reply conditionally: the insert only succeeds if
	// expectedTailID is still the chain tail (no reply already points past
	// it). Returns domain.ErrConflict when another writer won the tail.
	CreateReply(ctx context.Context, a *models.Annotation, expectedTailID string) error

	// GetByID retrieves an annotation.
	GetByID(ctx context.Context, id, ownerID string) (*models.Annotation, error)

	// ListByResource lists annotations for a note, optionally filtered by
	// status, ordered by creation time then id.
	ListByResource(ctx context.Context, resourceID, ownerID string, status *models.AnnotationStatus) ([]*models.Annotation, error)

	// ListReplies lists the replies of a thread root.
	ListReplies(ctx context.Context, rootID, ownerID string) ([]*models.Annotation, error)

	// Update applies a partial update.
	Update(ctx context.Context, id, ownerID string, upd *AnnotationUpdate) (*models.Annotation, error)

	// UpdateAnchor persists recomputed anchor fields for one annotation.
	UpdateAnchor(ctx context.Context, a *models.Annotation) error

	// UpdateThreadPrev repoints a reply's chain predecessor (chain repair
	// after a reply deletion).
	UpdateThreadPrev(ctx context.Context, id, ownerID, prevID string) error

	// Delete removes a single annotation.
	Delete(ctx context.Context, id, ownerID string) error

	// DeleteThread removes a root and all of its replies.
	DeleteThread(ctx context.Context, rootID, ownerID string) error
}
