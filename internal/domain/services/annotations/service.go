package annotations

import (
	"context"

	"marginalia/internal/domain/models"
	"marginalia/internal/thread"
)

// Service defines the annotation operations exposed to handlers: thread
// CRUD, resolution, and the live-edit sync path that keeps anchors aligned
// with the note text.
type Service interface {
	// CreateRoot creates a root annotation, verifying any anchor against
	// the note's current plain-text content.
	CreateRoot(ctx context.Context, req *CreateRootRequest) (*models.Annotation, error)

	// CreateReply appends a reply to a thread, chaining onto the current tail.
	CreateReply(ctx context.Context, req *CreateReplyRequest) (*models.Annotation, error)

	// GetThread returns a root with its replies in display order.
	GetThread(ctx context.Context, rootID, ownerID string) (*thread.Thread, error)

	// ListThreads returns all threads on a note, optionally filtered by status.
	ListThreads(ctx context.Context, resourceID, ownerID string, status *models.AnnotationStatus) ([]*thread.Thread, error)

	// Resolve marks an annotation resolved; Reopen clears resolution.
	Resolve(ctx context.Context, id, ownerID string) (*models.Annotation, error)
	Reopen(ctx context.Context, id, ownerID string) (*models.Annotation, error)

	// DeleteReply deletes a resolved reply and repairs the chain around it.
	DeleteReply(ctx context.Context, id, ownerID string) error

	// DeleteThread deletes a root and cascades to all replies.
	DeleteThread(ctx context.Context, rootID, ownerID string) error

	// SyncEdit ingests one observed content change: persists the new
	// content, recomputes anchors and staleness synchronously for immediate
	// feedback, and queues the changed records for debounced persistence.
	SyncEdit(ctx context.Context, req *SyncEditRequest) ([]*models.Annotation, error)

	// Flush forces all debounced anchor writes out; called on session
	// teardown so no trailing edit is lost.
	Flush(ctx context.Context) error
}

// CreateRootRequest creates a root annotation. StartOffset/EndOffset are
// character offsets into the note's plain-text view; when both are set the
// annotation is anchored and QuotedText is derived from the note itself,
// never trusted from the caller.
type CreateRootRequest struct {
	ResourceID  string `json:"resource_id"`
	OwnerID     string `json:"-"`
	Body        string `json:"body"`
	StartOffset *int   `json:"start_offset,omitempty"`
	EndOffset   *int   `json:"end_offset,omitempty"`
}

// CreateReplyRequest appends a reply to the thread rooted at RootID.
type CreateReplyRequest struct {
	RootID  string `json:"-"`
	OwnerID string `json:"-"`
	Body    string `json:"body"`
}

// SyncEditRequest carries one observed edit to a note's content. Content is
// the full new markdown source; the service derives the plain-text change.
type SyncEditRequest struct {
	ResourceID string `json:"-"`
	OwnerID    string `json:"-"`
	Content    string `json:"content"`
}
