package annotations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"marginalia/internal/anchor"
	"marginalia/internal/config"
	"marginalia/internal/domain"
	"marginalia/internal/domain/models"
	"marginalia/internal/domain/repositories"
	annotationsSvc "marginalia/internal/domain/services/annotations"
	"marginalia/internal/thread"
	"marginalia/internal/utils"
)

// annotationService implements the annotations Service interface
type annotationService struct {
	annRepo   repositories.AnnotationRepository
	noteRepo  repositories.NoteRepository
	txManager repositories.TransactionManager
	writer    *DebouncedWriter
	logger    *slog.Logger
}

// NewService creates a new annotation service. The writer coalesces
// edit-driven anchor updates; pass nil to persist synchronously.
func NewService(
	annRepo repositories.AnnotationRepository,
	noteRepo repositories.NoteRepository,
	txManager repositories.TransactionManager,
	writer *DebouncedWriter,
	logger *slog.Logger,
) annotationsSvc.Service {
	return &annotationService{
		annRepo:   annRepo,
		noteRepo:  noteRepo,
		txManager: txManager,
		writer:    writer,
		logger:    logger,
	}
}

// CreateRoot creates a root annotation, anchored or general.
func (s *annotationService) CreateRoot(ctx context.Context, req *annotationsSvc.CreateRootRequest) (*models.Annotation, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.ResourceID, validation.Required),
		validation.Field(&req.Body, validation.Required, validation.Length(1, config.MaxAnnotationBodyLength)),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if (req.StartOffset == nil) != (req.EndOffset == nil) {
		return nil, fmt.Errorf("%w: start and end offsets must be set together", domain.ErrValidation)
	}

	a := &models.Annotation{
		ResourceID: req.ResourceID,
		OwnerID:    req.OwnerID,
		Kind:       models.AnnotationKindGeneral,
		Status:     models.AnnotationStatusActive,
		Body:       req.Body,
	}

	if req.StartOffset != nil {
		note, err := s.noteRepo.GetByID(ctx, req.ResourceID, req.OwnerID)
		if err != nil {
			return nil, err
		}
		text := utils.PlainText(note.Content)
		start, end := *req.StartOffset, *req.EndOffset
		if start < 0 || end > len(text) || end-start < 1 {
			return nil, fmt.Errorf("%w: anchor range [%d,%d) is outside the note text", domain.ErrValidation, start, end)
		}
		// The quote always comes from the note itself.
		quoted := text[start:end]
		a.Kind = models.AnnotationKindAnchored
		a.StartOffset = &start
		a.EndOffset = &end
		a.QuotedText = &quoted
	}

	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := s.annRepo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// CreateReply appends a reply to a thread. Tail resolution and insert are a
// single conditional write; if a concurrent reply wins the tail, the append
// is retried once against the new tail.
func (s *annotationService) CreateReply(ctx context.Context, req *annotationsSvc.CreateReplyRequest) (*models.Annotation, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Body, validation.Required, validation.Length(1, config.MaxAnnotationBodyLength)),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	root, err := s.annRepo.GetByID(ctx, req.RootID, req.OwnerID)
	if err != nil {
		return nil, err
	}
	if root.IsReply() {
		return nil, fmt.Errorf("%w: annotation %s is a reply, replies cannot be nested", domain.ErrValidation, req.RootID)
	}

	const tailRetries = 1
	for attempt := 0; ; attempt++ {
		replies, err := s.annRepo.ListReplies(ctx, root.ID, req.OwnerID)
		if err != nil {
			return nil, err
		}
		tailID := thread.TailID(root.ID, replies)

		rootID, prevID := root.ID, tailID
		reply := &models.Annotation{
			ResourceID:   root.ResourceID,
			OwnerID:      req.OwnerID,
			Kind:         models.AnnotationKindGeneral,
			Status:       models.AnnotationStatusActive,
			Body:         req.Body,
			ThreadRootID: &rootID,
			ThreadPrevID: &prevID,
		}
		if err := reply.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}

		err = s.annRepo.CreateReply(ctx, reply, tailID)
		if err == nil {
			return reply, nil
		}
		if errors.Is(err, domain.ErrConflict) && attempt < tailRetries {
			s.logger.Debug("reply append lost the tail, retrying", "root_id", root.ID, "tail_id", tailID)
			continue
		}
		return nil, err
	}
}

// GetThread returns a root with its replies in display order.
func (s *annotationService) GetThread(ctx context.Context, rootID, ownerID string) (*thread.Thread, error) {
	root, err := s.annRepo.GetByID(ctx, rootID, ownerID)
	if err != nil {
		return nil, err
	}
	if root.IsReply() {
		return nil, fmt.Errorf("annotation %s: %w", rootID, domain.ErrNotFound)
	}
	replies, err := s.annRepo.ListReplies(ctx, rootID, ownerID)
	if err != nil {
		return nil, err
	}
	return thread.Build(root, replies)
}

// ListThreads returns all threads on a note.
func (s *annotationService) ListThreads(ctx context.Context, resourceID, ownerID string, status *models.AnnotationStatus) ([]*thread.Thread, error) {
	all, err := s.annRepo.ListByResource(ctx, resourceID, ownerID, status)
	if err != nil {
		return nil, err
	}

	roots := make([]*models.Annotation, 0, len(all))
	repliesByRoot := make(map[string][]*models.Annotation)
	for _, a := range all {
		if a.IsReply() {
			repliesByRoot[*a.ThreadRootID] = append(repliesByRoot[*a.ThreadRootID], a)
		} else {
			roots = append(roots, a)
		}
	}

	threads := make([]*thread.Thread, 0, len(roots))
	for _, root := range roots {
		th, err := thread.Build(root, repliesByRoot[root.ID])
		if err != nil {
			// A malformed thread must not hide the rest of the note's
			// annotations from the reader.
			s.logger.Warn("skipping malformed thread", "root_id", root.ID, "error", err)
			continue
		}
		threads = append(threads, th)
	}
	return threads, nil
}

// Resolve marks an annotation resolved.
func (s *annotationService) Resolve(ctx context.Context, id, ownerID string) (*models.Annotation, error) {
	resolved := models.AnnotationStatusResolved
	setResolvedAt := true
	return s.annRepo.Update(ctx, id, ownerID, &repositories.AnnotationUpdate{
		Status:     &resolved,
		ResolvedAt: &setResolvedAt,
	})
}

// Reopen clears an annotation's resolution.
func (s *annotationService) Reopen(ctx context.Context, id, ownerID string) (*models.Annotation, error) {
	active := models.AnnotationStatusActive
	clearResolvedAt := false
	return s.annRepo.Update(ctx, id, ownerID, &repositories.AnnotationUpdate{
		Status:     &active,
		ResolvedAt: &clearResolvedAt,
	})
}

// DeleteReply deletes a resolved reply and relinks its successors.
func (s *annotationService) DeleteReply(ctx context.Context, id, ownerID string) error {
	reply, err := s.annRepo.GetByID(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if !reply.IsReply() {
		return fmt.Errorf("%w: annotation %s is a thread root, delete the thread instead", domain.ErrValidation, id)
	}
	if reply.Status != models.AnnotationStatusResolved {
		return fmt.Errorf("%w: reply %s must be resolved before deletion", domain.ErrValidation, id)
	}

	// Relink and delete atomically so the chain is never observably broken.
	return s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		replies, err := s.annRepo.ListReplies(txCtx, *reply.ThreadRootID, ownerID)
		if err != nil {
			return err
		}
		for _, relinked := range thread.RelinkAfterDelete(reply, replies) {
			if err := s.annRepo.UpdateThreadPrev(txCtx, relinked.ID, ownerID, *relinked.ThreadPrevID); err != nil {
				return err
			}
		}
		return s.annRepo.Delete(txCtx, id, ownerID)
	})
}

// DeleteThread deletes a root and all of its replies.
func (s *annotationService) DeleteThread(ctx context.Context, rootID, ownerID string) error {
	root, err := s.annRepo.GetByID(ctx, rootID, ownerID)
	if err != nil {
		return err
	}
	if root.IsReply() {
		return fmt.Errorf("%w: annotation %s is a reply, not a thread root", domain.ErrValidation, rootID)
	}
	return s.annRepo.DeleteThread(ctx, rootID, ownerID)
}

// SyncEdit ingests one observed content change.
func (s *annotationService) SyncEdit(ctx context.Context, req *annotationsSvc.SyncEditRequest) ([]*models.Annotation, error) {
	note, err := s.noteRepo.GetByID(ctx, req.ResourceID, req.OwnerID)
	if err != nil {
		return nil, err
	}

	oldText := utils.PlainText(note.Content)
	newText := utils.PlainText(req.Content)

	if err := s.noteRepo.UpdateContent(ctx, req.ResourceID, req.OwnerID, req.Content, utils.CountWords(req.Content)); err != nil {
		return nil, err
	}

	if oldText == newText {
		return nil, nil
	}

	anns, err := s.annRepo.ListByResource(ctx, req.ResourceID, req.OwnerID, nil)
	if err != nil {
		return nil, err
	}

	change := anchor.DiffSnapshots(oldText, newText)
	dirty := anchor.UpdateAnchors(anns, change, newText)
	if len(dirty) == 0 {
		return anns, nil
	}

	if s.writer != nil {
		s.writer.Queue(req.ResourceID, dirty)
	} else {
		for _, a := range dirty {
			if err := s.annRepo.UpdateAnchor(ctx, a); err != nil {
				return nil, err
			}
		}
	}
	return anns, nil
}

// Flush forces all debounced anchor writes out.
func (s *annotationService) Flush(ctx context.Context) error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Flush(ctx)
}
