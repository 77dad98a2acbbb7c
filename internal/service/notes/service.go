package notes

import (
	"context"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"marginalia/internal/config"
	"marginalia/internal/domain"
	"marginalia/internal/domain/models"
	"marginalia/internal/domain/repositories"
	notesSvc "marginalia/internal/domain/services/notes"
	"marginalia/internal/utils"
)

type noteService struct {
	repo   repositories.NoteRepository
	logger *slog.Logger
}

// NewService creates a new note service.
func NewService(repo repositories.NoteRepository, logger *slog.Logger) notesSvc.Service {
	return &noteService{repo: repo, logger: logger}
}

func (s *noteService) Create(ctx context.Context, req *notesSvc.CreateNoteRequest) (*models.Note, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Title, validation.Required, validation.Length(1, config.MaxNoteTitleLength)),
		validation.Field(&req.NoteType, validation.Required),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	n := &models.Note{
		OwnerID:   req.OwnerID,
		Title:     req.Title,
		Content:   req.Content,
		NoteType:  req.NoteType,
		WordCount: utils.CountWords(req.Content),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *noteService) Get(ctx context.Context, id, ownerID string) (*models.Note, error) {
	return s.repo.GetByID(ctx, id, ownerID)
}

func (s *noteService) List(ctx context.Context, ownerID string) ([]*models.Note, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}
