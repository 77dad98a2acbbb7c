package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"marginalia/internal/domain"
	"marginalia/internal/domain/models"
	"marginalia/internal/domain/repositories"
)

// PostgresNoteRepository implements the NoteRepository interface
type PostgresNoteRepository struct {
	config *RepositoryConfig
	logger *slog.Logger
}

// NewNoteRepository creates a new note repository
func NewNoteRepository(config *RepositoryConfig) repositories.NoteRepository {
	return &PostgresNoteRepository{
		config: config,
		logger: config.Logger,
	}
}

// GetByID retrieves a note by id
func (r *PostgresNoteRepository) GetByID(ctx context.Context, id, ownerID string) (*models.Note, error) {
	query := fmt.Sprintf(`
		SELECT id, owner_id, title, content, note_type, word_count, created_at, updated_at
		FROM %s
		WHERE id = $1 AND owner_id = $2
	`, r.config.Tables.Notes)

	var n models.Note
	executor := GetExecutor(ctx, r.config.Pool)
	err := executor.QueryRow(ctx, query, id, ownerID).Scan(
		&n.ID, &n.OwnerID, &n.Title, &n.Content, &n.NoteType, &n.WordCount,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get note: %w", err)
	}
	return &n, nil
}

// Create inserts a note
func (r *PostgresNoteRepository) Create(ctx context.Context, n *models.Note) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	query := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, title, content, note_type, word_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.config.Tables.Notes)

	executor := GetExecutor(ctx, r.config.Pool)
	_, err := executor.Exec(ctx, query,
		n.ID, n.OwnerID, n.Title, n.Content, n.NoteType, n.WordCount,
		n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		if IsPgDuplicateError(err) {
			return fmt.Errorf("note %s: %w", n.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create note: %w", err)
	}
	return nil
}

// UpdateContent replaces a note's content
func (r *PostgresNoteRepository) UpdateContent(ctx context.Context, id, ownerID, content string, wordCount int) error {
	query := fmt.Sprintf(`
		UPDATE %s SET content = $3, word_count = $4, updated_at = now()
		WHERE id = $1 AND owner_id = $2
	`, r.config.Tables.Notes)

	executor := GetExecutor(ctx, r.config.Pool)
	tag, err := executor.Exec(ctx, query, id, ownerID, content, wordCount)
	if err != nil {
		return fmt.Errorf("update note content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListByOwner lists note metadata (no content) for an owner
func (r *PostgresNoteRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Note, error) {
	query := fmt.Sprintf(`
		SELECT id, owner_id, title, '', note_type, word_count, created_at, updated_at
		FROM %s
		WHERE owner_id = $1
		ORDER BY updated_at DESC
	`, r.config.Tables.Notes)

	executor := GetExecutor(ctx, r.config.Pool)
	rows, err := executor.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var out []*models.Note
	for rows.Next() {
		var n models.Note
		if err := rows.Scan(
			&n.ID, &n.OwnerID, &n.Title, &n.Content, &n.NoteType, &n.WordCount,
			&n.CreatedAt, &n.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return out, nil
}
