package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"marginalia/internal/domain"
	"marginalia/internal/domain/models"
	"marginalia/internal/domain/repositories"
)

const annotationColumns = `id, resource_id, owner_id, kind, status, body,
	start_offset, end_offset, quoted_text, is_stale, original_quoted_text,
	thread_root_id, thread_prev_id,
	created_by_ai, ai_suggestion_type, processing_log_id, retry_count,
	created_at, updated_at, resolved_at`

// PostgresAnnotationRepository implements the AnnotationRepository interface
type PostgresAnnotationRepository struct {
	config *RepositoryConfig
	logger *slog.Logger
}

// NewAnnotationRepository creates a new annotation repository
func NewAnnotationRepository(config *RepositoryConfig) repositories.AnnotationRepository {
	return &PostgresAnnotationRepository{
		config: config,
		logger: config.Logger,
	}
}

// Create inserts a root annotation
func (r *PostgresAnnotationRepository) Create(ctx context.Context, a *models.Annotation) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, r.config.Tables.Annotations, annotationColumns)

	executor := GetExecutor(ctx, r.config.Pool)
	_, err := executor.Exec(ctx, query,
		a.ID, a.ResourceID, a.OwnerID, a.Kind, a.Status, a.Body,
		a.StartOffset, a.EndOffset, a.QuotedText, a.IsStale, a.OriginalQuotedText,
		a.ThreadRootID, a.ThreadPrevID,
		a.CreatedByAI, nullableSuggestionType(a.AISuggestionType), a.ProcessingLogID, a.RetryCount,
		a.CreatedAt, a.UpdatedAt, a.ResolvedAt,
	)
	if err != nil {
		if IsPgDuplicateError(err) {
			return fmt.Errorf("annotation %s: %w", a.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create annotation: %w", err)
	}
	return nil
}

// CreateReply inserts a reply only while expectedTailID is still the thread
// tail. The NOT EXISTS guard turns find-tail-then-insert into one atomic
// statement, so two callers racing on the same tail cannot both chain onto it.
func (r *PostgresAnnotationRepository) CreateReply(ctx context.Context, a *models.Annotation, expectedTailID string) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		WHERE NOT EXISTS (
			SELECT 1 FROM %s
			WHERE thread_root_id = $12 AND thread_prev_id = $13 AND id <> $1
		)
	`, r.config.Tables.Annotations, annotationColumns, r.config.Tables.Annotations)

	executor := GetExecutor(ctx, r.config.Pool)
	tag, err := executor.Exec(ctx, query,
		a.ID, a.ResourceID, a.OwnerID, a.Kind, a.Status, a.Body,
		a.StartOffset, a.EndOffset, a.QuotedText, a.IsStale, a.OriginalQuotedText,
		a.ThreadRootID, a.ThreadPrevID,
		a.CreatedByAI, nullableSuggestionType(a.AISuggestionType), a.ProcessingLogID, a.RetryCount,
		a.CreatedAt, a.UpdatedAt, a.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("create reply: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ConflictError{
			Message:      fmt.Sprintf("thread tail %s was overtaken by a concurrent reply", expectedTailID),
			ResourceType: "annotation",
			ResourceID:   expectedTailID,
		}
	}
	return nil
}

// GetByID retrieves an annotation
func (r *PostgresAnnotationRepository) GetByID(ctx context.Context, id, ownerID string) (*models.Annotation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE id = $1 AND owner_id = $2
	`, annotationColumns, r.config.Tables.Annotations)

	executor := GetExecutor(ctx, r.config.Pool)
	a, err := scanAnnotation(executor.QueryRow(ctx, query, id, ownerID))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("annotation %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get annotation: %w", err)
	}
	return a, nil
}

// ListByResource lists annotations for a note ordered by creation time then id
func (r *PostgresAnnotationRepository) ListByResource(ctx context.Context, resourceID, ownerID string, status *models.AnnotationStatus) ([]*models.Annotation, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT %s FROM %s WHERE resource_id = $1 AND owner_id = $2`,
		annotationColumns, r.config.Tables.Annotations)
	args := []interface{}{resourceID, ownerID}
	if status != nil {
		sb.WriteString(` AND status = $3`)
		args = append(args, *status)
	}
	sb.WriteString(` ORDER BY created_at, id`)

	executor := GetExecutor(ctx, r.config.Pool)
	rows, err := executor.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	return scanAnnotations(rows)
}

// ListReplies lists the replies of a thread root
func (r *PostgresAnnotationRepository) ListReplies(ctx context.Context, rootID, ownerID string) ([]*models.Annotation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE thread_root_id = $1 AND owner_id = $2
		ORDER BY created_at, id
	`, annotationColumns, r.config.Tables.Annotations)

	executor := GetExecutor(ctx, r.config.Pool)
	rows, err := executor.Query(ctx, query, rootID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	return scanAnnotations(rows)
}

// Update applies a partial update
func (r *PostgresAnnotationRepository) Update(ctx context.Context, id, ownerID string, upd *repositories.AnnotationUpdate) (*models.Annotation, error) {
	sets := []string{"updated_at = now()"}
	args := []interface{}{id, ownerID}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if upd.Body != nil {
		sets = append(sets, "body = "+arg(*upd.Body))
	}
	if upd.Status != nil {
		sets = append(sets, "status = "+arg(*upd.Status))
	}
	if upd.StartOffset != nil {
		sets = append(sets, "start_offset = "+arg(*upd.StartOffset))
	}
	if upd.EndOffset != nil {
		sets = append(sets, "end_offset = "+arg(*upd.EndOffset))
	}
	if upd.QuotedText != nil {
		sets = append(sets, "quoted_text = "+arg(*upd.QuotedText))
	}
	if upd.IsStale != nil {
		sets = append(sets, "is_stale = "+arg(*upd.IsStale))
	}
	if upd.OriginalQuotedText != nil {
		sets = append(sets, "original_quoted_text = "+arg(*upd.OriginalQuotedText))
	}
	if upd.ResolvedAt != nil {
		if *upd.ResolvedAt {
			sets = append(sets, "resolved_at = now()")
		} else {
			sets = append(sets, "resolved_at = NULL")
		}
	}

	query := fmt.Sprintf(`
		UPDATE %s SET %s
		WHERE id = $1 AND owner_id = $2
		RETURNING %s
	`, r.config.Tables.Annotations, strings.Join(sets, ", "), annotationColumns)

	executor := GetExecutor(ctx, r.config.Pool)
	a, err := scanAnnotation(executor.QueryRow(ctx, query, args...))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("annotation %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("update annotation: %w", err)
	}
	return a, nil
}

// UpdateAnchor persists recomputed anchor fields for one annotation
func (r *PostgresAnnotationRepository) UpdateAnchor(ctx context.Context, a *models.Annotation) error {
	query := fmt.Sprintf(`
		UPDATE %s SET
			start_offset = $3, end_offset = $4, quoted_text = $5,
			is_stale = $6, original_quoted_text = $7, updated_at = now()
		WHERE id = $1 AND owner_id = $2
	`, r.config.Tables.Annotations)

	executor := GetExecutor(ctx, r.config.Pool)
	tag, err := executor.Exec(ctx, query,
		a.ID, a.OwnerID,
		a.StartOffset, a.EndOffset, a.QuotedText,
		a.IsStale, a.OriginalQuotedText,
	)
	if err != nil {
		return fmt.Errorf("update anchor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("annotation %s: %w", a.ID, domain.ErrNotFound)
	}
	return nil
}

// UpdateThreadPrev repoints a reply's chain predecessor. A nil-equivalent
// prevID is not supported: chain repair always names a concrete predecessor
// (the root when the first reply is removed).
func (r *PostgresAnnotationRepository) UpdateThreadPrev(ctx context.Context, id, ownerID, prevID string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET thread_prev_id = $3, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
	`, r.config.Tables.Annotations)

	executor := GetExecutor(ctx, r.config.Pool)
	tag, err := executor.Exec(ctx, query, id, ownerID, prevID)
	if err != nil {
		return fmt.Errorf("update thread prev: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("annotation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Delete removes a single annotation
func (r *PostgresAnnotationRepository) Delete(ctx context.Context, id, ownerID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND owner_id = $2`, r.config.Tables.Annotations)

	executor := GetExecutor(ctx, r.config.Pool)
	tag, err := executor.Exec(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("annotation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// DeleteThread removes a root and all of its replies
func (r *PostgresAnnotationRepository) DeleteThread(ctx context.Context, rootID, ownerID string) error {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE owner_id = $2 AND (id = $1 OR thread_root_id = $1)
	`, r.config.Tables.Annotations)

	executor := GetExecutor(ctx, r.config.Pool)
	tag, err := executor.Exec(ctx, query, rootID, ownerID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("thread %s: %w", rootID, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAnnotation(row rowScanner) (*models.Annotation, error) {
	var a models.Annotation
	var suggestionType *string
	err := row.Scan(
		&a.ID, &a.ResourceID, &a.OwnerID, &a.Kind, &a.Status, &a.Body,
		&a.StartOffset, &a.EndOffset, &a.QuotedText, &a.IsStale, &a.OriginalQuotedText,
		&a.ThreadRootID, &a.ThreadPrevID,
		&a.CreatedByAI, &suggestionType, &a.ProcessingLogID, &a.RetryCount,
		&a.CreatedAt, &a.UpdatedAt, &a.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if suggestionType != nil {
		a.AISuggestionType = models.SuggestionType(*suggestionType)
	}
	return &a, nil
}

func scanAnnotations(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]*models.Annotation, error) {
	var out []*models.Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return out, nil
}

func nullableSuggestionType(t models.SuggestionType) *string {
	if t == "" {
		return nil
	}
	s := string(t)
	return &s
}
