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

const processingLogColumns = `id, parent_log_id, resource_id, owner_id, attempt_number,
	status, model_used, input_data, output_data, error_details,
	processing_time_ms, created_at, completed_at`

// PostgresProcessingLogRepository implements the ProcessingLogRepository
// interface. There is no delete path: run logs are a permanent audit trail.
type PostgresProcessingLogRepository struct {
	config *RepositoryConfig
	logger *slog.Logger
}

// NewProcessingLogRepository creates a new processing log repository
func NewProcessingLogRepository(config *RepositoryConfig) repositories.ProcessingLogRepository {
	return &PostgresProcessingLogRepository{
		config: config,
		logger: config.Logger,
	}
}

// Create inserts a log row at run start
func (r *PostgresProcessingLogRepository) Create(ctx context.Context, l *models.ProcessingLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if l.Status == "" {
		l.Status = models.ProcessingStatusProcessing
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, r.config.Tables.ProcessingLogs, processingLogColumns)

	executor := GetExecutor(ctx, r.config.Pool)
	_, err := executor.Exec(ctx, query,
		l.ID, l.ParentLogID, l.ResourceID, l.OwnerID, l.AttemptNumber,
		l.Status, l.ModelUsed, l.InputData, l.OutputData, l.ErrorDetails,
		l.ProcessingTimeMs, l.CreatedAt, l.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("create processing log: %w", err)
	}
	return nil
}

// Finalize updates a run's log exactly once on completion
func (r *PostgresProcessingLogRepository) Finalize(ctx context.Context, l *models.ProcessingLog) error {
	now := time.Now().UTC()
	l.CompletedAt = &now

	query := fmt.Sprintf(`
		UPDATE %s SET
			status = $3, output_data = $4, error_details = $5,
			processing_time_ms = $6, completed_at = $7
		WHERE id = $1 AND owner_id = $2 AND completed_at IS NULL
	`, r.config.Tables.ProcessingLogs)

	executor := GetExecutor(ctx, r.config.Pool)
	tag, err := executor.Exec(ctx, query,
		l.ID, l.OwnerID, l.Status, l.OutputData, l.ErrorDetails,
		l.ProcessingTimeMs, l.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("finalize processing log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("processing log %s (or already finalized): %w", l.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a log row
func (r *PostgresProcessingLogRepository) GetByID(ctx context.Context, id, ownerID string) (*models.ProcessingLog, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE id = $1 AND owner_id = $2
	`, processingLogColumns, r.config.Tables.ProcessingLogs)

	executor := GetExecutor(ctx, r.config.Pool)
	l, err := scanProcessingLog(executor.QueryRow(ctx, query, id, ownerID))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("processing log %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get processing log: %w", err)
	}
	return l, nil
}

// ListByResource lists log rows for a note, newest first
func (r *PostgresProcessingLogRepository) ListByResource(ctx context.Context, resourceID, ownerID string) ([]*models.ProcessingLog, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE resource_id = $1 AND owner_id = $2
		ORDER BY created_at DESC
	`, processingLogColumns, r.config.Tables.ProcessingLogs)

	executor := GetExecutor(ctx, r.config.Pool)
	rows, err := executor.Query(ctx, query, resourceID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list processing logs: %w", err)
	}
	defer rows.Close()

	var out []*models.ProcessingLog
	for rows.Next() {
		l, err := scanProcessingLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan processing log: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processing logs: %w", err)
	}
	return out, nil
}

func scanProcessingLog(row rowScanner) (*models.ProcessingLog, error) {
	var l models.ProcessingLog
	err := row.Scan(
		&l.ID, &l.ParentLogID, &l.ResourceID, &l.OwnerID, &l.AttemptNumber,
		&l.Status, &l.ModelUsed, &l.InputData, &l.OutputData, &l.ErrorDetails,
		&l.ProcessingTimeMs, &l.CreatedAt, &l.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
