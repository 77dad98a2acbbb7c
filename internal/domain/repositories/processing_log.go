package repositories

import (
	"context"

	"marginalia/internal/domain/models"
)

// ProcessingLogRepository is the append-only audit sink for suggestion runs.
// There is deliberately no Delete: logs are a permanent trail.
type ProcessingLogRepository interface {
	// Create inserts a log row at run start (status processing).
	Create(ctx context.Context, l *models.ProcessingLog) error

	// Finalize updates a run's log exactly once on completion.
	Finalize(ctx context.Context, l *models.ProcessingLog) error

	// GetByID retrieves a log row.
	GetByID(ctx context.Context, id, ownerID string) (*models.ProcessingLog, error)

	// ListByResource lists log rows for a note, newest first.
	ListByResource(ctx context.Context, resourceID, ownerID string) ([]*models.ProcessingLog, error)
}
