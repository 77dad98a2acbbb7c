package annotations

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"marginalia/internal/domain/models"
	"marginalia/internal/domain/repositories"
)

// DebouncedWriter coalesces anchor updates produced by rapid editing. Each
// resource gets its own timer; queueing again before it fires replaces the
// pending snapshot for that annotation, so only the latest state is written.
type DebouncedWriter struct {
	repo   repositories.AnnotationRepository
	logger *slog.Logger
	window time.Duration

	mu      sync.Mutex
	pending map[string]*resourceBatch
}

type resourceBatch struct {
	timer     *time.Timer
	snapshots map[string]*models.Annotation
}

// NewDebouncedWriter creates a writer that holds anchor updates for the given
// window before persisting them.
func NewDebouncedWriter(repo repositories.AnnotationRepository, window time.Duration, logger *slog.Logger) *DebouncedWriter {
	return &DebouncedWriter{
		repo:    repo,
		logger:  logger,
		window:  window,
		pending: make(map[string]*resourceBatch),
	}
}

// Queue stages anchor snapshots for a resource and (re)arms its flush timer.
// Annotations are copied at queue time; later in-memory mutation of the
// caller's structs does not affect what gets written.
func (w *DebouncedWriter) Queue(resourceID string, dirty []*models.Annotation) {
	if len(dirty) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	batch, ok := w.pending[resourceID]
	if !ok {
		batch = &resourceBatch{snapshots: make(map[string]*models.Annotation)}
		w.pending[resourceID] = batch
	}
	for _, a := range dirty {
		batch.snapshots[a.ID] = snapshotAnchor(a)
	}

	if batch.timer != nil {
		batch.timer.Stop()
	}
	batch.timer = time.AfterFunc(w.window, func() {
		w.flushResource(resourceID)
	})
}

// Flush writes out every pending snapshot immediately. Used on shutdown and
// whenever the caller needs anchors durable before proceeding.
func (w *DebouncedWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	var all []*models.Annotation
	for _, batch := range w.pending {
		if batch.timer != nil {
			batch.timer.Stop()
		}
		for _, a := range batch.snapshots {
			all = append(all, a)
		}
	}
	w.pending = make(map[string]*resourceBatch)
	w.mu.Unlock()

	var firstErr error
	for _, a := range all {
		if err := w.repo.UpdateAnchor(ctx, a); err != nil {
			w.logger.Warn("anchor flush failed", "annotation_id", a.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// flushResource fires from a timer; persistence here is best effort and
// failures only log, since the next edit will queue fresh snapshots anyway.
func (w *DebouncedWriter) flushResource(resourceID string) {
	w.mu.Lock()
	batch, ok := w.pending[resourceID]
	if ok {
		delete(w.pending, resourceID)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()
	for _, a := range batch.snapshots {
		if err := w.repo.UpdateAnchor(ctx, a); err != nil {
			w.logger.Warn("debounced anchor write failed",
				"resource_id", resourceID, "annotation_id", a.ID, "error", err)
		}
	}
}

// snapshotAnchor copies the fields UpdateAnchor persists, including the
// pointed-to values, so queued state is immune to later mutation.
func snapshotAnchor(a *models.Annotation) *models.Annotation {
	c := *a
	if a.StartOffset != nil {
		v := *a.StartOffset
		c.StartOffset = &v
	}
	if a.EndOffset != nil {
		v := *a.EndOffset
		c.EndOffset = &v
	}
	if a.QuotedText != nil {
		v := *a.QuotedText
		c.QuotedText = &v
	}
	if a.OriginalQuotedText != nil {
		v := *a.OriginalQuotedText
		c.OriginalQuotedText = &v
	}
	return &c
}
