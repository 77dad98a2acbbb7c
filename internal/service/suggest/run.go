package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"marginalia/internal/config"
	"marginalia/internal/domain"
	"marginalia/internal/domain/models"
	"marginalia/internal/domain/repositories"
	suggestSvc "marginalia/internal/domain/services/suggest"
	"marginalia/internal/utils"
)

// runState names the phases of one suggestion run. A run is a single pass:
// no backgrounding, no run-level auto-retry.
type runState string

const (
	stateIdle            runState = "idle"
	stateBuildingContext runState = "building-context"
	stateAwaitingModel   runState = "awaiting-model"
	stateAnchoring       runState = "anchoring"
	statePersisting      runState = "persisting"
	stateCompleted       runState = "completed"
	stateFailed          runState = "failed"
)

// RunRequest is one user-triggered suggestion run.
type RunRequest struct {
	ResourceID string `json:"resource_id"`
	OwnerID    string `json:"-"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
}

// Validate checks the request fields.
func (r *RunRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ResourceID, validation.Required),
	)
}

// Runner drives one end-to-end suggestion run: context building, the single
// model call, anchoring, and persistence with a permanent processing log.
type Runner struct {
	notes       repositories.NoteRepository
	annotations repositories.AnnotationRepository
	logs        repositories.ProcessingLogRepository
	registry    *ProviderRegistry
	cfg         *config.Config
	logger      *slog.Logger

	// MaxSuggestions bounds worst-case cost per run.
	MaxSuggestions int
}

// NewRunner creates a suggestion runner.
func NewRunner(
	notes repositories.NoteRepository,
	annotations repositories.AnnotationRepository,
	logs repositories.ProcessingLogRepository,
	registry *ProviderRegistry,
	cfg *config.Config,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		notes:          notes,
		annotations:    annotations,
		logs:           logs,
		registry:       registry,
		cfg:            cfg,
		logger:         logger,
		MaxSuggestions: config.MaxSuggestionsPerRun,
	}
}

// Run executes one suggestion run. The returned summary reports counts, not
// a single boolean: a run with some failed suggestions still completes.
//
// Terminal failures (model transport error, wholly unparsable response,
// cancellation) persist no annotations and finalize the log as failed.
func (r *Runner) Run(ctx context.Context, req *RunRequest) (*models.RunSummary, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = r.cfg.DefaultProvider
	}
	model := req.Model
	if model == "" {
		model = r.cfg.DefaultModel
	}

	provider, err := r.registry.GetProvider(providerName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if !provider.SupportsModel(model) {
		return nil, fmt.Errorf("%w: model %q is not supported by provider %q", domain.ErrValidation, model, providerName)
	}

	state := stateIdle
	start := time.Now()

	// building-context
	state = r.transition(state, stateBuildingContext, req.ResourceID)
	note, err := r.notes.GetByID(ctx, req.ResourceID, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("load note: %w", err)
	}
	// Offsets are character positions over the plain-text view, so the
	// generator sees exactly the text the anchors index into.
	docText := utils.PlainText(note.Content)

	active := models.AnnotationStatusActive
	existing, err := r.annotations.ListByResource(ctx, req.ResourceID, req.OwnerID, &active)
	if err != nil {
		return nil, fmt.Errorf("list active annotations: %w", err)
	}
	var existingBodies []string
	for _, a := range existing {
		if a.CreatedByAI && !a.IsReply() {
			existingBodies = append(existingBodies, a.Body)
		}
	}

	// The run log is opened before the model call and finalized exactly
	// once, whatever happens after.
	runLog := &models.ProcessingLog{
		ResourceID:    req.ResourceID,
		OwnerID:       req.OwnerID,
		AttemptNumber: 1,
		Status:        models.ProcessingStatusProcessing,
		ModelUsed:     model,
		InputData: map[string]interface{}{
			"provider":             providerName,
			"document_chars":       len(docText),
			"existing_suggestions": len(existingBodies),
			"max_suggestions":      r.MaxSuggestions,
		},
	}
	if err := r.logs.Create(ctx, runLog); err != nil {
		return nil, fmt.Errorf("open processing log: %w", err)
	}

	// awaiting-model
	state = r.transition(state, stateAwaitingModel, req.ResourceID)
	raw, err := provider.Generate(ctx, &suggestSvc.GenerateRequest{
		Model:               model,
		DocumentText:        docText,
		Metadata:            noteMetadata(note),
		ExistingSuggestions: existingBodies,
		MaxSuggestions:      r.MaxSuggestions,
	})
	if err != nil {
		return nil, r.fail(ctx, runLog, start, fmt.Errorf("suggestion generation: %w", err))
	}

	parsed, err := ParseSuggestions(raw)
	if err != nil {
		return nil, r.fail(ctx, runLog, start, fmt.Errorf("parse suggestions: %w", err))
	}

	warnings := parsed.Warnings
	suggestions := parsed.Suggestions
	if len(suggestions) > r.MaxSuggestions {
		warnings = append(warnings, fmt.Sprintf(
			"model returned %d suggestions, processing the first %d", len(suggestions), r.MaxSuggestions))
		suggestions = suggestions[:r.MaxSuggestions]
	}

	// anchoring
	state = r.transition(state, stateAnchoring, req.ResourceID)
	anchorer := NewAnchorer(provider, r.logger)
	outcome, err := anchorer.AnchorAll(ctx, suggestions, docText, model, req.ResourceID, req.OwnerID)
	if err != nil {
		// Cancellation mid-anchoring: nothing has been persisted.
		return nil, r.fail(ctx, runLog, start, fmt.Errorf("anchoring aborted: %w", err))
	}
	warnings = append(warnings, outcome.Warnings...)

	// persisting
	state = r.transition(state, statePersisting, req.ResourceID)
	created := 0
	failures := append(append([]models.AnchorFailure{}, outcome.Skipped...), outcome.Failed...)
	for _, a := range outcome.Annotations {
		a.ProcessingLogID = &runLog.ID
		if err := a.Validate(); err != nil {
			failures = append(failures, models.AnchorFailure{Reason: err.Error(), Body: a.Body})
			continue
		}
		if err := r.annotations.Create(ctx, a); err != nil {
			// Annotation creates are independent: earlier ones stay.
			r.logger.Error("annotation write failed", "resource_id", req.ResourceID, "error", err)
			failures = append(failures, models.AnchorFailure{
				Reason: fmt.Sprintf("store write failed: %v", err),
				Body:   a.Body,
			})
			continue
		}
		created++
	}

	summary := &models.RunSummary{
		LogID:    runLog.ID,
		Created:  created,
		Skipped:  len(outcome.Skipped),
		Failed:   len(failures) - len(outcome.Skipped),
		Warnings: warnings,
		Failures: failures,
	}

	runLog.Status = models.ProcessingStatusCompleted
	if len(failures) > 0 {
		runLog.Status = models.ProcessingStatusPartialSuccess
	}
	runLog.ProcessingTimeMs = time.Since(start).Milliseconds()
	runLog.OutputData = map[string]interface{}{
		"created":  summary.Created,
		"skipped":  summary.Skipped,
		"failed":   summary.Failed,
		"warnings": warnings,
	}
	if len(failures) > 0 {
		runLog.ErrorDetails = map[string]interface{}{"failures": failures}
	}
	if err := r.logs.Finalize(ctx, runLog); err != nil {
		r.logger.Error("failed to finalize processing log", "log_id", runLog.ID, "error", err)
	}

	r.transition(state, stateCompleted, req.ResourceID)
	return summary, nil
}

// fail finalizes the run log as failed and returns the terminal error.
// Finalization uses a detached context so cancellation of the run does not
// also lose the audit record.
func (r *Runner) fail(ctx context.Context, runLog *models.ProcessingLog, start time.Time, cause error) error {
	r.logger.Warn("suggestion run failed", "resource_id", runLog.ResourceID, "state", string(stateFailed), "error", cause)

	logCtx := ctx
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logCtx = context.WithoutCancel(ctx)
	}

	runLog.Status = models.ProcessingStatusFailed
	runLog.ProcessingTimeMs = time.Since(start).Milliseconds()
	runLog.ErrorDetails = map[string]interface{}{"error": cause.Error()}
	if err := r.logs.Finalize(logCtx, runLog); err != nil {
		r.logger.Error("failed to finalize failed run log", "log_id", runLog.ID, "error", err)
	}
	return cause
}

func (r *Runner) transition(from, to runState, resourceID string) runState {
	r.logger.Debug("suggestion run state", "from", string(from), "to", string(to), "resource_id", resourceID)
	return to
}

// noteMetadata selects the resource fields worth showing the generator.
func noteMetadata(n *models.Note) map[string]string {
	md := map[string]string{
		"title": n.Title,
	}
	if n.NoteType != "" {
		md["note_type"] = n.NoteType
	}
	return md
}
