package suggest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"marginalia/internal/config"
	"marginalia/internal/domain"
	"marginalia/internal/domain/models"
	"marginalia/internal/domain/repositories"
	suggestSvc "marginalia/internal/domain/services/suggest"
	"marginalia/internal/service/suggest/providers/canned"
)

type memNoteRepo struct {
	notes map[string]*models.Note
}

func (m *memNoteRepo) GetByID(_ context.Context, id, ownerID string) (*models.Note, error) {
	n, ok := m.notes[id]
	if !ok || n.OwnerID != ownerID {
		return nil, fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
	}
	return n, nil
}

func (m *memNoteRepo) Create(_ context.Context, n *models.Note) error { m.notes[n.ID] = n; return nil }

func (m *memNoteRepo) UpdateContent(_ context.Context, id, _ string, content string, wordCount int) error {
	if n, ok := m.notes[id]; ok {
		n.Content = content
		n.WordCount = wordCount
	}
	return nil
}

func (m *memNoteRepo) ListByOwner(_ context.Context, _ string) ([]*models.Note, error) {
	return nil, nil
}

type memAnnotationRepo struct {
	existing  []*models.Annotation
	created   []*models.Annotation
	failBody  string // Create fails for annotations with this body
	createErr error
}

func (m *memAnnotationRepo) Create(_ context.Context, a *models.Annotation) error {
	if m.failBody != "" && a.Body == m.failBody {
		return m.createErr
	}
	a.ID = fmt.Sprintf("ann-%d", len(m.created)+1)
	m.created = append(m.created, a)
	return nil
}

func (m *memAnnotationRepo) CreateReply(_ context.Context, _ *models.Annotation, _ string) error {
	return nil
}

func (m *memAnnotationRepo) GetByID(_ context.Context, id, _ string) (*models.Annotation, error) {
	return nil, fmt.Errorf("annotation %s: %w", id, domain.ErrNotFound)
}

func (m *memAnnotationRepo) ListByResource(_ context.Context, _, _ string, _ *models.AnnotationStatus) ([]*models.Annotation, error) {
	return m.existing, nil
}

func (m *memAnnotationRepo) ListReplies(_ context.Context, _, _ string) ([]*models.Annotation, error) {
	return nil, nil
}

func (m *memAnnotationRepo) Update(_ context.Context, _, _ string, _ *repositories.AnnotationUpdate) (*models.Annotation, error) {
	return nil, nil
}

func (m *memAnnotationRepo) UpdateAnchor(_ context.Context, _ *models.Annotation) error { return nil }

func (m *memAnnotationRepo) UpdateThreadPrev(_ context.Context, _, _, _ string) error { return nil }

func (m *memAnnotationRepo) Delete(_ context.Context, _, _ string) error { return nil }

func (m *memAnnotationRepo) DeleteThread(_ context.Context, _, _ string) error { return nil }

type memLogRepo struct {
	logs      []*models.ProcessingLog
	finalized int
}

func (m *memLogRepo) Create(_ context.Context, l *models.ProcessingLog) error {
	l.ID = fmt.Sprintf("log-%d", len(m.logs)+1)
	m.logs = append(m.logs, l)
	return nil
}

func (m *memLogRepo) Finalize(_ context.Context, l *models.ProcessingLog) error {
	m.finalized++
	_ = l
	return nil
}

func (m *memLogRepo) GetByID(_ context.Context, id, _ string) (*models.ProcessingLog, error) {
	for _, l := range m.logs {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, fmt.Errorf("processing log %s: %w", id, domain.ErrNotFound)
}

func (m *memLogRepo) ListByResource(_ context.Context, _, _ string) ([]*models.ProcessingLog, error) {
	return m.logs, nil
}

// errProvider fails every model call, simulating a transport outage.
type errProvider struct{}

func (errProvider) Name() string                { return "canned" }
func (errProvider) SupportsModel(m string) bool { return strings.HasPrefix(m, "canned-") }
func (errProvider) Generate(context.Context, *suggestSvc.GenerateRequest) (string, error) {
	return "", errors.New("connection reset")
}
func (errProvider) Refine(context.Context, *suggestSvc.RefineRequest) (string, error) {
	return "", errors.New("connection reset")
}

func newTestRunner(provider suggestSvc.Provider) (*Runner, *memNoteRepo, *memAnnotationRepo, *memLogRepo) {
	cfg := &config.Config{DefaultProvider: "canned", DefaultModel: "canned-test"}
	notes := &memNoteRepo{notes: map[string]*models.Note{
		"note-1": {
			ID:       "note-1",
			OwnerID:  "user-1",
			Title:    "Timing",
			NoteType: "article",
			Content:  "The key factor is timing. Markets reward patience over cleverness.",
		},
	}}
	anns := &memAnnotationRepo{}
	logs := &memLogRepo{}

	registry := NewProviderRegistry(NewProviderFactory(cfg, nil))
	registry.cache["canned"] = provider

	return NewRunner(notes, anns, logs, registry, cfg, testLogger()), notes, anns, logs
}

func TestRunPersistsSuggestionsAndCompletesLog(t *testing.T) {
	provider := canned.NewProvider()
	provider.ScriptGenerate(`[
		{"category": "anchored", "suggestion_type": "rewording", "body": "Lead with patience.", "selected_text": "Markets reward patience"},
		{"category": "general", "suggestion_type": "missing_concept", "body": "Define what counts as timing."}
	]`)
	runner, _, anns, logs := newTestRunner(provider)

	summary, err := runner.Run(context.Background(), &RunRequest{ResourceID: "note-1", OwnerID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Created != 2 || summary.Failed != 0 || summary.Skipped != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if len(anns.created) != 2 {
		t.Fatalf("persisted %d annotations, want 2", len(anns.created))
	}
	for _, a := range anns.created {
		if !a.CreatedByAI {
			t.Error("annotation should be AI-created")
		}
		if a.ProcessingLogID == nil || *a.ProcessingLogID != summary.LogID {
			t.Errorf("processing log id = %v, want %q", a.ProcessingLogID, summary.LogID)
		}
	}
	if len(logs.logs) != 1 {
		t.Fatalf("created %d logs, want 1", len(logs.logs))
	}
	if logs.logs[0].Status != models.ProcessingStatusCompleted {
		t.Errorf("log status = %q", logs.logs[0].Status)
	}
	if logs.finalized != 1 {
		t.Errorf("finalized %d times, want exactly once", logs.finalized)
	}
}

func TestRunPartialSuccess(t *testing.T) {
	provider := canned.NewProvider()
	provider.ScriptGenerate(`[
		{"category": "general", "suggestion_type": "structural", "body": "This one lands."},
		{"category": "anchored", "suggestion_type": "rewording", "body": "This one never anchors.", "selected_text": "a phrase that is not there"}
	]`)
	runner, _, anns, logs := newTestRunner(provider)

	summary, err := runner.Run(context.Background(), &RunRequest{ResourceID: "note-1", OwnerID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Created != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if len(anns.created) != 1 {
		t.Errorf("persisted %d annotations, want 1", len(anns.created))
	}
	if logs.logs[0].Status != models.ProcessingStatusPartialSuccess {
		t.Errorf("log status = %q, want partial_success", logs.logs[0].Status)
	}
	if logs.logs[0].ErrorDetails == nil {
		t.Error("partial success log should record failure details")
	}
}

func TestRunGenerateFailureFinalizesLogAsFailed(t *testing.T) {
	runner, _, anns, logs := newTestRunner(errProvider{})

	_, err := runner.Run(context.Background(), &RunRequest{ResourceID: "note-1", OwnerID: "user-1"})
	if err == nil {
		t.Fatal("expected error")
	}

	if len(anns.created) != 0 {
		t.Errorf("persisted %d annotations, want 0", len(anns.created))
	}
	if len(logs.logs) != 1 {
		t.Fatalf("created %d logs, want 1: the failure must leave an audit record", len(logs.logs))
	}
	if logs.logs[0].Status != models.ProcessingStatusFailed {
		t.Errorf("log status = %q, want failed", logs.logs[0].Status)
	}
	if logs.finalized != 1 {
		t.Errorf("finalized %d times, want 1", logs.finalized)
	}
}

func TestRunUnparsableResponseFails(t *testing.T) {
	provider := canned.NewProvider()
	provider.ScriptGenerate("I looked at the note and have nothing structured to offer.")
	runner, _, anns, logs := newTestRunner(provider)

	_, err := runner.Run(context.Background(), &RunRequest{ResourceID: "note-1", OwnerID: "user-1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(anns.created) != 0 {
		t.Errorf("persisted %d annotations, want 0", len(anns.created))
	}
	if logs.logs[0].Status != models.ProcessingStatusFailed {
		t.Errorf("log status = %q, want failed", logs.logs[0].Status)
	}
}

func TestRunCapsSuggestions(t *testing.T) {
	entries := make([]string, 25)
	for i := range entries {
		entries[i] = fmt.Sprintf(`{"category": "general", "suggestion_type": "structural", "body": "Suggestion %d."}`, i)
	}
	provider := canned.NewProvider()
	provider.ScriptGenerate("[" + strings.Join(entries, ",") + "]")
	runner, _, anns, _ := newTestRunner(provider)

	summary, err := runner.Run(context.Background(), &RunRequest{ResourceID: "note-1", OwnerID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Created != config.MaxSuggestionsPerRun {
		t.Errorf("created = %d, want %d", summary.Created, config.MaxSuggestionsPerRun)
	}
	if len(anns.created) != config.MaxSuggestionsPerRun {
		t.Errorf("persisted %d, want %d", len(anns.created), config.MaxSuggestionsPerRun)
	}
	found := false
	for _, w := range summary.Warnings {
		if strings.Contains(w, "25 suggestions") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings %v should mention the dropped overflow", summary.Warnings)
	}
}

func TestRunStoreFailureIsIndependent(t *testing.T) {
	provider := canned.NewProvider()
	provider.ScriptGenerate(`[
		{"category": "general", "suggestion_type": "structural", "body": "First."},
		{"category": "general", "suggestion_type": "structural", "body": "Second."},
		{"category": "general", "suggestion_type": "structural", "body": "Third."}
	]`)
	runner, _, anns, logs := newTestRunner(provider)
	anns.failBody = "Second."
	anns.createErr = errors.New("disk full")

	summary, err := runner.Run(context.Background(), &RunRequest{ResourceID: "note-1", OwnerID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Created != 2 || summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if logs.logs[0].Status != models.ProcessingStatusPartialSuccess {
		t.Errorf("log status = %q, want partial_success", logs.logs[0].Status)
	}
}

func TestRunRejectsUnsupportedModel(t *testing.T) {
	runner, _, _, logs := newTestRunner(canned.NewProvider())

	_, err := runner.Run(context.Background(), &RunRequest{ResourceID: "note-1", OwnerID: "user-1", Model: "gpt-unknown"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if len(logs.logs) != 0 {
		t.Errorf("created %d logs, want 0: rejected requests leave no run record", len(logs.logs))
	}
}

func TestRunRequiresResourceID(t *testing.T) {
	runner, _, _, _ := newTestRunner(canned.NewProvider())
	_, err := runner.Run(context.Background(), &RunRequest{OwnerID: "user-1"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}
