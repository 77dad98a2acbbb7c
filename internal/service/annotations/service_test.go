package annotations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"marginalia/internal/domain"
	"marginalia/internal/domain/models"
	"marginalia/internal/domain/repositories"
	annotationsSvc "marginalia/internal/domain/services/annotations"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeNoteRepo struct {
	notes          map[string]*models.Note
	updateContents int
}

func (f *fakeNoteRepo) GetByID(_ context.Context, id, ownerID string) (*models.Note, error) {
	n, ok := f.notes[id]
	if !ok || n.OwnerID != ownerID {
		return nil, fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
	}
	return n, nil
}

func (f *fakeNoteRepo) Create(_ context.Context, n *models.Note) error {
	f.notes[n.ID] = n
	return nil
}

func (f *fakeNoteRepo) UpdateContent(_ context.Context, id, _ string, content string, wordCount int) error {
	f.updateContents++
	if n, ok := f.notes[id]; ok {
		n.Content = content
		n.WordCount = wordCount
	}
	return nil
}

func (f *fakeNoteRepo) ListByOwner(_ context.Context, _ string) ([]*models.Note, error) {
	return nil, nil
}

// fakeAnnotationRepo keeps annotations in insertion order and can inject a
// tail conflict on the first CreateReply.
type fakeAnnotationRepo struct {
	anns []*models.Annotation

	conflictOnce      bool // next CreateReply returns ErrConflict, then clears
	replyAttempts     int
	anchorUpdates     []*models.Annotation
	threadPrevUpdates map[string]string
	deleted           []string
}

func (f *fakeAnnotationRepo) Create(_ context.Context, a *models.Annotation) error {
	a.ID = fmt.Sprintf("ann-%d", len(f.anns)+1)
	a.CreatedAt = time.Now()
	f.anns = append(f.anns, a)
	return nil
}

func (f *fakeAnnotationRepo) CreateReply(ctx context.Context, a *models.Annotation, _ string) error {
	f.replyAttempts++
	if f.conflictOnce {
		f.conflictOnce = false
		return fmt.Errorf("reply tail moved: %w", domain.ErrConflict)
	}
	return f.Create(ctx, a)
}

func (f *fakeAnnotationRepo) GetByID(_ context.Context, id, ownerID string) (*models.Annotation, error) {
	for _, a := range f.anns {
		if a.ID == id && a.OwnerID == ownerID {
			return a, nil
		}
	}
	return nil, fmt.Errorf("annotation %s: %w", id, domain.ErrNotFound)
}

func (f *fakeAnnotationRepo) ListByResource(_ context.Context, resourceID, ownerID string, status *models.AnnotationStatus) ([]*models.Annotation, error) {
	var out []*models.Annotation
	for _, a := range f.anns {
		if a.ResourceID != resourceID || a.OwnerID != ownerID {
			continue
		}
		if status != nil && a.Status != *status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAnnotationRepo) ListReplies(_ context.Context, rootID, ownerID string) ([]*models.Annotation, error) {
	var out []*models.Annotation
	for _, a := range f.anns {
		if a.OwnerID == ownerID && a.ThreadRootID != nil && *a.ThreadRootID == rootID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAnnotationRepo) Update(_ context.Context, id, ownerID string, upd *repositories.AnnotationUpdate) (*models.Annotation, error) {
	a, err := f.GetByID(context.Background(), id, ownerID)
	if err != nil {
		return nil, err
	}
	if upd.Status != nil {
		a.Status = *upd.Status
	}
	if upd.ResolvedAt != nil {
		if *upd.ResolvedAt {
			now := time.Now()
			a.ResolvedAt = &now
		} else {
			a.ResolvedAt = nil
		}
	}
	return a, nil
}

func (f *fakeAnnotationRepo) UpdateAnchor(_ context.Context, a *models.Annotation) error {
	f.anchorUpdates = append(f.anchorUpdates, a)
	return nil
}

func (f *fakeAnnotationRepo) UpdateThreadPrev(_ context.Context, id, _, prevID string) error {
	if f.threadPrevUpdates == nil {
		f.threadPrevUpdates = make(map[string]string)
	}
	f.threadPrevUpdates[id] = prevID
	for _, a := range f.anns {
		if a.ID == id {
			p := prevID
			a.ThreadPrevID = &p
		}
	}
	return nil
}

func (f *fakeAnnotationRepo) Delete(_ context.Context, id, _ string) error {
	f.deleted = append(f.deleted, id)
	for i, a := range f.anns {
		if a.ID == id {
			f.anns = append(f.anns[:i], f.anns[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("annotation %s: %w", id, domain.ErrNotFound)
}

func (f *fakeAnnotationRepo) DeleteThread(_ context.Context, rootID, _ string) error {
	kept := f.anns[:0]
	for _, a := range f.anns {
		if a.ID == rootID || (a.ThreadRootID != nil && *a.ThreadRootID == rootID) {
			f.deleted = append(f.deleted, a.ID)
			continue
		}
		kept = append(kept, a)
	}
	f.anns = kept
	return nil
}

type fakeTxManager struct{}

func (fakeTxManager) ExecTx(ctx context.Context, fn repositories.TxFn) error { return fn(ctx) }

func newTestService() (annotationsSvc.Service, *fakeNoteRepo, *fakeAnnotationRepo) {
	notes := &fakeNoteRepo{notes: map[string]*models.Note{
		"note-1": {
			ID:      "note-1",
			OwnerID: "user-1",
			Title:   "Drafts",
			Content: "The key factor is timing. Everything else follows.",
		},
	}}
	anns := &fakeAnnotationRepo{}
	svc := NewService(anns, notes, fakeTxManager{}, nil, testLogger())
	return svc, notes, anns
}

func intPtr(i int) *int { return &i }

func TestCreateRootAnchoredDerivesQuoteFromNote(t *testing.T) {
	svc, _, _ := newTestService()

	a, err := svc.CreateRoot(context.Background(), &annotationsSvc.CreateRootRequest{
		ResourceID:  "note-1",
		OwnerID:     "user-1",
		Body:        "Strong opening.",
		StartOffset: intPtr(0),
		EndOffset:   intPtr(14),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Anchored() {
		t.Fatal("annotation should be anchored")
	}
	if *a.QuotedText != "The key factor" {
		t.Errorf("quoted text = %q, want it sliced from the note", *a.QuotedText)
	}
}

func TestCreateRootRejectsOutOfRangeAnchor(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.CreateRoot(context.Background(), &annotationsSvc.CreateRootRequest{
		ResourceID:  "note-1",
		OwnerID:     "user-1",
		Body:        "Off the end.",
		StartOffset: intPtr(40),
		EndOffset:   intPtr(9000),
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestCreateRootRejectsHalfSpecifiedAnchor(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.CreateRoot(context.Background(), &annotationsSvc.CreateRootRequest{
		ResourceID:  "note-1",
		OwnerID:     "user-1",
		Body:        "Half an anchor.",
		StartOffset: intPtr(0),
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestCreateReplyChainsOntoTail(t *testing.T) {
	svc, _, _ := newTestService()

	root, err := svc.CreateRoot(context.Background(), &annotationsSvc.CreateRootRequest{
		ResourceID: "note-1", OwnerID: "user-1", Body: "Root.",
	})
	if err != nil {
		t.Fatalf("create root: %v", err)
	}

	r1, err := svc.CreateReply(context.Background(), &annotationsSvc.CreateReplyRequest{
		RootID: root.ID, OwnerID: "user-1", Body: "First reply.",
	})
	if err != nil {
		t.Fatalf("first reply: %v", err)
	}
	if *r1.ThreadPrevID != root.ID {
		t.Errorf("first reply prev = %q, want root %q", *r1.ThreadPrevID, root.ID)
	}

	r2, err := svc.CreateReply(context.Background(), &annotationsSvc.CreateReplyRequest{
		RootID: root.ID, OwnerID: "user-1", Body: "Second reply.",
	})
	if err != nil {
		t.Fatalf("second reply: %v", err)
	}
	if *r2.ThreadPrevID != r1.ID {
		t.Errorf("second reply prev = %q, want %q", *r2.ThreadPrevID, r1.ID)
	}
}

func TestCreateReplyRetriesOnceOnTailConflict(t *testing.T) {
	svc, _, anns := newTestService()

	root, err := svc.CreateRoot(context.Background(), &annotationsSvc.CreateRootRequest{
		ResourceID: "note-1", OwnerID: "user-1", Body: "Root.",
	})
	if err != nil {
		t.Fatalf("create root: %v", err)
	}

	anns.conflictOnce = true
	reply, err := svc.CreateReply(context.Background(), &annotationsSvc.CreateReplyRequest{
		RootID: root.ID, OwnerID: "user-1", Body: "Raced reply.",
	})
	if err != nil {
		t.Fatalf("reply should succeed on retry: %v", err)
	}
	if anns.replyAttempts != 2 {
		t.Errorf("reply attempts = %d, want 2", anns.replyAttempts)
	}
	if reply.ID == "" {
		t.Error("retried reply was not persisted")
	}
}

func TestCreateReplyRejectsNesting(t *testing.T) {
	svc, _, _ := newTestService()

	root, _ := svc.CreateRoot(context.Background(), &annotationsSvc.CreateRootRequest{
		ResourceID: "note-1", OwnerID: "user-1", Body: "Root.",
	})
	r1, _ := svc.CreateReply(context.Background(), &annotationsSvc.CreateReplyRequest{
		RootID: root.ID, OwnerID: "user-1", Body: "Reply.",
	})

	_, err := svc.CreateReply(context.Background(), &annotationsSvc.CreateReplyRequest{
		RootID: r1.ID, OwnerID: "user-1", Body: "Reply to a reply.",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestDeleteReplyRelinksChain(t *testing.T) {
	svc, _, anns := newTestService()

	root, _ := svc.CreateRoot(context.Background(), &annotationsSvc.CreateRootRequest{
		ResourceID: "note-1", OwnerID: "user-1", Body: "Root.",
	})
	r1, _ := svc.CreateReply(context.Background(), &annotationsSvc.CreateReplyRequest{RootID: root.ID, OwnerID: "user-1", Body: "One."})
	r2, _ := svc.CreateReply(context.Background(), &annotationsSvc.CreateReplyRequest{RootID: root.ID, OwnerID: "user-1", Body: "Two."})
	r3, _ := svc.CreateReply(context.Background(), &annotationsSvc.CreateReplyRequest{RootID: root.ID, OwnerID: "user-1", Body: "Three."})

	if _, err := svc.Resolve(context.Background(), r2.ID, "user-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := svc.DeleteReply(context.Background(), r2.ID, "user-1"); err != nil {
		t.Fatalf("delete reply: %v", err)
	}

	if got := anns.threadPrevUpdates[r3.ID]; got != r1.ID {
		t.Errorf("r3 relinked to %q, want %q", got, r1.ID)
	}
	if len(anns.deleted) != 1 || anns.deleted[0] != r2.ID {
		t.Errorf("deleted = %v, want [%s]", anns.deleted, r2.ID)
	}
}

func TestDeleteReplyRequiresResolved(t *testing.T) {
	svc, _, _ := newTestService()

	root, _ := svc.CreateRoot(context.Background(), &annotationsSvc.CreateRootRequest{
		ResourceID: "note-1", OwnerID: "user-1", Body: "Root.",
	})
	r1, _ := svc.CreateReply(context.Background(), &annotationsSvc.CreateReplyRequest{RootID: root.ID, OwnerID: "user-1", Body: "Active reply."})

	err := svc.DeleteReply(context.Background(), r1.ID, "user-1")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestDeleteThreadCascades(t *testing.T) {
	svc, _, anns := newTestService()

	root, _ := svc.CreateRoot(context.Background(), &annotationsSvc.CreateRootRequest{
		ResourceID: "note-1", OwnerID: "user-1", Body: "Root.",
	})
	svc.CreateReply(context.Background(), &annotationsSvc.CreateReplyRequest{RootID: root.ID, OwnerID: "user-1", Body: "One."})
	svc.CreateReply(context.Background(), &annotationsSvc.CreateReplyRequest{RootID: root.ID, OwnerID: "user-1", Body: "Two."})

	if err := svc.DeleteThread(context.Background(), root.ID, "user-1"); err != nil {
		t.Fatalf("delete thread: %v", err)
	}
	if len(anns.anns) != 0 {
		t.Errorf("%d annotations remain, want 0", len(anns.anns))
	}
}

func TestSyncEditShiftsAnchorsSynchronously(t *testing.T) {
	svc, notes, anns := newTestService()

	a, err := svc.CreateRoot(context.Background(), &annotationsSvc.CreateRootRequest{
		ResourceID:  "note-1",
		OwnerID:     "user-1",
		Body:        "On the second sentence.",
		StartOffset: intPtr(26),
		EndOffset:   intPtr(42),
	})
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	if *a.QuotedText != "Everything else " {
		t.Fatalf("quoted text = %q", *a.QuotedText)
	}

	// Insert 7 characters before the anchor.
	updated, err := svc.SyncEdit(context.Background(), &annotationsSvc.SyncEditRequest{
		ResourceID: "note-1",
		OwnerID:    "user-1",
		Content:    "Truly, the key factor is timing. Everything else follows.",
	})
	if err != nil {
		t.Fatalf("sync edit: %v", err)
	}
	if updated == nil {
		t.Fatal("expected annotations back")
	}

	got, _ := anns.GetByID(context.Background(), a.ID, "user-1")
	if *got.StartOffset != 33 || *got.EndOffset != 49 {
		t.Errorf("anchor = [%d,%d), want [33,49)", *got.StartOffset, *got.EndOffset)
	}
	if got.IsStale {
		t.Error("pure shift should not mark the anchor stale")
	}
	// With no debounced writer the update is persisted synchronously.
	if len(anns.anchorUpdates) != 1 {
		t.Errorf("anchor updates = %d, want 1", len(anns.anchorUpdates))
	}
	if notes.updateContents != 1 {
		t.Errorf("content updates = %d, want 1", notes.updateContents)
	}
}

func TestSyncEditNoChangeShortCircuits(t *testing.T) {
	svc, notes, anns := newTestService()

	_, err := svc.SyncEdit(context.Background(), &annotationsSvc.SyncEditRequest{
		ResourceID: "note-1",
		OwnerID:    "user-1",
		Content:    notes.notes["note-1"].Content,
	})
	if err != nil {
		t.Fatalf("sync edit: %v", err)
	}
	if len(anns.anchorUpdates) != 0 {
		t.Errorf("anchor updates = %d, want 0", len(anns.anchorUpdates))
	}
}

func TestSyncEditQueuesThroughDebouncedWriter(t *testing.T) {
	notes := &fakeNoteRepo{notes: map[string]*models.Note{
		"note-1": {ID: "note-1", OwnerID: "user-1", Content: "The key factor is timing. Everything else follows."},
	}}
	anns := &fakeAnnotationRepo{}
	writer := NewDebouncedWriter(anns, time.Hour, testLogger())
	svc := NewService(anns, notes, fakeTxManager{}, writer, testLogger())

	_, err := svc.CreateRoot(context.Background(), &annotationsSvc.CreateRootRequest{
		ResourceID:  "note-1",
		OwnerID:     "user-1",
		Body:        "Anchored.",
		StartOffset: intPtr(26),
		EndOffset:   intPtr(42),
	})
	if err != nil {
		t.Fatalf("create root: %v", err)
	}

	_, err = svc.SyncEdit(context.Background(), &annotationsSvc.SyncEditRequest{
		ResourceID: "note-1",
		OwnerID:    "user-1",
		Content:    "Now, the key factor is timing. Everything else follows.",
	})
	if err != nil {
		t.Fatalf("sync edit: %v", err)
	}

	// The write is held by the debounce window until flushed.
	if len(anns.anchorUpdates) != 0 {
		t.Fatalf("anchor updates before flush = %d, want 0", len(anns.anchorUpdates))
	}
	if err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(anns.anchorUpdates) != 1 {
		t.Errorf("anchor updates after flush = %d, want 1", len(anns.anchorUpdates))
	}
}

func TestDebouncedWriterCoalescesSnapshots(t *testing.T) {
	anns := &fakeAnnotationRepo{}
	writer := NewDebouncedWriter(anns, time.Hour, testLogger())

	start, end := 5, 12
	quote := "initial"
	a := &models.Annotation{ID: "ann-1", Kind: models.AnnotationKindAnchored, StartOffset: &start, EndOffset: &end, QuotedText: &quote}

	writer.Queue("note-1", []*models.Annotation{a})
	// Mutate after queueing; the snapshot must not follow.
	*a.StartOffset = 99

	second := *a
	s2, e2, q2 := 7, 14, "revised"
	second.StartOffset, second.EndOffset, second.QuotedText = &s2, &e2, &q2
	writer.Queue("note-1", []*models.Annotation{&second})

	if err := writer.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(anns.anchorUpdates) != 1 {
		t.Fatalf("updates = %d, want 1 coalesced write", len(anns.anchorUpdates))
	}
	got := anns.anchorUpdates[0]
	if *got.StartOffset != 7 || *got.QuotedText != "revised" {
		t.Errorf("flushed [%d, %q], want the latest snapshot", *got.StartOffset, *got.QuotedText)
	}
}

func TestFlushWithNoWriterIsNoop(t *testing.T) {
	svc, _, _ := newTestService()
	if err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}
