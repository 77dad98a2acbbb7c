package suggest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"marginalia/internal/domain/models"
	"marginalia/internal/service/suggest/providers/canned"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func TestAnchorAllUniqueFirstAttempt(t *testing.T) {
	doc := "The key factor is timing. Everything else follows from it."
	provider := canned.NewProvider()
	an := NewAnchorer(provider, testLogger())

	out, err := an.AnchorAll(context.Background(), []models.RawSuggestion{{
		Category:       models.SuggestionCategoryAnchored,
		SuggestionType: models.SuggestionTypeRewording,
		Body:           "Lead with the consequence instead.",
		SelectedText:   strPtr("Everything else follows"),
	}}, doc, "canned-test", "note-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out.Annotations) != 1 {
		t.Fatalf("got %d annotations, want 1", len(out.Annotations))
	}
	a := out.Annotations[0]
	if !a.Anchored() {
		t.Fatal("annotation should be anchored")
	}
	wantStart := strings.Index(doc, "Everything else follows")
	if *a.StartOffset != wantStart || *a.EndOffset != wantStart+len("Everything else follows") {
		t.Errorf("anchor [%d,%d), want [%d,%d)", *a.StartOffset, *a.EndOffset, wantStart, wantStart+len("Everything else follows"))
	}
	if *a.QuotedText != "Everything else follows" {
		t.Errorf("quoted text = %q", *a.QuotedText)
	}
	if a.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", a.RetryCount)
	}
	if !a.CreatedByAI {
		t.Error("annotation should be marked AI-created")
	}
	if provider.RefineCalls() != 0 {
		t.Errorf("refine calls = %d, want 0", provider.RefineCalls())
	}
}

func TestAnchorAllAmbiguousSpanRetriesToUnique(t *testing.T) {
	doc := "The key factor is timing. Markets reward patience. The key factor cannot be rushed."
	provider := canned.NewProvider()
	provider.ScriptRefine(`{"selected_text": "The key factor is timing"}`)
	an := NewAnchorer(provider, testLogger())

	out, err := an.AnchorAll(context.Background(), []models.RawSuggestion{{
		Category:       models.SuggestionCategoryAnchored,
		SuggestionType: models.SuggestionTypeRewording,
		Body:           "Name the factor explicitly.",
		SelectedText:   strPtr("The key factor"),
	}}, doc, "canned-test", "note-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out.Annotations) != 1 {
		t.Fatalf("got %d annotations (failed: %+v), want 1", len(out.Annotations), out.Failed)
	}
	a := out.Annotations[0]
	if *a.QuotedText != "The key factor is timing" {
		t.Errorf("quoted text = %q", *a.QuotedText)
	}
	if *a.StartOffset != 0 {
		t.Errorf("start = %d, want 0", *a.StartOffset)
	}
	if a.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", a.RetryCount)
	}
	if provider.RefineCalls() != 1 {
		t.Errorf("refine calls = %d, want 1", provider.RefineCalls())
	}
}

func TestAnchorAllShortSpanRejectedWithoutRetry(t *testing.T) {
	provider := canned.NewProvider()
	an := NewAnchorer(provider, testLogger())

	out, err := an.AnchorAll(context.Background(), []models.RawSuggestion{
		{
			Category:       models.SuggestionCategoryAnchored,
			SuggestionType: models.SuggestionTypeRewording,
			Body:           "Too small to anchor.",
			SelectedText:   strPtr("and"),
		},
		{
			Category:       models.SuggestionCategoryAnchored,
			SuggestionType: models.SuggestionTypeRewording,
			Body:           "No span at all.",
		},
	}, "Sand and sea and sky.", "canned-test", "note-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out.Annotations) != 0 {
		t.Errorf("got %d annotations, want 0", len(out.Annotations))
	}
	if len(out.Skipped) != 2 {
		t.Fatalf("got %d skipped, want 2", len(out.Skipped))
	}
	if provider.RefineCalls() != 0 {
		t.Errorf("refine calls = %d, want 0: short spans must not be retried", provider.RefineCalls())
	}
}

func TestAnchorAllExhaustsRetryBudget(t *testing.T) {
	// Unscripted Refine echoes the previous span, so a span that is not in
	// the document stays unresolvable through every attempt.
	provider := canned.NewProvider()
	an := NewAnchorer(provider, testLogger())

	out, err := an.AnchorAll(context.Background(), []models.RawSuggestion{
		{
			Category:       models.SuggestionCategoryAnchored,
			SuggestionType: models.SuggestionTypeFactualCorrection,
			Body:           "This quote does not exist.",
			SelectedText:   strPtr("a phrase the note never contained"),
		},
		{
			Category:       models.SuggestionCategoryGeneral,
			SuggestionType: models.SuggestionTypeStructural,
			Body:           "Still processed after the failure.",
		},
	}, "Short note about something else entirely.", "canned-test", "note-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out.Failed) != 1 {
		t.Fatalf("got %d failed, want 1", len(out.Failed))
	}
	failure := out.Failed[0]
	if len(failure.AttemptedSpans) != 3 {
		t.Errorf("attempted spans = %d, want 3 (total attempts)", len(failure.AttemptedSpans))
	}
	// Two refine calls: after attempts 1 and 2, none after the last.
	if provider.RefineCalls() != 2 {
		t.Errorf("refine calls = %d, want 2", provider.RefineCalls())
	}
	// The sibling general suggestion still landed.
	if len(out.Annotations) != 1 {
		t.Fatalf("got %d annotations, want 1", len(out.Annotations))
	}
	if out.Annotations[0].Anchored() {
		t.Error("general suggestion should not be anchored")
	}
}

func TestAnchorAllRefineParseFailureEndsSuggestion(t *testing.T) {
	provider := canned.NewProvider()
	provider.ScriptRefine("I cannot help with that.")
	an := NewAnchorer(provider, testLogger())

	out, err := an.AnchorAll(context.Background(), []models.RawSuggestion{{
		Category:       models.SuggestionCategoryAnchored,
		SuggestionType: models.SuggestionTypeRewording,
		Body:           "Doomed negotiation.",
		SelectedText:   strPtr("missing phrase here"),
	}}, "Nothing matches.", "canned-test", "note-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out.Failed) != 1 {
		t.Fatalf("got %d failed, want 1", len(out.Failed))
	}
	if !strings.Contains(out.Failed[0].Reason, "refinement failed") {
		t.Errorf("reason = %q", out.Failed[0].Reason)
	}
}

func TestAnchorAllTruncatesOversizedBody(t *testing.T) {
	provider := canned.NewProvider()
	an := NewAnchorer(provider, testLogger())

	long := strings.Repeat("x", 300)
	out, err := an.AnchorAll(context.Background(), []models.RawSuggestion{{
		Category:       models.SuggestionCategoryGeneral,
		SuggestionType: models.SuggestionTypeStructural,
		Body:           long,
	}}, "Document text.", "canned-test", "note-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := out.Annotations[0]
	if !strings.HasSuffix(a.Body, TruncationMarker) {
		t.Errorf("body should end with truncation marker, got %q", a.Body[len(a.Body)-10:])
	}
	if len(a.Body) != an.MaxBodyLength+len(TruncationMarker) {
		t.Errorf("body length = %d", len(a.Body))
	}
	if len(out.Warnings) != 1 {
		t.Errorf("warnings = %v, want exactly one truncation warning", out.Warnings)
	}
}

func TestAnchorAllCancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	an := NewAnchorer(canned.NewProvider(), testLogger())
	_, err := an.AnchorAll(ctx, []models.RawSuggestion{{
		Category:       models.SuggestionCategoryGeneral,
		SuggestionType: models.SuggestionTypeStructural,
		Body:           "Never processed.",
	}}, "Document.", "canned-test", "note-1", "user-1")
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestAnchorFeedbackDistinguishesMissingFromAmbiguous(t *testing.T) {
	missing := anchorFeedback("phrase", 0)
	if !strings.Contains(missing, "not found") {
		t.Errorf("missing feedback = %q", missing)
	}
	ambiguous := anchorFeedback("phrase", 3)
	if !strings.Contains(ambiguous, "3 times") || !strings.Contains(ambiguous, "expand") {
		t.Errorf("ambiguous feedback = %q", ambiguous)
	}
	if missing == ambiguous {
		t.Error("feedback must differ by failure mode")
	}
}

func TestAnchorFeedbackNamesTheSpan(t *testing.T) {
	got := anchorFeedback("the exact words", 0)
	if !strings.Contains(got, fmt.Sprintf("%q", "the exact words")) {
		t.Errorf("feedback should quote the span: %q", got)
	}
}
