package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"marginalia/internal/anchor"
	"marginalia/internal/config"
	"marginalia/internal/domain/models"
	suggestSvc "marginalia/internal/domain/services/suggest"
)

// TruncationMarker is appended to suggestion bodies clipped to the maximum
// length, so truncation is visible rather than silent.
const TruncationMarker = " […]"

// Anchorer resolves raw suggestions into annotation records by verifying
// each proposed span against the real document text, negotiating ambiguous
// or missing spans with the provider through a bounded retry loop.
type Anchorer struct {
	provider suggestSvc.Provider
	logger   *slog.Logger

	// MaxAttempts is the total anchoring attempts per suggestion,
	// including the first.
	MaxAttempts int
	// MaxBodyLength clips oversized bodies (with TruncationMarker).
	MaxBodyLength int
	// MinSpanLength rejects too-short spans without retrying.
	MinSpanLength int
}

// NewAnchorer creates an anchorer with the configured limits.
func NewAnchorer(provider suggestSvc.Provider, logger *slog.Logger) *Anchorer {
	return &Anchorer{
		provider:      provider,
		logger:        logger,
		MaxAttempts:   config.MaxAnchorAttempts,
		MaxBodyLength: config.MaxAnnotationBodyLength,
		MinSpanLength: config.MinSelectedTextLength,
	}
}

// Outcome is the result of anchoring one batch of suggestions. Annotations
// are fully populated but not yet persisted.
type Outcome struct {
	Annotations []*models.Annotation
	Skipped     []models.AnchorFailure // validation drops, never retried
	Failed      []models.AnchorFailure // retries exhausted
	Warnings    []string
}

// AnchorAll processes suggestions against the current document text. One
// suggestion's failure never aborts the batch: every suggestion is resolved,
// skipped, or failed independently.
func (an *Anchorer) AnchorAll(ctx context.Context, suggestions []models.RawSuggestion, docText, model, resourceID, ownerID string) (*Outcome, error) {
	out := &Outcome{}

	for i := range suggestions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := suggestions[i]

		body, warning := an.clampBody(s.Body)
		if warning != "" {
			out.Warnings = append(out.Warnings, warning)
		}
		if body == "" {
			out.Skipped = append(out.Skipped, models.AnchorFailure{
				Reason: "empty body",
				Body:   s.Body,
			})
			continue
		}

		if s.Category == models.SuggestionCategoryGeneral {
			out.Annotations = append(out.Annotations, an.buildAnnotation(&s, body, nil, 0, resourceID, ownerID))
			continue
		}

		if s.SelectedText == nil || len(*s.SelectedText) < an.MinSpanLength {
			// No amount of retrying fixes a span that was never going to be
			// unique; drop it up front.
			span := ""
			if s.SelectedText != nil {
				span = *s.SelectedText
			}
			an.logger.Warn("rejected anchored suggestion with too-short span",
				"span_length", len(span), "min", an.MinSpanLength)
			out.Skipped = append(out.Skipped, models.AnchorFailure{
				Reason:         fmt.Sprintf("selected text shorter than %d characters", an.MinSpanLength),
				Body:           body,
				AttemptedSpans: []string{span},
			})
			continue
		}

		resolved, attempts, failure := an.resolveSpan(ctx, docText, body, *s.SelectedText, model)
		if failure != nil {
			out.Failed = append(out.Failed, *failure)
			continue
		}
		out.Annotations = append(out.Annotations, an.buildAnnotation(&s, body, resolved, attempts-1, resourceID, ownerID))
	}

	return out, nil
}

// resolvedSpan is a verified unique anchor.
type resolvedSpan struct {
	Start int
	End   int
	Text  string
}

// resolveSpan runs the exact-match + retry protocol for one suggestion.
// Implemented as an explicit loop with an attempt counter: a misbehaving
// provider cannot cause unbounded call depth.
func (an *Anchorer) resolveSpan(ctx context.Context, docText, body, selected, model string) (*resolvedSpan, int, *models.AnchorFailure) {
	attempted := make([]string, 0, an.MaxAttempts)
	span := selected

	for attempt := 1; attempt <= an.MaxAttempts; attempt++ {
		attempted = append(attempted, span)

		start, count := anchor.FindUnique(docText, span)
		if count == 1 {
			return &resolvedSpan{Start: start, End: start + len(span), Text: span}, attempt, nil
		}

		feedback := anchorFeedback(span, count)
		an.logger.Debug("anchoring attempt failed",
			"attempt", attempt, "occurrences", count, "span_length", len(span))

		if attempt == an.MaxAttempts {
			return nil, attempt, &models.AnchorFailure{
				Reason:         feedback,
				Body:           body,
				AttemptedSpans: attempted,
			}
		}

		revised, err := an.refine(ctx, docText, body, span, feedback, model)
		if err != nil {
			// A failed retry call ends this suggestion's negotiation, not
			// the run.
			an.logger.Warn("span refinement call failed", "error", err)
			return nil, attempt, &models.AnchorFailure{
				Reason:         fmt.Sprintf("refinement failed: %v", err),
				Body:           body,
				AttemptedSpans: attempted,
			}
		}
		span = revised
	}

	// Unreachable: the loop always returns on its final attempt.
	return nil, an.MaxAttempts, &models.AnchorFailure{Reason: "retries exhausted", Body: body, AttemptedSpans: attempted}
}

func (an *Anchorer) refine(ctx context.Context, docText, body, previous, feedback, model string) (string, error) {
	raw, err := an.provider.Refine(ctx, &suggestSvc.RefineRequest{
		Model:        model,
		DocumentText: docText,
		Body:         body,
		PreviousSpan: previous,
		Feedback:     feedback,
	})
	if err != nil {
		return "", err
	}
	revised, err := ParseRefinedSpan(raw)
	if err != nil {
		return "", err
	}
	if len(revised) < an.MinSpanLength {
		return "", fmt.Errorf("revised span shorter than %d characters", an.MinSpanLength)
	}
	return revised, nil
}

func (an *Anchorer) clampBody(body string) (string, string) {
	body = strings.TrimSpace(body)
	if len(body) <= an.MaxBodyLength {
		return body, ""
	}
	clipped := body[:an.MaxBodyLength] + TruncationMarker
	an.logger.Warn("truncated oversized suggestion body",
		"length", len(body), "max", an.MaxBodyLength)
	return clipped, fmt.Sprintf("suggestion body truncated from %d to %d characters", len(body), an.MaxBodyLength)
}

func (an *Anchorer) buildAnnotation(s *models.RawSuggestion, body string, span *resolvedSpan, retries int, resourceID, ownerID string) *models.Annotation {
	a := &models.Annotation{
		ResourceID:       resourceID,
		OwnerID:          ownerID,
		Kind:             models.AnnotationKindGeneral,
		Status:           models.AnnotationStatusActive,
		Body:             body,
		CreatedByAI:      true,
		AISuggestionType: s.SuggestionType,
		RetryCount:       retries,
	}
	if span != nil {
		a.Kind = models.AnnotationKindAnchored
		start, end, text := span.Start, span.End, span.Text
		a.StartOffset = &start
		a.EndOffset = &end
		a.QuotedText = &text
	}
	return a
}

func anchorFeedback(span string, count int) string {
	if count == 0 {
		return fmt.Sprintf("text %q not found in the document", span)
	}
	return fmt.Sprintf("text %q occurs %d times in the document; expand it to a unique phrase", span, count)
}
