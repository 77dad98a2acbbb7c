package anchor

import (
	"marginalia/internal/config"
	"marginalia/internal/domain/models"
)

// Span is a half-open character range [Start, End) into a document's
// plain-text content.
type Span struct {
	Start int
	End   int
}

// Shift recomputes a span after one contiguous edit:
//
//   - edit at or after End: span unaffected (an insert exactly at End does
//     not extend the span)
//   - edit at or before Start: the whole span moves, floored at 0
//   - edit strictly inside: End moves, floored at Start+1, Start stays
func (s Span) Shift(change TextChange) Span {
	switch {
	case change.Start >= s.End:
		return s
	case change.Start <= s.Start:
		start := s.Start + change.Length
		end := s.End + change.Length
		if start < 0 {
			start = 0
		}
		if end < start+1 {
			end = start + 1
		}
		return Span{Start: start, End: end}
	default:
		end := s.End + change.Length
		if end < s.Start+1 {
			end = s.Start + 1
		}
		return Span{Start: s.Start, End: end}
	}
}

// UpdateAnchors applies one observed text change to every anchored
// annotation in anns, in place, then re-evaluates staleness against the
// current full text. Returns the annotations whose stored fields changed and
// therefore need persisting.
//
// Staleness is judged against the span's original quoted text once one has
// been preserved, so a drifted span that is edited back to (something close
// to) its original wording recovers:
//   - current span text equals the reference: in sync, staleness cleared
//   - similarity(current, reference) < threshold: mark stale, preserve
//     OriginalQuotedText once (never overwritten while stale), resync QuotedText
//   - similarity >= threshold: clear staleness if set, resync QuotedText
func UpdateAnchors(anns []*models.Annotation, change TextChange, fullText string) []*models.Annotation {
	var dirty []*models.Annotation
	for _, a := range anns {
		if !a.Anchored() || a.IsReply() {
			continue
		}
		if updateOne(a, change, fullText) {
			dirty = append(dirty, a)
		}
	}
	return dirty
}

func updateOne(a *models.Annotation, change TextChange, fullText string) bool {
	span := Span{Start: *a.StartOffset, End: *a.EndOffset}
	shifted := span.Shift(change)

	changed := shifted != span
	if changed {
		*a.StartOffset = shifted.Start
		*a.EndOffset = shifted.End
	}

	current := sliceText(fullText, shifted)

	// The comparison reference is the original quoted text when staleness
	// has already preserved one, otherwise the live quoted text.
	reference := *a.QuotedText
	if a.OriginalQuotedText != nil {
		reference = *a.OriginalQuotedText
	}

	if current == reference {
		if a.IsStale {
			a.IsStale = false
			changed = true
		}
		if *a.QuotedText != current {
			*a.QuotedText = current
			changed = true
		}
		return changed
	}

	if current == *a.QuotedText {
		// Span text did not move under this edit; staleness state stands.
		return changed
	}

	if Similarity(current, reference) < config.StaleSimilarityThreshold {
		a.IsStale = true
		if a.OriginalQuotedText == nil {
			orig := *a.QuotedText
			a.OriginalQuotedText = &orig
		}
	} else if a.IsStale {
		a.IsStale = false
	}

	// Similarity held or drifted; either way the live text wins.
	*a.QuotedText = current
	return true
}

// sliceText extracts the span from text, clamping out-of-range offsets so a
// drifted anchor degrades to an empty or shortened quote instead of a panic.
func sliceText(text string, s Span) string {
	start, end := s.Start, s.End
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	if start >= end {
		return ""
	}
	return text[start:end]
}
