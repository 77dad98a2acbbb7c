package models

// SuggestionCategory is the model-declared shape of one suggestion.
type SuggestionCategory string

const (
	SuggestionCategoryGeneral  SuggestionCategory = "general"
	SuggestionCategoryAnchored SuggestionCategory = "anchored"
)

// RawSuggestion is one entry parsed out of a generator response. It is
// untrusted input: SelectedText is a claim that must be verified against
// the real note text before it becomes an anchor.
type RawSuggestion struct {
	Category       SuggestionCategory `json:"category"`
	SuggestionType SuggestionType     `json:"suggestion_type"`
	Body           string             `json:"body"`
	SelectedText   *string            `json:"selected_text"`
}

// AnchorFailure records one suggestion that could not be anchored, with the
// spans attempted across the retry loop. Kept inspectable in the run log.
type AnchorFailure struct {
	Reason         string   `json:"reason"`
	Body           string   `json:"body"`
	AttemptedSpans []string `json:"attempted_spans,omitempty"`
}

// RunSummary is what a suggestion run reports back to its caller: counts,
// not a single boolean.
type RunSummary struct {
	LogID    string          `json:"log_id"`
	Created  int             `json:"created"`
	Skipped  int             `json:"skipped"`
	Failed   int             `json:"failed"`
	Warnings []string        `json:"warnings,omitempty"`
	Failures []AnchorFailure `json:"failures,omitempty"`
}
