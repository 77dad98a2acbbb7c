package suggest

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"marginalia/internal/domain/models"
)

// ParseResult separates usable suggestions from malformed entries. Only a
// response with no locatable suggestion array at all is a hard failure.
type ParseResult struct {
	Suggestions []models.RawSuggestion
	Warnings    []string
}

// ParseSuggestions extracts suggestions from raw model output.
//
// The output is adversarial input: models wrap JSON in code fences, prepend
// prose, or emit individually malformed entries. Incidental wrapping is
// stripped before structural parsing; malformed entries are dropped with a
// warning rather than failing the run.
func ParseSuggestions(raw string) (*ParseResult, error) {
	payload := extractJSONArray(raw)
	if payload == "" {
		return nil, fmt.Errorf("no suggestion array found in model response")
	}

	parsed := gjson.Parse(payload)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("model response is not a suggestion array")
	}

	result := &ParseResult{}
	parsed.ForEach(func(i, entry gjson.Result) bool {
		s, err := parseEntry(entry)
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("dropped suggestion %d: %v", int(i.Int()), err))
			return true
		}
		result.Suggestions = append(result.Suggestions, *s)
		return true
	})

	if len(result.Suggestions) == 0 && len(result.Warnings) > 0 {
		// Structurally an array, but nothing in it was usable.
		return nil, fmt.Errorf("model response contained no usable suggestions (%d malformed)", len(result.Warnings))
	}
	return result, nil
}

func parseEntry(entry gjson.Result) (*models.RawSuggestion, error) {
	if !entry.IsObject() {
		return nil, fmt.Errorf("entry is not an object")
	}

	category := models.SuggestionCategory(entry.Get("category").String())
	switch category {
	case models.SuggestionCategoryGeneral, models.SuggestionCategoryAnchored:
	default:
		return nil, fmt.Errorf("unknown category %q", entry.Get("category").String())
	}

	body := entry.Get("body").String()
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("empty body")
	}

	suggestionType := models.SuggestionType(entry.Get("suggestion_type").String())
	if !models.ValidSuggestionType(suggestionType) {
		return nil, fmt.Errorf("unknown suggestion type %q", entry.Get("suggestion_type").String())
	}

	s := &models.RawSuggestion{
		Category:       category,
		SuggestionType: suggestionType,
		Body:           body,
	}
	if sel := entry.Get("selected_text"); sel.Exists() && sel.Type == gjson.String {
		text := sel.String()
		s.SelectedText = &text
	}
	return s, nil
}

// ParseRefinedSpan extracts a revised selected span from a retry response.
// Accepts either a bare JSON object with selected_text or a plain string,
// again with wrappers stripped.
func ParseRefinedSpan(raw string) (string, error) {
	cleaned := stripWrappers(raw)

	if parsed := gjson.Parse(cleaned); parsed.IsObject() {
		if sel := parsed.Get("selected_text"); sel.Exists() && sel.Type == gjson.String {
			return sel.String(), nil
		}
		return "", fmt.Errorf("refine response object has no selected_text")
	}

	// Tolerate a quoted or bare string answer.
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.Trim(cleaned, `"`)
	if cleaned == "" {
		return "", fmt.Errorf("empty refine response")
	}
	return cleaned, nil
}

// extractJSONArray locates the outermost JSON array in raw, tolerating code
// fences and surrounding prose. Returns "" if no balanced array is present.
func extractJSONArray(raw string) string {
	cleaned := stripWrappers(raw)

	start := strings.Index(cleaned, "[")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(cleaned, "]")
	if end <= start {
		return ""
	}
	candidate := cleaned[start : end+1]
	if !gjson.Valid(candidate) {
		return ""
	}
	return candidate
}

// stripWrappers removes markdown code fences around a payload.
func stripWrappers(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		// Drop the opening fence line (``` or ```json).
		if nl := strings.Index(s, "\n"); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
