package suggest

import (
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	suggestSvc "marginalia/internal/domain/services/suggest"
)

//go:embed profiles/*.yaml
var profileFiles embed.FS

// Profiles holds the embedded per-suggestion-type guidance used when
// building generation prompts.
type Profiles struct {
	Types []TypeProfile `yaml:"types"`

	// MetadataValueLimit clips each auxiliary metadata value in the prompt.
	// Document text is never clipped; only metadata may be shortened.
	MetadataValueLimit int `yaml:"metadata_value_limit"`
}

// TypeProfile is the guidance for one suggestion type.
type TypeProfile struct {
	Name     string `yaml:"name"`
	Guidance string `yaml:"guidance"`
}

// LoadProfiles parses the embedded profile file.
func LoadProfiles() (*Profiles, error) {
	data, err := profileFiles.ReadFile("profiles/suggestions.yaml")
	if err != nil {
		return nil, fmt.Errorf("read suggestion profiles: %w", err)
	}
	var p Profiles
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal suggestion profiles: %w", err)
	}
	if len(p.Types) == 0 {
		return nil, fmt.Errorf("suggestion profiles define no types")
	}
	return &p, nil
}

// PromptBuilder renders generation and refinement prompts.
type PromptBuilder struct {
	profiles *Profiles
}

// NewPromptBuilder creates a prompt builder over the given profiles.
func NewPromptBuilder(profiles *Profiles) *PromptBuilder {
	return &PromptBuilder{profiles: profiles}
}

// BuildGenerate renders the prompt for the run's single generation call.
func (b *PromptBuilder) BuildGenerate(req *suggestSvc.GenerateRequest) string {
	var sb strings.Builder

	sb.WriteString("You review a personal note and propose improvement suggestions.\n")
	fmt.Fprintf(&sb, "Return at most %d suggestions as a JSON array, no other text.\n", req.MaxSuggestions)
	sb.WriteString(`Each entry: {"category": "general"|"anchored", "suggestion_type": <type>, "body": <short comment, max 200 chars>, "selected_text": <exact document excerpt or null>}.` + "\n")
	sb.WriteString("For anchored suggestions, selected_text must be copied verbatim from the document and must occur exactly once in it; prefer a phrase of at least five characters.\n\n")

	sb.WriteString("Suggestion types:\n")
	for _, tp := range b.profiles.Types {
		fmt.Fprintf(&sb, "- %s: %s\n", tp.Name, tp.Guidance)
	}

	if len(req.Metadata) > 0 {
		sb.WriteString("\nNote metadata:\n")
		for k, v := range req.Metadata {
			fmt.Fprintf(&sb, "- %s: %s\n", k, b.clipMetadata(v))
		}
	}

	if len(req.ExistingSuggestions) > 0 {
		sb.WriteString("\nSuggestions already made (do not repeat them):\n")
		for _, s := range req.ExistingSuggestions {
			fmt.Fprintf(&sb, "- %s\n", b.clipMetadata(s))
		}
	}

	// The document itself is sent whole; clipping source text silently
	// breaks anchoring.
	sb.WriteString("\nDocument:\n")
	sb.WriteString(req.DocumentText)

	return sb.String()
}

// BuildRefine renders the prompt for one anchoring retry.
func (b *PromptBuilder) BuildRefine(req *suggestSvc.RefineRequest) string {
	var sb strings.Builder

	sb.WriteString("A suggestion you made could not be attached to the document.\n")
	fmt.Fprintf(&sb, "Suggestion: %s\n", req.Body)
	fmt.Fprintf(&sb, "Proposed span: %q\n", req.PreviousSpan)
	fmt.Fprintf(&sb, "Problem: %s\n", req.Feedback)
	sb.WriteString(`Reply with a JSON object {"selected_text": <revised excerpt>} where the excerpt is copied verbatim from the document and occurs exactly once.` + "\n")

	sb.WriteString("\nDocument:\n")
	sb.WriteString(req.DocumentText)

	return sb.String()
}

func (b *PromptBuilder) clipMetadata(v string) string {
	limit := b.profiles.MetadataValueLimit
	if limit <= 0 || len(v) <= limit {
		return v
	}
	return v[:limit] + "…"
}
