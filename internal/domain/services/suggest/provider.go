package suggest

import "context"

// Provider is the boundary to the external suggestion generator. The engine
// treats whatever comes back as untrusted text: providers return the raw
// model output and the pipeline owns all parsing and validation.
type Provider interface {
	// Generate performs the single model call of a suggestion run and
	// returns the raw response text.
	Generate(ctx context.Context, req *GenerateRequest) (string, error)

	// Refine asks the model to revise one suggestion's selected span after
	// an anchoring failure. Returns the raw response text, from which the
	// pipeline extracts the revised span.
	Refine(ctx context.Context, req *RefineRequest) (string, error)

	// Name returns the provider name (e.g. "anthropic", "openrouter")
	Name() string

	// SupportsModel returns true if the provider supports the given model.
	SupportsModel(model string) bool
}

// GenerateRequest carries the context for one suggestion run.
//
// DocumentText is never truncated before being sent: shortening source
// material silently degrades anchoring accuracy. Only Metadata values may be
// clipped by the prompt builder.
type GenerateRequest struct {
	Model string

	// DocumentText is the note's full plain-text content.
	DocumentText string

	// Metadata holds resource fields relevant to the note's type.
	Metadata map[string]string

	// ExistingSuggestions are the bodies of already-active AI annotations,
	// fed back to discourage duplicates.
	ExistingSuggestions []string

	// MaxSuggestions is the per-run cap, told to the model up front so it
	// does not emit output that will never be processed.
	MaxSuggestions int
}

// RefineRequest carries one anchoring failure back to the model.
type RefineRequest struct {
	Model        string
	DocumentText string

	// Body is the suggestion whose span failed to anchor.
	Body string

	// PreviousSpan is the selected text that failed.
	PreviousSpan string

	// Feedback describes the failure ("text not found" vs "text occurs N
	// times, expand to a unique phrase").
	Feedback string
}

// PromptRenderer turns structured requests into the prompt text providers
// send to their models. Implemented by the suggestion service's prompt
// builder; providers depend only on this interface.
type PromptRenderer interface {
	BuildGenerate(req *GenerateRequest) string
	BuildRefine(req *RefineRequest) string
}
