package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	suggestSvc "marginalia/internal/domain/services/suggest"
)

// Provider implements the suggestion Provider interface for Anthropic
// (Claude) models.
type Provider struct {
	client  *anthropic.Client
	prompts suggestSvc.PromptRenderer
}

// NewProvider creates a new Anthropic provider with the given API key.
func NewProvider(apiKey string, prompts suggestSvc.PromptRenderer) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Provider{
		client:  &client,
		prompts: prompts,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "anthropic"
}

// SupportsModel returns true if this provider supports the given model.
// Anthropic models start with "claude-".
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

// Generate performs the run's single generation call.
func (p *Provider) Generate(ctx context.Context, req *suggestSvc.GenerateRequest) (string, error) {
	return p.complete(ctx, req.Model, p.prompts.BuildGenerate(req))
}

// Refine asks the model to revise one failed span.
func (p *Provider) Refine(ctx context.Context, req *suggestSvc.RefineRequest) (string, error) {
	return p.complete(ctx, req.Model, p.prompts.BuildRefine(req))
}

func (p *Provider) complete(ctx context.Context, model, prompt string) (string, error) {
	if !p.SupportsModel(model) {
		return "", fmt.Errorf("model '%s' is not supported by Anthropic provider", model)
	}

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var sb strings.Builder
	for _, content := range message.Content {
		if content.Type == "text" {
			sb.WriteString(content.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic response contained no text content")
	}
	return sb.String(), nil
}
