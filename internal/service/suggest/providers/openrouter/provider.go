package openrouter

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	suggestSvc "marginalia/internal/domain/services/suggest"
)

const baseURL = "https://openrouter.ai/api/v1"

// Provider implements the suggestion Provider interface against OpenRouter's
// OpenAI-compatible endpoint, which routes to many model families.
type Provider struct {
	client  *openai.Client
	prompts suggestSvc.PromptRenderer
}

// NewProvider creates a new OpenRouter provider with the given API key.
func NewProvider(apiKey string, prompts suggestSvc.PromptRenderer) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter API key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL

	return &Provider{
		client:  openai.NewClientWithConfig(cfg),
		prompts: prompts,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "openrouter"
}

// SupportsModel returns true for any model: OpenRouter routes by the
// "vendor/model" identifier itself.
func (p *Provider) SupportsModel(model string) bool {
	return model != ""
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
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openrouter API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openrouter response contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
