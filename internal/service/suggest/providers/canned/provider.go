// Package canned is a deterministic suggestion provider for development and
// tests: no API keys, no network, scripted responses.
package canned

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	suggestSvc "marginalia/internal/domain/services/suggest"
)

// Provider returns scripted suggestion responses. By default it proposes one
// anchored rewording of the document's first sentence; tests can script
// exact generate/refine outputs instead.
type Provider struct {
	mu             sync.Mutex
	generateScript []string
	refineScript   []string
	generateCalls  int
	refineCalls    int
}

// NewProvider creates a canned provider with default behavior.
func NewProvider() *Provider {
	return &Provider{}
}

// ScriptGenerate queues raw responses returned by successive Generate calls.
func (p *Provider) ScriptGenerate(responses ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generateScript = append(p.generateScript, responses...)
}

// ScriptRefine queues raw responses returned by successive Refine calls.
func (p *Provider) ScriptRefine(responses ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refineScript = append(p.refineScript, responses...)
}

// GenerateCalls reports how many Generate calls the provider served.
func (p *Provider) GenerateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generateCalls
}

// RefineCalls reports how many Refine calls the provider served.
func (p *Provider) RefineCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refineCalls
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "canned"
}

// SupportsModel returns true if the model name starts with "canned-".
// Example models: "canned-default", "canned-test".
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "canned-")
}

// Generate returns the next scripted response, or a default single anchored
// suggestion over the document's first sentence.
func (p *Provider) Generate(ctx context.Context, req *suggestSvc.GenerateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.generateCalls++
	if len(p.generateScript) > 0 {
		resp := p.generateScript[0]
		p.generateScript = p.generateScript[1:]
		return resp, nil
	}

	span := firstSentence(req.DocumentText)
	entry := map[string]interface{}{
		"category":        "anchored",
		"suggestion_type": "rewording",
		"body":            "Consider tightening this opening sentence.",
		"selected_text":   span,
	}
	if span == "" {
		entry = map[string]interface{}{
			"category":        "general",
			"suggestion_type": "structural",
			"body":            "The note is empty; add an opening summary.",
			"selected_text":   nil,
		}
	}
	out, err := json.Marshal([]interface{}{entry})
	if err != nil {
		return "", fmt.Errorf("marshal canned suggestion: %w", err)
	}
	return string(out), nil
}

// Refine returns the next scripted response; unscripted it echoes the
// previous span back, which will exhaust the retry budget.
func (p *Provider) Refine(ctx context.Context, req *suggestSvc.RefineRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.refineCalls++
	if len(p.refineScript) > 0 {
		resp := p.refineScript[0]
		p.refineScript = p.refineScript[1:]
		return resp, nil
	}
	return fmt.Sprintf("{\"selected_text\": %q}", req.PreviousSpan), nil
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		return text[:i+1]
	}
	if len(text) > 80 {
		return text[:80]
	}
	return text
}
