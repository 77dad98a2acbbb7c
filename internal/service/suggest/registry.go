package suggest

import (
	"fmt"
	"log/slog"
	"sync"

	"marginalia/internal/config"
	suggestSvc "marginalia/internal/domain/services/suggest"
	"marginalia/internal/service/suggest/providers/anthropic"
	"marginalia/internal/service/suggest/providers/canned"
	"marginalia/internal/service/suggest/providers/openrouter"
)

// ProviderFactory creates provider instances from configuration.
type ProviderFactory struct {
	cfg     *config.Config
	prompts *PromptBuilder
}

// NewProviderFactory creates a provider factory.
func NewProviderFactory(cfg *config.Config, prompts *PromptBuilder) *ProviderFactory {
	return &ProviderFactory{cfg: cfg, prompts: prompts}
}

// Create instantiates the named provider.
func (f *ProviderFactory) Create(name string) (suggestSvc.Provider, error) {
	switch name {
	case "anthropic":
		return anthropic.NewProvider(f.cfg.AnthropicAPIKey, f.prompts)
	case "openrouter":
		return openrouter.NewProvider(f.cfg.OpenRouterAPIKey, f.prompts)
	case "canned":
		return canned.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown suggestion provider %q", name)
	}
}

// ProviderRegistry routes provider names to cached provider instances.
type ProviderRegistry struct {
	factory *ProviderFactory
	cache   map[string]suggestSvc.Provider
	mu      sync.RWMutex
}

// NewProviderRegistry creates a new provider registry.
func NewProviderRegistry(factory *ProviderFactory) *ProviderRegistry {
	return &ProviderRegistry{
		factory: factory,
		cache:   make(map[string]suggestSvc.Provider),
	}
}

// GetProvider returns a cached provider instance, creating it on first use.
func (r *ProviderRegistry) GetProvider(name string) (suggestSvc.Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("provider cannot be empty")
	}

	// Fast path: read lock for cache hits.
	r.mu.RLock()
	if cached, exists := r.cache[name]; exists {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock.
	if cached, exists := r.cache[name]; exists {
		return cached, nil
	}

	provider, err := r.factory.Create(name)
	if err != nil {
		return nil, fmt.Errorf("create provider %q: %w", name, err)
	}
	r.cache[name] = provider
	return provider, nil
}

// SetupProviders initializes the prompt builder, factory, and registry.
func SetupProviders(cfg *config.Config, logger *slog.Logger) (*ProviderRegistry, *PromptBuilder, error) {
	profiles, err := LoadProfiles()
	if err != nil {
		return nil, nil, fmt.Errorf("load suggestion profiles: %w", err)
	}
	prompts := NewPromptBuilder(profiles)
	registry := NewProviderRegistry(NewProviderFactory(cfg, prompts))

	if cfg.AnthropicAPIKey != "" {
		logger.Info("suggestion provider available", "name", "anthropic", "models", "claude-*")
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set - anthropic provider not available")
	}
	if cfg.OpenRouterAPIKey != "" {
		logger.Info("suggestion provider available", "name", "openrouter")
	}

	return registry, prompts, nil
}
