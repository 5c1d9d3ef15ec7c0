// Package llm provides the language-model capability used by the augmenter
// and the synthesizer, with one implementation per supported provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured is returned by Execute when no provider is configured.
var ErrNotConfigured = errors.New("language model not configured")

// Result is one model response.
type Result struct {
	Content    string
	TokenUsage int
	ModelID    string
}

// LanguageModel executes a single system+user exchange. An empty model
// selects the provider's configured default.
type LanguageModel interface {
	Execute(ctx context.Context, system, user, model string) (Result, error)
}

// Provider names.
const (
	ProviderNone       = "none"
	ProviderOllama     = "ollama"
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
)

// Providers lists the accepted provider names.
var Providers = []string{ProviderNone, ProviderOllama, ProviderOpenRouter, ProviderOpenAI, ProviderAnthropic, ProviderGemini}

// Config selects and configures a provider.
type Config struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
}

// New builds the LanguageModel for cfg. The "none" provider yields a model
// whose every call fails with ErrNotConfigured.
func New(ctx context.Context, cfg Config) (LanguageModel, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderNone:
		return Unconfigured{}, nil
	case ProviderOllama:
		return NewOllama(cfg.BaseURL, cfg.Model), nil
	case ProviderOpenRouter:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openrouter: API key required")
		}
		c := NewOpenRouter(cfg.APIKey, cfg.Model)
		if cfg.BaseURL != "" {
			c.baseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
		return c, nil
	case ProviderOpenAI, ProviderAnthropic:
		return NewLangChain(cfg)
	case ProviderGemini:
		return NewGemini(ctx, cfg.APIKey, cfg.Model)
	}
	return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
}

// Unconfigured is the LanguageModel used when no provider is set.
type Unconfigured struct{}

// Execute always fails with ErrNotConfigured.
func (Unconfigured) Execute(context.Context, string, string, string) (Result, error) {
	return Result{}, ErrNotConfigured
}

// IsConfigured reports whether m can make real calls.
func IsConfigured(m LanguageModel) bool {
	if m == nil {
		return false
	}
	_, none := m.(Unconfigured)
	return !none
}
