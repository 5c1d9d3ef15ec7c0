package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChain wraps a langchaingo model for the OpenAI and Anthropic providers.
type LangChain struct {
	llm       llms.Model
	modelName string
}

// NewLangChain creates a langchaingo-backed model for cfg.Provider.
func NewLangChain(cfg Config) (*LangChain, error) {
	var (
		model llms.Model
		err   error
	)

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey), openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		opts := []anthropic.Option{anthropic.WithToken(cfg.APIKey), anthropic.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		model, err = anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	return &LangChain{llm: model, modelName: cfg.Model}, nil
}

// Execute generates a completion with a system prompt.
func (m *LangChain) Execute(ctx context.Context, system, user, model string) (Result, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	var opts []llms.CallOption
	if model == "" {
		model = m.modelName
	} else {
		opts = append(opts, llms.WithModel(model))
	}

	response, err := m.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return Result{}, fmt.Errorf("generate with system: %w", err)
	}
	if len(response.Choices) == 0 {
		return Result{}, fmt.Errorf("no response choices")
	}

	choice := response.Choices[0]
	return Result{
		Content:    choice.Content,
		TokenUsage: tokenUsage(choice.GenerationInfo),
		ModelID:    model,
	}, nil
}

// tokenUsage reads the provider-specific usage keys langchaingo reports.
func tokenUsage(info map[string]any) int {
	if n, ok := asInt(info["TotalTokens"]); ok {
		return n
	}
	in, _ := asInt(info["InputTokens"])
	out, _ := asInt(info["OutputTokens"])
	return in + out
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
