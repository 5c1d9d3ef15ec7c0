package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

var errEmptyCandidate = errors.New("gemini: empty response")

// Gemini is a thin wrapper around the official genai client.
type Gemini struct {
	cli   *genai.Client
	model string
}

// NewGemini creates a Gemini API client.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key required")
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{cli: cli, model: model}, nil
}

// Execute requests an application/json response with the system prompt set
// as the system instruction.
func (g *Gemini) Execute(ctx context.Context, system, user, model string) (Result, error) {
	if model == "" {
		model = g.model
	}
	if model == "" {
		return Result{}, fmt.Errorf("gemini: %w: no model set", ErrNotConfigured)
	}

	resp, err := g.cli.Models.GenerateContent(ctx, model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: user}}}},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		return Result{}, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return Result{}, errEmptyCandidate
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	res := Result{Content: sb.String(), ModelID: model}
	if resp.ModelVersion != "" {
		res.ModelID = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		res.TokenUsage = int(resp.UsageMetadata.TotalTokenCount)
	}
	return res, nil
}
