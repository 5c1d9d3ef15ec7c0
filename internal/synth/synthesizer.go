// Package synth runs the narrative pass: it sends the per-ad results and the
// batch aggregates to the model and returns the parsed summary object.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kalambet/creativemri/internal/creative"
	"github.com/kalambet/creativemri/internal/llm"
	"github.com/kalambet/creativemri/internal/llmjson"
	"github.com/kalambet/creativemri/internal/stats"
)

const defaultTimeout = 3 * time.Minute

// Options configures the synthesizer.
type Options struct {
	// SystemPrompt is the narrative instruction. Empty disables synthesis.
	SystemPrompt string
	Model        string
	Timeout      time.Duration
}

// LoadPrompt reads a system prompt from path. An empty path yields "".
func LoadPrompt(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading synthesis prompt: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Synthesizer issues the single narrative request of a run.
type Synthesizer struct {
	model llm.LanguageModel
	opts  Options
}

// New creates a Synthesizer.
func New(model llm.LanguageModel, opts Options) *Synthesizer {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Synthesizer{model: model, opts: opts}
}

// Enabled reports whether a prompt is configured and a model is available.
func (s *Synthesizer) Enabled() bool {
	return s != nil && strings.TrimSpace(s.opts.SystemPrompt) != "" && llm.IsConfigured(s.model)
}

// Payload is the user content of the narrative request.
type Payload struct {
	PerAdMRI          []creative.AugmentedAd   `json:"per_ad_mri"`
	AggregateMetadata *stats.AggregateMetadata `json:"aggregate_metadata"`
}

// Synthesize returns the model's summary object, or nil when synthesis is
// disabled, the call fails, or the response holds no JSON object. It never
// returns an error: a missing summary must not fail the run.
func (s *Synthesizer) Synthesize(ctx context.Context, ads []creative.AugmentedAd, md *stats.AggregateMetadata) map[string]any {
	if !s.Enabled() {
		slog.Debug("synthesis skipped: not configured")
		return nil
	}

	body, err := json.Marshal(Payload{PerAdMRI: ads, AggregateMetadata: md})
	if err != nil {
		slog.Warn("synthesis payload encoding failed", "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	res, err := s.model.Execute(ctx, s.opts.SystemPrompt, string(body), s.opts.Model)
	if err != nil {
		slog.Warn("synthesis call failed", "error", err)
		return nil
	}
	return ParseSummary(res.Content)
}

// ParseSummary extracts the summary object from raw model output, logging
// which parser stage succeeded.
func ParseSummary(raw string) map[string]any {
	obj, outcome := llmjson.ParseObject(raw)
	switch outcome {
	case llmjson.OutcomeStrict:
		slog.Debug("synthesis output parsed", "outcome", outcome)
	case llmjson.OutcomeRepaired:
		slog.Info("synthesis output repaired", "outcome", outcome)
	default:
		slog.Warn("synthesis output unparseable", "outcome", outcome, "bytes", len(raw))
		return nil
	}
	return obj
}
