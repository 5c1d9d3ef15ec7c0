// Package augment adds model-written insights to classified ads. A failed or
// unconfigured model call never fails the run: the ad keeps its rule-based
// fields and a nil LLM block.
package augment

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/creativemri/internal/creative"
	"github.com/kalambet/creativemri/internal/llm"
	"github.com/kalambet/creativemri/internal/llmjson"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultConcurrency = 4
)

// Options tunes the augmenter.
type Options struct {
	Model       string
	Timeout     time.Duration
	Concurrency int
}

// ProgressFunc receives the number of ads finished so far.
type ProgressFunc func(done, total int)

// Augmenter issues one model request per ad.
type Augmenter struct {
	model llm.LanguageModel
	opts  Options
}

// New creates an Augmenter. A nil model behaves as unconfigured.
func New(model llm.LanguageModel, opts Options) *Augmenter {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Augmenter{model: model, opts: opts}
}

// Augment returns one AugmentedAd per input ad in input order. Requests run
// concurrently up to Options.Concurrency; onProgress is called once per ad
// with a strictly increasing count.
func (a *Augmenter) Augment(ctx context.Context, ads []creative.ClassifiedAd, onProgress ProgressFunc) []creative.AugmentedAd {
	results := make([]creative.AugmentedAd, len(ads))
	total := len(ads)

	var (
		mu   sync.Mutex
		done int
	)
	tick := func() {
		mu.Lock()
		defer mu.Unlock()
		done++
		if onProgress != nil {
			onProgress(done, total)
		}
	}

	if !llm.IsConfigured(a.model) {
		for i, ad := range ads {
			results[i] = creative.AugmentedAd{ClassifiedAd: ad}
			tick()
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(a.opts.Concurrency)
	for i, ad := range ads {
		g.Go(func() error {
			results[i] = a.AugmentOne(ctx, ad)
			tick()
			return nil
		})
	}
	g.Wait()
	return results
}

// AugmentOne makes the single attempt for one ad.
func (a *Augmenter) AugmentOne(ctx context.Context, ad creative.ClassifiedAd) creative.AugmentedAd {
	out := creative.AugmentedAd{ClassifiedAd: ad}
	if !llm.IsConfigured(a.model) {
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	res, err := a.model.Execute(ctx, systemPrompt, BuildUserContent(ad), a.opts.Model)
	if err != nil {
		slog.Warn("llm augmentation failed", "ad_id", ad.ID, "error", err)
		return out
	}

	var ins creative.Insights
	outcome := llmjson.Decode(res.Content, &ins)
	switch outcome {
	case llmjson.OutcomeFailed:
		slog.Warn("llm augmentation returned unparseable output", "ad_id", ad.ID, "model", res.ModelID)
		return out
	case llmjson.OutcomeRepaired:
		slog.Debug("llm augmentation output repaired", "ad_id", ad.ID)
	}

	normalizeInsights(&ins)
	out.LLM = &ins
	if ins.Angle != "" {
		out.Angle = ins.Angle
	}
	if ins.HookPhrase != "" {
		out.HookPhrase = ins.HookPhrase
	}
	slog.Debug("ad augmented", "ad_id", ad.ID, "model", res.ModelID, "tokens", res.TokenUsage)
	return out
}

func normalizeInsights(ins *creative.Insights) {
	ins.HookPhrase = strings.TrimSpace(ins.HookPhrase)
	ins.SecondaryHook = strings.TrimSpace(ins.SecondaryHook)
	ins.Angle = strings.TrimSpace(ins.Angle)
	ins.HookType = label(ins.HookType)
	ins.FunnelStage = label(ins.FunnelStage)
	ins.MOFUJob = label(ins.MOFUJob)
	ins.ClaimProofMismatch = label(ins.ClaimProofMismatch)
	ins.Recommendation = label(ins.Recommendation)
	ins.HookQuality = clampScore(ins.HookQuality)
	ins.ProofStrength = clampScore(ins.ProofStrength)
	if ins.UnsupportedClaims == nil {
		ins.UnsupportedClaims = []string{}
	}
	if ins.Improvements == nil {
		ins.Improvements = []string{}
	}
}

func label(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

func clampScore(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	if c < 0 {
		c = 0
	}
	if c > 100 {
		c = 100
	}
	return &c
}
