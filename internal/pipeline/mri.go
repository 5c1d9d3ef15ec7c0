// Package pipeline runs the MRI stages in order and reports progress after
// each ad and at each stage boundary.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/creativemri/internal/augment"
	"github.com/kalambet/creativemri/internal/classify"
	"github.com/kalambet/creativemri/internal/creative"
	"github.com/kalambet/creativemri/internal/ingest"
	"github.com/kalambet/creativemri/internal/media"
	"github.com/kalambet/creativemri/internal/progress"
	"github.com/kalambet/creativemri/internal/report"
	"github.com/kalambet/creativemri/internal/stats"
	"github.com/kalambet/creativemri/internal/synth"
)

// EmitFunc receives progress events. It must not block.
type EmitFunc func(progress.Event)

// Pipeline wires the MRI stages together.
type Pipeline struct {
	classifier  *classify.Classifier
	annotator   *media.Annotator
	augmenter   *augment.Augmenter
	synthesizer *synth.Synthesizer
}

// New creates a Pipeline. annotator and synthesizer may be nil.
func New(classifier *classify.Classifier, annotator *media.Annotator, augmenter *augment.Augmenter, synthesizer *synth.Synthesizer) *Pipeline {
	if classifier == nil {
		classifier = classify.New(classify.DefaultCeilings)
	}
	if augmenter == nil {
		augmenter = augment.New(nil, augment.Options{})
	}
	return &Pipeline{
		classifier:  classifier,
		annotator:   annotator,
		augmenter:   augmenter,
		synthesizer: synthesizer,
	}
}

// Run executes every stage for req and returns the finished report. Per-ad
// model failures are absorbed; the only error is cancellation of ctx.
func (p *Pipeline) Run(ctx context.Context, req creative.RunRequest, emit EmitFunc) (*report.Report, error) {
	if emit == nil {
		emit = func(progress.Event) {}
	}
	start := time.Now()
	tick := func(stage string, cur, total int, format string, args ...any) {
		emit(progress.Event{Stage: stage, Current: cur, Total: total, Message: fmt.Sprintf(format, args...)})
	}

	raw := len(req.Ads)
	tick(progress.StageIngest, 0, raw, "normalizing %d ads", raw)
	ads := ingest.Normalize(req.Ads)
	tick(progress.StageIngest, raw, raw, "kept %d of %d ads", len(ads), raw)

	if p.annotator != nil && len(ads) > 0 {
		tick(progress.StageMedia, 0, 1, "annotating media")
		var n int
		ads, n = p.annotator.Annotate(ctx, ads)
		tick(progress.StageMedia, 1, 1, "annotated %d media items", n)
	}

	tick(progress.StageClassify, 0, len(ads), "classifying")
	classified := p.classifier.ClassifyAll(ads)
	tick(progress.StageClassify, len(classified), len(classified), "classified %d ads", len(classified))

	tick(progress.StageAugment, 0, len(classified), "augmenting")
	augmented := p.augmenter.Augment(ctx, classified, func(done, total int) {
		tick(progress.StageAugment, done, total, "augmented %d of %d ads", done, total)
	})
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run interrupted: %w", err)
	}

	tick(progress.StageAggregate, 0, 1, "building report")
	rep := report.Build(req.Label, augmented)
	tick(progress.StageAggregate, 1, 1, "report built")

	if len(augmented) > 0 {
		tick(progress.StageStatistics, 0, 1, "computing aggregate statistics")
		md := stats.BuildAggregateMetadata(augmented, req.RedundancyClusters)
		rep.AggregateMetadata = &md
		tick(progress.StageStatistics, 1, 1, "aggregate statistics ready")
	}

	tick(progress.StageSynthesize, 0, 1, "synthesizing summary")
	msg := "skipped"
	if len(augmented) > 0 && p.synthesizer.Enabled() {
		rep.SynthesizedSummary = p.synthesizer.Synthesize(ctx, augmented, rep.AggregateMetadata)
		msg = "no summary"
		if rep.SynthesizedSummary != nil {
			msg = "summary ready"
		}
	}
	tick(progress.StageSynthesize, 1, 1, "%s", msg)

	slog.Info("mri run finished",
		"label", req.Label,
		"input_ads", raw,
		"ads", len(augmented),
		"synthesized", rep.SynthesizedSummary != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return rep, nil
}
