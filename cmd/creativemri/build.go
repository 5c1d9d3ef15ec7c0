package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kalambet/creativemri/internal/augment"
	"github.com/kalambet/creativemri/internal/classify"
	"github.com/kalambet/creativemri/internal/config"
	"github.com/kalambet/creativemri/internal/llm"
	"github.com/kalambet/creativemri/internal/media"
	"github.com/kalambet/creativemri/internal/pipeline"
	"github.com/kalambet/creativemri/internal/synth"
)

// buildPipeline wires the stage components described by cfg.
func buildPipeline(ctx context.Context, cfg config.Config) (*pipeline.Pipeline, error) {
	ceilings := classify.DefaultCeilings
	if cfg.Scoring.Ceilings != "" {
		c, err := classify.ParseCeilings(cfg.Scoring.Ceilings)
		if err != nil {
			return nil, fmt.Errorf("scoring.ceilings: %w", err)
		}
		ceilings = c
	}

	model, err := llm.New(ctx, llm.Config{
		Provider: cfg.LLM.Provider,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating language model: %w", err)
	}
	if !llm.IsConfigured(model) {
		slog.Warn("no language model configured; reports will carry rule scores only")
	}

	prompt, err := synth.LoadPrompt(cfg.Synthesis.PromptFile)
	if err != nil {
		return nil, err
	}
	synthModel := cfg.LLM.SynthesisModel
	if synthModel == "" {
		synthModel = cfg.LLM.Model
	}

	if local, ok := model.(*llm.Ollama); ok {
		if err := llm.EnsureReady(ctx, local, []string{cfg.LLM.Model, synthModel}, os.Stderr); err != nil {
			return nil, err
		}
	}

	var annotator *media.Annotator
	if cfg.Media.Endpoint != "" {
		annotator, err = media.NewAnnotator(media.NewHTTPAnalyzer(cfg.Media.Endpoint), 0)
		if err != nil {
			return nil, err
		}
	}

	return pipeline.New(
		classify.New(ceilings),
		annotator,
		augment.New(model, augment.Options{
			Model:       cfg.LLM.Model,
			Timeout:     cfg.LLMTimeout(),
			Concurrency: cfg.LLM.Concurrency,
		}),
		synth.New(model, synth.Options{
			SystemPrompt: prompt,
			Model:        synthModel,
		}),
	), nil
}

// setupLogging installs the configured logger as the slog default.
func setupLogging(cfg config.Config) func() error {
	logger, cleanup := config.SetupLogger(cfg.Log.File, config.ParseLevel(cfg.Log.Level))
	slog.SetDefault(logger)
	return cleanup
}
