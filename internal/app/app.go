// Package app builds the processor and its collaborators from configuration.
// Both entrypoints share it.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"view-aspects-go/internal/config"
	"view-aspects-go/internal/corpus"
	"view-aspects-go/internal/dataset"
	"view-aspects-go/internal/directus"
	"view-aspects-go/internal/discovery"
	"view-aspects-go/internal/embedding"
	"view-aspects-go/internal/events"
	"view-aspects-go/internal/illustration"
	"view-aspects-go/internal/llm"
	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/metrics"
	"view-aspects-go/internal/pipeline"
	"view-aspects-go/internal/processor"
	"view-aspects-go/internal/prompts"
	"view-aspects-go/internal/rag"
	"view-aspects-go/internal/synthesis"
	"view-aspects-go/internal/tokens"
	"view-aspects-go/internal/topicmodel"
	"view-aspects-go/internal/types"
	"view-aspects-go/internal/view"
)

type App struct {
	Processor *processor.Processor
	Metrics   *metrics.Collector

	exportDir string
	events    *events.Client
	log       *logger.Logger
}

// New wires every collaborator. Optional services (content store, images,
// NATS, workbook) are left out when their settings are empty.
func New(cfg config.Config, log *logger.Logger) (*App, error) {
	policy := cfg.RetryPolicy()
	m := metrics.NewCollector("view_aspects")

	set, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		return nil, err
	}

	completer := llm.NewClient(llm.Config{
		BaseURL:    cfg.LLMAPIBase,
		APIKey:     cfg.LLMAPIKey,
		APIVersion: cfg.LLMAPIVersion,
		Model:      cfg.LLMModel,
		ModelLarge: cfg.LLMModelLarge,
	}, policy, log)
	embedder := embedding.NewClient(embedding.Config{
		BaseURL:    cfg.LLMAPIBase,
		APIKey:     cfg.LLMAPIKey,
		APIVersion: cfg.LLMAPIVersion,
		Model:      cfg.EmbeddingModel,
	}, policy, log)

	store := directus.NewClient(directus.Config{
		BaseURL:  cfg.DirectusBaseURL,
		Email:    cfg.DirectusUsername,
		Password: cfg.DirectusPassword,
	}, policy, log)

	var source corpus.Source = corpus.StoreSource{Store: store}
	if cfg.DatasetPath != "" {
		wb, err := dataset.Open(cfg.DatasetPath, log)
		if err != nil {
			return nil, err
		}
		source = wb
	}

	// Interfaces stay nil when a service is off so callers can tell.
	var images synthesis.Illustrator
	if cfg.ImageAPIURL != "" && cfg.DirectusBaseURL != "" {
		images = illustration.New(illustration.Config{
			APIURL:  cfg.ImageAPIURL,
			APIKey:  cfg.LLMAPIKey,
			Timeout: cfg.ImageTimeout,
		}, set.Illustration, store, policy, log)
	}
	var sink pipeline.Sink
	if cfg.DirectusBaseURL != "" {
		sink = store
	}

	a := &App{Metrics: m, exportDir: cfg.ExportDir, log: log.Component("app")}
	var publisher pipeline.Publisher
	if cfg.NatsURL != "" {
		ec, err := events.NewClient(cfg.NatsURL, cfg.NatsToken, log)
		if err != nil {
			return nil, err
		}
		a.events = ec
		publisher = ec
	}

	counter := tokens.ForModel(cfg.LLMModel, log)
	discoverer := discovery.New(discovery.Config{
		Threshold: cfg.ThresholdContextLength,
		NewModel: func() discovery.TopicModel {
			return topicmodel.New(embedder, topicmodel.DefaultConfig(), log)
		},
	}, completer, counter, set, log)

	runner := pipeline.New(pipeline.Deps{
		Loader:      corpus.NewLoader(source, log),
		Discoverer:  discoverer,
		Synthesizer: synthesis.New(completer, rag.NewClient(cfg.RAGServerURL, store, policy, log), images, set, cfg.AspectConcurrency, m, log),
		Summarizer:  view.NewSummarizer(completer, set, m, log),
		Sink:        sink,
		Events:      publisher,
		Metrics:     m,
		Log:         log,
	})
	a.Processor = processor.New(runner, cfg.RunFallback, m, log)

	a.log.WithFields(logrus.Fields{
		"store":        cfg.DirectusBaseURL != "",
		"dataset":      cfg.DatasetPath != "",
		"images":       images != nil,
		"events":       publisher != nil,
		"run_fallback": cfg.RunFallback,
		"threshold":    cfg.ThresholdContextLength,
	}).Info("app wired")
	return a, nil
}

// Process runs one job and, in offline mode, writes the view workbook.
func (a *App) Process(ctx context.Context, job types.Job) (*types.Result, error) {
	res, err := a.Processor.Process(ctx, job)
	if err != nil || a.exportDir == "" || res == nil || res.View == nil {
		return res, err
	}
	if err := os.MkdirAll(a.exportDir, 0o755); err != nil {
		a.log.WithError(err).Warn("export dir unavailable")
		return res, nil
	}
	path := filepath.Join(a.exportDir, fmt.Sprintf("view-%s.xlsx", job.ProjectAnalysisRunID))
	start := time.Now()
	if err := dataset.Export(res.View, path); err != nil {
		a.log.WithError(err).WithField("path", path).Warn("view export failed")
		return res, nil
	}
	a.log.WithFields(logrus.Fields{"path": path, "duration_ms": time.Since(start).Milliseconds()}).Info("view exported")
	return res, nil
}

// Close drains the event connection, if any.
func (a *App) Close() {
	if a.events != nil {
		a.events.Close()
	}
}
