// Package processor is the job boundary: it validates the input, picks the
// pipeline and switches from Primary to Fallback when Primary fails.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/metrics"
	"view-aspects-go/internal/pipeline"
	"view-aspects-go/internal/types"
)

// Pipelines runs one job through either pipeline.
type Pipelines interface {
	Primary(ctx context.Context, job types.Job) (*types.Result, error)
	Fallback(ctx context.Context, job types.Job) (*types.Result, error)
}

// InvalidJobError is returned before any pipeline runs.
type InvalidJobError struct {
	Err error
}

func (e *InvalidJobError) Error() string { return "invalid job: " + e.Err.Error() }

func (e *InvalidJobError) Unwrap() error { return e.Err }

type Processor struct {
	pipelines     Pipelines
	forceFallback bool
	metrics       *metrics.Collector
	log           *logger.Logger
}

// New builds a processor. forceFallback skips Primary for every job.
func New(p Pipelines, forceFallback bool, m *metrics.Collector, log *logger.Logger) *Processor {
	return &Processor{pipelines: p, forceFallback: forceFallback, metrics: m, log: log.Component("processor")}
}

// Process runs Primary, then Fallback if Primary fails. The error of the
// last pipeline attempted is returned.
func (p *Processor) Process(ctx context.Context, job types.Job) (*types.Result, error) {
	start := time.Now()
	if err := types.Validate(job); err != nil {
		return nil, &InvalidJobError{Err: err}
	}
	log := p.log.WithFields(logrus.Fields{
		"project_analysis_run_id": job.ProjectAnalysisRunID,
		"segments":                len(job.SegmentIDs),
		"language":                job.Language(),
	})

	if job.RunFallback || p.forceFallback {
		log.Info("fallback forced, skipping primary pipeline")
		return p.fallback(ctx, job, start)
	}

	res, err := p.pipelines.Primary(ctx, job)
	if err == nil {
		res.DurationMs = time.Since(start).Milliseconds()
		return res, nil
	}

	entry := log.WithError(err)
	var pe *pipeline.Error
	if errors.As(err, &pe) {
		entry = entry.WithField("stage", string(pe.Kind))
	}
	entry.Warn("primary pipeline failed, running fallback")
	p.metrics.Degraded(metrics.PipelineFallback)
	return p.fallback(ctx, job, start)
}

func (p *Processor) fallback(ctx context.Context, job types.Job, start time.Time) (*types.Result, error) {
	res, err := p.pipelines.Fallback(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	res.DurationMs = time.Since(start).Milliseconds()
	return res, nil
}
