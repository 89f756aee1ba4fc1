// Package pipeline sequences loading, topic discovery, aspect synthesis,
// summarization and persistence for one job.
//
// Primary reads contextual transcripts and fetches context per topic.
// Fallback reads conversation summaries and works from a sampled block of
// them, degrading instead of failing wherever it can.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"view-aspects-go/internal/aggregator"
	"view-aspects-go/internal/corpus"
	"view-aspects-go/internal/discovery"
	"view-aspects-go/internal/events"
	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/metrics"
	"view-aspects-go/internal/synthesis"
	"view-aspects-go/internal/types"
	"view-aspects-go/internal/view"
)

const (
	Primary  = "primary"
	Fallback = "fallback"
)

type Loader interface {
	Load(ctx context.Context, ids []string, mode corpus.Mode) (*types.Corpus, error)
}

// Sink stores a finished view and returns its id.
type Sink interface {
	Persist(ctx context.Context, runID string, v *types.View) (string, error)
}

type Publisher interface {
	Publish(subject string, data any) error
}

// Deps are the collaborators of a Runner. Sink, Events and Metrics may be
// nil; without a Sink the view is returned unpersisted.
type Deps struct {
	Loader      Loader
	Discoverer  *discovery.Discoverer
	Synthesizer *synthesis.Synthesizer
	Summarizer  *view.Summarizer
	Sink        Sink
	Events      Publisher
	Metrics     *metrics.Collector
	Log         *logger.Logger
}

type Runner struct {
	d Deps
}

func New(d Deps) *Runner {
	return &Runner{d: d}
}

// run carries the per-job state shared by the stages.
type run struct {
	name  string
	job   types.Job
	log   *logger.Logger
	start time.Time
}

func (r *Runner) newRun(name string, job types.Job) *run {
	return &run{name: name, job: job, log: r.d.Log.WithRun(job.ProjectAnalysisRunID, name), start: time.Now()}
}

func (r *Runner) fail(rn *run, kind Kind, err error) error {
	rn.log.WithError(err).WithField("stage", string(kind)).Error("pipeline failed")
	r.d.Metrics.RunFinished(rn.name, "error")
	return &Error{Kind: kind, Pipeline: rn.name, Err: err}
}

// Primary loads segments with transcripts, discovers topics adaptively and
// synthesizes each topic from fetched context.
func (r *Runner) Primary(ctx context.Context, job types.Job) (*types.Result, error) {
	rn := r.newRun(Primary, job)
	rn.log.WithField("segments", len(job.SegmentIDs)).Info("pipeline started")

	stage := time.Now()
	c, err := r.d.Loader.Load(ctx, job.SegmentIDs, corpus.Strict)
	if err != nil {
		return nil, r.fail(rn, KindLoad, err)
	}
	r.d.Metrics.ObserveStage(rn.name, "load", stage)

	stage = time.Now()
	req := discovery.Request{UserPrompt: job.UserPrompt, Language: job.Language()}
	found, err := r.d.Discoverer.Discover(ctx, c, req)
	if err != nil {
		return nil, r.fail(rn, KindDiscovery, err)
	}
	iterations := 0
	if found.Budget != nil {
		iterations = found.Budget.Iterations
	}
	r.d.Metrics.DiscoveryPath(found.Path.String(), iterations)
	r.d.Metrics.ObserveStage(rn.name, "discovery", stage)
	rn.log.WithFields(logrus.Fields{"path": found.Path.String(), "topics": len(found.Topics)}).Info("topics discovered")

	stage = time.Now()
	aspects, err := r.d.Synthesizer.FromRAG(ctx, found.Topics, synthesis.Request{
		UserPrompt:  job.UserPrompt,
		Language:    job.Language(),
		SegmentIDs:  job.SegmentIDs,
		Transcripts: c.Transcripts,
	})
	if err != nil {
		var ce *synthesis.ContextError
		if errors.As(err, &ce) {
			return nil, r.fail(rn, KindContext, err)
		}
		return nil, r.fail(rn, KindSynthesis, err)
	}
	r.d.Metrics.ObserveStage(rn.name, "synthesis", stage)

	return r.finish(ctx, rn, aspects)
}

// Fallback loads every requested segment, samples conversation summaries into
// the budget and synthesizes from that sample without context fetches.
func (r *Runner) Fallback(ctx context.Context, job types.Job) (*types.Result, error) {
	rn := r.newRun(Fallback, job)
	rn.log.WithField("segments", len(job.SegmentIDs)).Info("pipeline started")

	stage := time.Now()
	c, err := r.d.Loader.Load(ctx, job.SegmentIDs, corpus.Lenient)
	if err != nil {
		return nil, r.fail(rn, KindLoad, err)
	}
	r.d.Metrics.ObserveStage(rn.name, "load", stage)

	stage = time.Now()
	req := discovery.Request{UserPrompt: job.UserPrompt, Language: job.Language()}
	found := r.d.Discoverer.DiscoverSummaries(ctx, c, req)
	if found.Degraded {
		r.d.Metrics.Degraded(metrics.PlaceholderTopics)
	}
	r.d.Metrics.DiscoveryPath(discovery.Direct.String(), 0)
	r.d.Metrics.ObserveStage(rn.name, "discovery", stage)
	rn.log.WithFields(logrus.Fields{"sampled": found.Sampled, "topics": len(found.Topics)}).Info("topics discovered")

	stage = time.Now()
	aspects := r.d.Synthesizer.FromSummaries(ctx, found.Topics, found.Context, synthesis.Request{
		UserPrompt:  job.UserPrompt,
		Language:    job.Language(),
		SegmentIDs:  job.SegmentIDs,
		Transcripts: c.Transcripts,
	})
	r.d.Metrics.ObserveStage(rn.name, "synthesis", stage)

	return r.finish(ctx, rn, aspects)
}

// finish summarizes, attaches the job metadata, persists and announces.
func (r *Runner) finish(ctx context.Context, rn *run, aspects []types.Aspect) (*types.Result, error) {
	stage := time.Now()
	v, err := r.d.Summarizer.Summarize(ctx, aspects, rn.job.UserPrompt, rn.job.Language())
	if err != nil {
		return nil, r.fail(rn, KindSummary, err)
	}
	r.d.Metrics.ObserveStage(rn.name, "summary", stage)

	v.Seed = rn.job.UserPrompt
	v.Language = rn.job.Language()
	v.UserInput = rn.job.UserInput
	v.UserInputDescription = rn.job.UserInputDescription

	res := &types.Result{View: v, Pipeline: rn.name}
	if r.d.Sink != nil {
		stage = time.Now()
		id, err := r.d.Sink.Persist(ctx, rn.job.ProjectAnalysisRunID, v)
		if err != nil {
			return nil, r.fail(rn, KindPersist, err)
		}
		res.ViewID = id
		r.d.Metrics.ObserveStage(rn.name, "persist", stage)
		r.d.Metrics.ViewPersisted(len(v.Aspects))
		r.announce(rn, res)
	}

	res.DurationMs = time.Since(rn.start).Milliseconds()
	r.d.Metrics.RunFinished(rn.name, "ok")
	cov := aggregator.Aggregate(v, len(rn.job.SegmentIDs))
	rn.log.WithFields(logrus.Fields{
		"view_id":        res.ViewID,
		"aspects":        len(v.Aspects),
		"segments_cited": cov.SegmentsCited,
		"cited_rate":     cov.CitedRate,
		"uncited":        cov.Uncited,
		"duration_ms":    res.DurationMs,
	}).Info("pipeline finished")
	return res, nil
}

func (r *Runner) announce(rn *run, res *types.Result) {
	if r.d.Events == nil {
		return
	}
	err := r.d.Events.Publish(events.SubjectCompleted, events.Completed{
		ProjectAnalysisRunID: rn.job.ProjectAnalysisRunID,
		ViewID:               res.ViewID,
		Pipeline:             rn.name,
		Aspects:              len(res.View.Aspects),
	})
	if err != nil {
		rn.log.WithError(err).Warn("completion event not published")
	}
}
