// Package synthesis drafts one aspect report per topic and reconciles the
// segments it cites against the loaded transcripts.
package synthesis

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"view-aspects-go/internal/llm"
	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/metrics"
	"view-aspects-go/internal/prompts"
	"view-aspects-go/internal/types"
)

// ContextFetcher retrieves topic-scoped context for a set of segments.
type ContextFetcher interface {
	FetchContext(ctx context.Context, query string, segmentIDs []string) (string, error)
}

// Illustrator returns a hosted image URL, or "" when none could be made.
type Illustrator interface {
	Illustrate(ctx context.Context, title, summary string) string
}

// ContextError is a failed context fetch. It aborts RAG-backed synthesis.
type ContextError struct {
	Topic string
	Err   error
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("fetch context for %q: %v", e.Topic, e.Err)
}

func (e *ContextError) Unwrap() error { return e.Err }

type Synthesizer struct {
	llm         llm.Completer
	rag         ContextFetcher
	images      Illustrator
	prompts     *prompts.Set
	concurrency int
	metrics     *metrics.Collector
	log         *logger.Logger
}

// New builds a synthesizer. concurrency below 1 means one topic at a time.
// rag and images may be nil.
func New(completer llm.Completer, rag ContextFetcher, images Illustrator, set *prompts.Set, concurrency int, m *metrics.Collector, log *logger.Logger) *Synthesizer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Synthesizer{
		llm:         completer,
		rag:         rag,
		images:      images,
		prompts:     set,
		concurrency: concurrency,
		metrics:     m,
		log:         log.Component("synthesis"),
	}
}

// Request carries what every topic of one run shares.
type Request struct {
	UserPrompt string
	Language   string
	// SegmentIDs scope the context fetch.
	SegmentIDs  []string
	Transcripts map[int]string
}

// FromRAG synthesizes every topic from fetched context using the large model.
// A failed fetch aborts the batch; a topic whose report fails is dropped, so
// the result may be shorter than topics.
func (s *Synthesizer) FromRAG(ctx context.Context, topics []string, req Request) ([]types.Aspect, error) {
	if s.rag == nil {
		return nil, &ContextError{Err: errors.New("no context fetcher configured")}
	}
	drafted, err := s.each(ctx, topics, func(ctx context.Context, topic string) (*types.Aspect, error) {
		query, err := prompts.Render(s.prompts.RAGQuery, prompts.AspectVars{Topic: topic, UserPrompt: req.UserPrompt, Language: req.Language})
		if err != nil {
			return nil, err
		}
		material, err := s.rag.FetchContext(ctx, query, req.SegmentIDs)
		if err != nil {
			return nil, &ContextError{Topic: topic, Err: err}
		}
		aspect, err := s.draft(ctx, llm.Large, s.prompts.RAGAspect, topic, material, req)
		if err != nil {
			s.log.WithField("topic", topic).WithError(err).Error("aspect synthesis failed, dropping aspect")
			s.metrics.Degraded(metrics.DroppedAspect)
			return nil, nil
		}
		s.illustrate(ctx, &aspect)
		return &aspect, nil
	})
	if err != nil {
		return nil, err
	}
	aspects := make([]types.Aspect, 0, len(drafted))
	for _, a := range drafted {
		if a != nil {
			aspects = append(aspects, *a)
		}
	}
	return aspects, nil
}

// FromSummaries synthesizes every topic from the sampled summary block with
// the small model. A failed report becomes a stub aspect; it never fails.
func (s *Synthesizer) FromSummaries(ctx context.Context, topics []string, summaries string, req Request) []types.Aspect {
	drafted, _ := s.each(ctx, topics, func(ctx context.Context, topic string) (*types.Aspect, error) {
		aspect, err := s.draft(ctx, llm.Small, s.prompts.SummariesAspect, topic, summaries, req)
		if err != nil {
			aspect = s.stub(s.log.WithField("topic", topic), topic, err)
		}
		s.illustrate(ctx, &aspect)
		return &aspect, nil
	})
	aspects := make([]types.Aspect, len(drafted))
	for i, a := range drafted {
		aspects[i] = *a
	}
	return aspects
}

// each runs fn for every topic on at most s.concurrency workers. Results keep
// topic order; a nil result marks a dropped topic.
func (s *Synthesizer) each(ctx context.Context, topics []string, fn func(ctx context.Context, topic string) (*types.Aspect, error)) ([]*types.Aspect, error) {
	aspects := make([]*types.Aspect, len(topics))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, topic := range topics {
		g.Go(func() error {
			a, err := fn(gctx, topic)
			if err != nil {
				return err
			}
			aspects[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return aspects, nil
}

// draft asks for the report of one topic and reconciles its references.
func (s *Synthesizer) draft(ctx context.Context, size llm.Size, pair prompts.Pair, topic, material string, req Request) (types.Aspect, error) {
	user, err := prompts.Render(pair.User, prompts.AspectVars{
		Topic:      topic,
		Context:    material,
		UserPrompt: req.UserPrompt,
		Language:   req.Language,
	})
	if err != nil {
		return types.Aspect{}, err
	}
	report, err := llm.Structured[llm.AspectReport](ctx, s.llm, size, []llm.Message{llm.System(pair.System), llm.User(user)})
	if err != nil {
		return types.Aspect{}, err
	}

	aspect := types.Aspect{
		Title:       report.Title,
		Description: report.Description,
		Summary:     report.Summary,
		Segments:    Reconcile(report.Segments, req.Transcripts),
		Topic:       topic,
	}
	if dropped := len(report.Segments) - len(aspect.Segments); dropped > 0 {
		s.log.WithFields(logrus.Fields{"topic": topic, "dropped": dropped}).Debug("dropped references to unknown segments")
	}
	return aspect, nil
}

// illustrate attaches an image to a, stub aspects included.
func (s *Synthesizer) illustrate(ctx context.Context, a *types.Aspect) {
	if s.images != nil {
		a.ImageURL = s.images.Illustrate(ctx, a.Title, a.Description)
		if a.ImageURL == "" {
			s.metrics.Degraded(metrics.EmptyImage)
		}
	}
	s.log.WithFields(logrus.Fields{"topic": a.Topic, "segments": len(a.Segments), "has_image": a.ImageURL != ""}).Info("aspect drafted")
}

func (s *Synthesizer) stub(log *logrus.Entry, topic string, err error) types.Aspect {
	log.WithError(err).Error("aspect synthesis failed, using stub aspect")
	s.metrics.Degraded(metrics.StubAspect)
	return Stub(topic, err)
}

// Stub is the aspect substituted when a topic cannot be synthesized.
func Stub(topic string, err error) types.Aspect {
	return types.Aspect{
		Title:       topic,
		Description: "Error processing aspect: " + err.Error(),
		Summary:     "Unable to generate summary due to processing error",
		Segments:    []types.AspectSegment{},
		Topic:       topic,
	}
}

// Reconcile keeps references to known segments and attaches the stored
// transcript. relevant_index spans the whole transcript.
func Reconcile(refs []types.SegmentReference, transcripts map[int]string) []types.AspectSegment {
	out := make([]types.AspectSegment, 0, len(refs))
	for _, ref := range refs {
		transcript, ok := transcripts[ref.SegmentID]
		if !ok {
			continue
		}
		out = append(out, types.AspectSegment{
			ID:                 ref.SegmentID,
			Description:        ref.Description,
			ConversationID:     "",
			VerbatimTranscript: transcript,
			RelevantIndex:      fmt.Sprintf("0:%d", len(transcript)-1),
		})
	}
	return out
}
