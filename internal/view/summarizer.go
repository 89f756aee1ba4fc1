// Package view writes the executive summary across all aspects of a run.
package view

import (
	"context"
	"errors"
	"strings"

	"view-aspects-go/internal/llm"
	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/metrics"
	"view-aspects-go/internal/prompts"
	"view-aspects-go/internal/types"
)

// ErrEmptyInput is returned when there are no aspects to summarize.
var ErrEmptyInput = errors.New("view summary: no aspects to summarize")

type Summarizer struct {
	llm     llm.Completer
	prompts *prompts.Set
	metrics *metrics.Collector
	log     *logger.Logger
}

func NewSummarizer(completer llm.Completer, set *prompts.Set, m *metrics.Collector, log *logger.Logger) *Summarizer {
	return &Summarizer{llm: completer, prompts: set, metrics: m, log: log.Component("view")}
}

// Summarize returns a view holding the summary and the aspects. Only empty
// input is an error; a failed model call yields the stub summary.
func (s *Summarizer) Summarize(ctx context.Context, aspects []types.Aspect, userPrompt, language string) (*types.View, error) {
	if len(aspects) == 0 {
		return nil, ErrEmptyInput
	}
	blocks := make([]string, len(aspects))
	for i, a := range aspects {
		blocks[i] = a.Text()
	}
	v := &types.View{Aspects: aspects}

	user, err := prompts.Render(s.prompts.ViewSummary.User, prompts.ViewVars{
		Aspects:    strings.Join(blocks, "\n\n"),
		UserPrompt: userPrompt,
		Language:   language,
	})
	if err == nil {
		var res llm.ViewSummary
		res, err = llm.Structured[llm.ViewSummary](ctx, s.llm, llm.Small, []llm.Message{
			llm.System(s.prompts.ViewSummary.System),
			llm.User(user),
		})
		if err == nil {
			v.Title, v.Description, v.Summary = res.Title, res.Description, res.Summary
			return v, nil
		}
	}

	s.log.WithError(err).WithField("aspects", len(aspects)).Error("view summary failed, using stub summary")
	s.metrics.Degraded(metrics.StubSummary)
	v.Title = "Error in Summary Generation"
	v.Description = "Unable to generate view summary due to error: " + err.Error()
	v.Summary = "Summary generation failed"
	return v, nil
}
