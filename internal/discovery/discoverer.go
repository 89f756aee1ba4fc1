// Package discovery turns a corpus into a ranked topic list. Small corpora go
// to the model whole; large ones are clustered first and only representative
// documents are sent, shrunk until they fit the token budget.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/sirupsen/logrus"

	"view-aspects-go/internal/llm"
	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/prompts"
	"view-aspects-go/internal/tokens"
	"view-aspects-go/internal/topicmodel"
	"view-aspects-go/internal/types"
)

// MaxTopics bounds the topic list handed to synthesis.
const MaxTopics = 25

// SegmentDelimiter separates segment blocks in a model context.
const SegmentDelimiter = "---------\n\n"

// PlaceholderTopics replace a failed topic call on the summary path.
var PlaceholderTopics = []string{"General Discussion", "Key Points", "Main Themes"}

// Path is the branch the token gate selected.
type Path int

const (
	Direct Path = iota
	Clustering
)

func (p Path) String() string {
	if p == Clustering {
		return "clustering"
	}
	return "direct"
}

// TopicModel is the clustering step of the clustering path.
type TopicModel interface {
	Fit(ctx context.Context, docs []string) error
	RepresentativeDocs(n int) []topicmodel.DocumentSet
}

type Config struct {
	// Threshold is the token budget of the gate.
	Threshold int
	// NewModel builds a fresh topic model for one run.
	NewModel func() TopicModel
	// Shuffle orders the summary sample; rand.Shuffle when nil.
	Shuffle func(n int, swap func(i, j int))
}

type Discoverer struct {
	cfg     Config
	llm     llm.Completer
	counter tokens.Counter
	prompts *prompts.Set
	log     *logger.Logger
}

func New(cfg Config, completer llm.Completer, counter tokens.Counter, set *prompts.Set, log *logger.Logger) *Discoverer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 100000
	}
	if cfg.Shuffle == nil {
		cfg.Shuffle = rand.Shuffle
	}
	return &Discoverer{cfg: cfg, llm: completer, counter: counter, prompts: set, log: log.Component("discovery")}
}

// Request carries the user-facing parameters of a run.
type Request struct {
	UserPrompt string
	Language   string
}

// Outcome describes one adaptive discovery.
type Outcome struct {
	Topics []string
	Path   Path
	// Tokens is the gate measurement over all documents.
	Tokens int
	// Budget is filled on the clustering path.
	Budget *Budget
}

// Discover runs the token gate and the selected branch. Every failure is
// returned to the caller.
func (d *Discoverer) Discover(ctx context.Context, c *types.Corpus, req Request) (Outcome, error) {
	total := tokens.Sum(d.counter, c.Documents)
	out := Outcome{Tokens: total}
	log := d.log.WithFields(logrus.Fields{"tokens": total, "threshold": d.cfg.Threshold})

	if total < d.cfg.Threshold {
		out.Path = Direct
		log.WithField("path", out.Path.String()).Info("token gate selected path")
		topics, err := d.ask(ctx, d.prompts.DirectTopics, DirectContext(c.RawIDs, c.RawTexts), req)
		if err != nil {
			return out, err
		}
		out.Topics = topics
		return out, nil
	}

	out.Path = Clustering
	log.WithField("path", out.Path.String()).Info("token gate selected path")
	if d.cfg.NewModel == nil {
		return out, errors.New("discovery: no topic model configured")
	}
	model := d.cfg.NewModel()
	if err := model.Fit(ctx, c.Documents); err != nil {
		return out, fmt.Errorf("fit topic model: %w", err)
	}
	budget := FitBudget(model.RepresentativeDocs, d.counter, d.cfg.Threshold)
	out.Budget = &budget
	log.WithFields(logrus.Fields{
		"nr_repr_docs": budget.NrReprDocs,
		"iterations":   budget.Iterations,
		"block_tokens": budget.Tokens,
	}).Info("representative documents fitted to budget")

	topics, err := d.ask(ctx, d.prompts.ClusteredTopics, budget.Block, req)
	if err != nil {
		return out, err
	}
	out.Topics = topics
	return out, nil
}

// SummaryOutcome is the fallback discovery over sampled conversation
// summaries.
type SummaryOutcome struct {
	Topics []string
	// Context is the sampled summary block, reused by synthesis.
	Context string
	Sampled int
	// Degraded is set when the placeholder topics were used.
	Degraded bool
}

// DiscoverSummaries samples summaries into the budget and runs the direct
// branch on them. A failed model call degrades to PlaceholderTopics.
func (d *Discoverer) DiscoverSummaries(ctx context.Context, c *types.Corpus, req Request) SummaryOutcome {
	sample := SampleSummaries(c.Summaries, d.counter, d.cfg.Threshold, d.cfg.Shuffle)
	ids := make([]int, len(sample))
	texts := make([]string, len(sample))
	for i, s := range sample {
		ids[i] = s.SegmentID
		texts[i] = s.Summary
	}
	out := SummaryOutcome{Context: DirectContext(ids, texts), Sampled: len(sample)}

	topics, err := d.ask(ctx, d.prompts.DirectTopics, out.Context, req)
	if err != nil {
		d.log.WithError(err).WithField("sampled", len(sample)).Error("topic discovery failed, using placeholder topics")
		out.Topics = append([]string(nil), PlaceholderTopics...)
		out.Degraded = true
		return out
	}
	out.Topics = topics
	return out
}

func (d *Discoverer) ask(ctx context.Context, pair prompts.Pair, documents string, req Request) ([]string, error) {
	user, err := prompts.Render(pair.User, prompts.TopicVars{
		Documents:  documents,
		UserPrompt: req.UserPrompt,
		Language:   req.Language,
	})
	if err != nil {
		return nil, err
	}
	res, err := llm.Structured[llm.TopicList](ctx, d.llm, llm.Small, []llm.Message{llm.System(pair.System), llm.User(user)})
	if err != nil {
		return nil, fmt.Errorf("topic discovery: %w", err)
	}
	topics := Clean(res.Topics)
	d.log.WithField("topics", len(topics)).Debug("topics discovered")
	return topics, nil
}

// DirectContext tags each text with its segment marker.
func DirectContext(ids []int, texts []string) string {
	blocks := make([]string, 0, len(ids))
	for i, id := range ids {
		blocks = append(blocks, types.SegmentMarker(id)+": "+texts[i])
	}
	return strings.Join(blocks, SegmentDelimiter)
}

// Clean trims topics, drops blanks and case-insensitive repeats, and keeps
// at most MaxTopics in their original order.
func Clean(topics []string) []string {
	seen := make(map[string]bool, len(topics))
	out := make([]string, 0, min(len(topics), MaxTopics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) == MaxTopics {
			break
		}
	}
	return out
}
