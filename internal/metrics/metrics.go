// Package metrics holds the Prometheus collectors of the service. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Degradation kinds.
const (
	PlaceholderTopics = "placeholder_topics"
	StubAspect        = "stub_aspect"
	DroppedAspect     = "dropped_aspect"
	StubSummary       = "stub_summary"
	EmptyImage        = "empty_image"
	PipelineFallback  = "pipeline_fallback"
)

type Collector struct {
	registry *prometheus.Registry

	Runs             *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	Degradations     *prometheus.CounterVec
	DiscoveryPaths   *prometheus.CounterVec
	BudgetIterations prometheus.Histogram
	Aspects          prometheus.Histogram
}

// NewCollector creates the collectors on a private registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by pipeline and outcome",
		},
		[]string{"pipeline", "status"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"pipeline", "stage"},
	)
	degradations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degradations_total",
			Help:      "Substituted results by kind",
		},
		[]string{"kind"},
	)
	paths := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_path_total",
			Help:      "Topic discovery branch chosen by the token gate",
		},
		[]string{"path"},
	)
	iterations := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "budget_fit_iterations",
			Help:      "Representative document extractions per clustered discovery",
			Buckets:   prometheus.LinearBuckets(1, 1, 14),
		},
	)
	aspects := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "view_aspects",
			Help:      "Aspects per persisted view",
			Buckets:   prometheus.LinearBuckets(0, 5, 6),
		},
	)

	registry.MustRegister(runs, stageDuration, degradations, paths, iterations, aspects)

	return &Collector{
		registry:         registry,
		Runs:             runs,
		StageDuration:    stageDuration,
		Degradations:     degradations,
		DiscoveryPaths:   paths,
		BudgetIterations: iterations,
		Aspects:          aspects,
	}
}

func (c *Collector) RunFinished(pipeline, status string) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(pipeline, status).Inc()
}

// ObserveStage records the time since start for a stage.
func (c *Collector) ObserveStage(pipeline, stage string, start time.Time) {
	if c == nil {
		return
	}
	c.StageDuration.WithLabelValues(pipeline, stage).Observe(time.Since(start).Seconds())
}

func (c *Collector) Degraded(kind string) {
	if c == nil {
		return
	}
	c.Degradations.WithLabelValues(kind).Inc()
}

func (c *Collector) DiscoveryPath(path string, iterations int) {
	if c == nil {
		return
	}
	c.DiscoveryPaths.WithLabelValues(path).Inc()
	if iterations > 0 {
		c.BudgetIterations.Observe(float64(iterations))
	}
}

func (c *Collector) ViewPersisted(aspects int) {
	if c == nil {
		return
	}
	c.Aspects.Observe(float64(aspects))
}

// Registry returns the registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
