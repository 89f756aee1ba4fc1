package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	c := NewCollector("view_aspects")
	c.RunFinished("primary", "ok")
	c.RunFinished("primary", "ok")
	c.Degraded(StubAspect)
	c.DiscoveryPath("clustering", 3)
	c.DiscoveryPath("direct", 0)
	c.ObserveStage("primary", "discovery", time.Now())
	c.ViewPersisted(4)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.Runs.WithLabelValues("primary", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Degradations.WithLabelValues(StubAspect)))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.DiscoveryPaths.WithLabelValues("direct")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.BudgetIterations))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RunFinished("primary", "ok")
		c.Degraded(StubSummary)
		c.DiscoveryPath("direct", 2)
		c.ObserveStage("fallback", "load", time.Now())
		c.ViewPersisted(1)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("view_aspects")
	c.RunFinished("fallback", "error")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `view_aspects_pipeline_runs_total{pipeline="fallback",status="error"} 1`)
}
