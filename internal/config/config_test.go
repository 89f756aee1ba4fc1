package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"view-aspects-go/internal/retry"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "RUN_FALLBACK", "THRESHOLD_CONTEXT_LENGTH", "ASPECT_CONCURRENCY", "IMAGE_TIMEOUT", "EMBEDDING_MODEL", "RETRY_MAX_ATTEMPTS", "RETRY_BASE_DELAY", "RETRY_FACTOR", "RETRY_JITTER"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.RunFallback)
	assert.Equal(t, 100000, cfg.ThresholdContextLength)
	assert.Equal(t, 1, cfg.AspectConcurrency)
	assert.Equal(t, 120*time.Second, cfg.ImageTimeout)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
	assert.Equal(t, retry.Default(), cfg.RetryPolicy())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RUN_FALLBACK", "TRUE")
	t.Setenv("THRESHOLD_CONTEXT_LENGTH", "5000")
	t.Setenv("DIRECTUS_BASE_URL", "https://store.example.com/")
	t.Setenv("RAG_SERVER_URL", "https://rag.example.com//")
	t.Setenv("RETRY_BASE_DELAY", "250ms")
	t.Setenv("RETRY_FACTOR", "1.5")
	t.Setenv("ASPECT_CONCURRENCY", "not-a-number")

	cfg := Load()
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.RunFallback)
	assert.Equal(t, 5000, cfg.ThresholdContextLength)
	assert.Equal(t, "https://store.example.com", cfg.DirectusBaseURL)
	assert.Equal(t, "https://rag.example.com", cfg.RAGServerURL)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryPolicy().BaseDelay)
	assert.Equal(t, 1.5, cfg.RetryPolicy().Factor)
	assert.Equal(t, 1, cfg.AspectConcurrency)
}
