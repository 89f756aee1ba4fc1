package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"view-aspects-go/internal/retry"
)

type Config struct {
	Port        int
	Environment string
	LogLevel    string

	RunFallback            bool
	ThresholdContextLength int
	AspectConcurrency      int

	LLMAPIBase     string
	LLMAPIKey      string
	LLMAPIVersion  string
	LLMModel       string
	LLMModelLarge  string
	EmbeddingModel string
	ImageAPIURL    string
	ImageTimeout   time.Duration

	DirectusBaseURL  string
	DirectusUsername string
	DirectusPassword string
	RAGServerURL     string

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryFactor      float64
	RetryJitter      time.Duration

	NatsURL   string
	NatsToken string

	DatasetPath string
	ExportDir   string
	PromptsFile string
}

// Load reads .env when present, then the process environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:        envInt("PORT", 8080),
		Environment: envStr("ENVIRONMENT", "local"),
		LogLevel:    envStr("LOG_LEVEL", "info"),

		RunFallback:            envBool("RUN_FALLBACK", false),
		ThresholdContextLength: envInt("THRESHOLD_CONTEXT_LENGTH", 100000),
		AspectConcurrency:      envInt("ASPECT_CONCURRENCY", 1),

		LLMAPIBase:     envStr("LLM_API_BASE", ""),
		LLMAPIKey:      envStr("LLM_API_KEY", ""),
		LLMAPIVersion:  envStr("LLM_API_VERSION", ""),
		LLMModel:       envStr("LLM_MODEL", ""),
		LLMModelLarge:  envStr("LLM_MODEL_LARGE", ""),
		EmbeddingModel: envStr("EMBEDDING_MODEL", "text-embedding-3-small"),
		ImageAPIURL:    envStr("IMAGE_API_URL", ""),
		ImageTimeout:   envDuration("IMAGE_TIMEOUT", 120*time.Second),

		DirectusBaseURL:  strings.TrimRight(envStr("DIRECTUS_BASE_URL", ""), "/"),
		DirectusUsername: envStr("DIRECTUS_USERNAME", ""),
		DirectusPassword: envStr("DIRECTUS_PASSWORD", ""),
		RAGServerURL:     strings.TrimRight(envStr("RAG_SERVER_URL", ""), "/"),

		RetryMaxAttempts: envInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   envDuration("RETRY_BASE_DELAY", 2*time.Second),
		RetryFactor:      envFloat("RETRY_FACTOR", 2),
		RetryJitter:      envDuration("RETRY_JITTER", 500*time.Millisecond),

		NatsURL:   envStr("NATS_URL", ""),
		NatsToken: envStr("NATS_TOKEN", ""),

		DatasetPath: envStr("DATASET_PATH", ""),
		ExportDir:   envStr("EXPORT_DIR", ""),
		PromptsFile: envStr("PROMPTS_FILE", ""),
	}
}

// RetryPolicy is the policy shared by every external call.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.RetryMaxAttempts,
		BaseDelay:   c.RetryBaseDelay,
		Factor:      c.RetryFactor,
		Jitter:      c.RetryJitter,
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
