// Package embedding turns documents into vectors through an OpenAI-compatible
// embeddings endpoint.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/retry"
)

// Embedder returns one vector per text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

type Config struct {
	BaseURL    string
	APIKey     string
	APIVersion string
	Model      string
	BatchSize  int
	// Parallel bounds concurrent batch requests.
	Parallel int
	Timeout  time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	policy retry.Policy
	log    *logger.Logger
}

func NewClient(cfg Config, policy retry.Policy, log *logger.Logger) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 4
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, policy: policy, log: log.Component("embedding")}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) endpoint() string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if c.cfg.APIVersion == "" {
		return base + "/embeddings"
	}
	return fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		base, url.PathEscape(c.cfg.Model), url.QueryEscape(c.cfg.APIVersion))
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if c.cfg.BaseURL == "" || c.cfg.APIKey == "" {
		return nil, fmt.Errorf("embeddings endpoint not configured")
	}
	out := make([][]float64, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallel)
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(texts))
		g.Go(func() error {
			vecs, err := c.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	c.log.WithField("documents", len(texts)).Debug("embedded documents")
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float64, error) {
	data, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: batch})
	if err != nil {
		return nil, err
	}
	return retry.Value(ctx, c.policy, c.log, "embedding.batch", func(ctx context.Context) ([][]float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(data))
		if err != nil {
			return nil, retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		if c.cfg.APIVersion != "" {
			req.Header.Set("api-key", c.cfg.APIKey)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 300 {
			statusErr := fmt.Errorf("embeddings http %d: %s", resp.StatusCode, string(body))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return nil, retry.Permanent(statusErr)
			}
			return nil, statusErr
		}
		var parsed embedResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("decode embeddings: %w", err)
		}
		if len(parsed.Data) != len(batch) {
			return nil, fmt.Errorf("embeddings: got %d vectors for %d inputs", len(parsed.Data), len(batch))
		}
		vecs := make([][]float64, len(batch))
		for _, d := range parsed.Data {
			if d.Index < 0 || d.Index >= len(batch) {
				return nil, retry.Permanent(fmt.Errorf("embeddings: index %d out of range", d.Index))
			}
			if vecs[d.Index] != nil {
				return nil, retry.Permanent(fmt.Errorf("embeddings: index %d repeated", d.Index))
			}
			vecs[d.Index] = d.Embedding
		}
		return vecs, nil
	})
}
