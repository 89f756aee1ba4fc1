// Package rag fetches topic-scoped context from the retrieval service.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/retry"
)

var ErrNotConfigured = errors.New("rag server url not set")

// TokenSource supplies the bearer token; the content store login is reused.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	policy  retry.Policy
	log     *logger.Logger
}

func NewClient(baseURL string, tokens TokenSource, policy retry.Policy, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: 120 * time.Second},
		policy:  policy,
		log:     log.Component("rag"),
	}
}

type promptRequest struct {
	Query               string   `json:"query"`
	ConversationHistory []string `json:"conversation_history"`
	EchoSegmentIDs      []string `json:"echo_segment_ids"`
	EchoConversationIDs []string `json:"echo_conversation_ids"`
	EchoProjectIDs      []string `json:"echo_project_ids"`
	AutoSelect          bool     `json:"auto_select_bool"`
	GetTranscripts      bool     `json:"get_transcripts"`
	TopK                int      `json:"top_k"`
}

// FetchContext returns the plain-text context for query, restricted to the
// given segments.
func (c *Client) FetchContext(ctx context.Context, query string, segmentIDs []string) (string, error) {
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}
	data, err := json.Marshal(promptRequest{
		Query:          query,
		EchoSegmentIDs: segmentIDs,
		TopK:           60,
	})
	if err != nil {
		return "", err
	}
	endpoint := c.baseURL + "/api/stateless/rag/get_lightrag_prompt"

	text, err := retry.Value(ctx, c.policy, c.log, "rag.get_prompt", func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
		if err != nil {
			return "", retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.tokens != nil {
			token, err := c.tokens.Token(ctx)
			if err != nil {
				return "", err
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 300 {
			return "", fmt.Errorf("rag http %d: %s", resp.StatusCode, string(body))
		}
		return string(body), nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to get RAG prompt from server: %w", err)
	}
	c.log.WithField("context_len", len(text)).Debug("rag prompt retrieved")
	return text, nil
}
