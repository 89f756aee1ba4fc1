// Package llm issues schema-tagged chat completions and decodes the answer
// into an explicit result type.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/retry"
	"view-aspects-go/internal/types"
)

// Size selects between the two configured deployments.
type Size int

const (
	Small Size = iota
	Large
)

func (s Size) String() string {
	if s == Large {
		return "large"
	}
	return "small"
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }

// Completer fills out (a pointer to a result struct) from a chat completion
// constrained to out's JSON schema.
type Completer interface {
	Complete(ctx context.Context, size Size, messages []Message, out any) error
}

// Structured runs one completion and returns the decoded T.
func Structured[T any](ctx context.Context, c Completer, size Size, messages []Message) (T, error) {
	var out T
	if err := c.Complete(ctx, size, messages, &out); err != nil {
		return out, err
	}
	return out, nil
}

// SchemaMismatchError means the model answered but the answer does not
// decode into, or validate as, the requested schema.
type SchemaMismatchError struct {
	Schema string
	Err    error
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("response does not match schema %s: %v", e.Schema, e.Err)
}

func (e *SchemaMismatchError) Unwrap() error { return e.Err }

// ErrNotConfigured is returned when the endpoint or key is missing.
var ErrNotConfigured = errors.New("llm gateway not configured")

type Config struct {
	BaseURL    string
	APIKey     string
	APIVersion string
	Model      string
	ModelLarge string
	Timeout    time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	policy retry.Policy
	log    *logger.Logger
}

func NewClient(cfg Config, policy retry.Policy, log *logger.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.ModelLarge == "" {
		cfg.ModelLarge = cfg.Model
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		policy: policy,
		log:    log.Component("llm"),
	}
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

func (c *Client) model(size Size) string {
	if size == Large {
		return c.cfg.ModelLarge
	}
	return c.cfg.Model
}

// endpoint follows the Azure deployment layout when an API version is set,
// and the plain OpenAI layout otherwise.
func (c *Client) endpoint(model string) string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if c.cfg.APIVersion == "" {
		return base + "/chat/completions"
	}
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		base, url.PathEscape(model), url.QueryEscape(c.cfg.APIVersion))
}

func (c *Client) Complete(ctx context.Context, size Size, messages []Message, out any) error {
	model := c.model(size)
	if c.cfg.BaseURL == "" || c.cfg.APIKey == "" || model == "" {
		return ErrNotConfigured
	}
	schema, err := SchemaFor(out)
	if err != nil {
		return err
	}
	data, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: 0,
		ResponseFormat: responseFormat{
			Type:       "json_schema",
			JSONSchema: jsonSchema{Name: schema.Name, Schema: schema.Schema, Strict: true},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}
	log := c.log.WithFields(logrus.Fields{"schema": schema.Name, "model": model})
	log.WithField("payload_len", len(data)).Debug("llm request")

	op := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(model), bytes.NewReader(data))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		if c.cfg.APIVersion != "" {
			req.Header.Set("api-key", c.cfg.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		log.WithField("http_status", resp.StatusCode).Debug("llm raw:\n" + string(body))

		if resp.StatusCode >= 300 {
			statusErr := fmt.Errorf("llm http %d: %s", resp.StatusCode, truncate(string(body), 500))
			if permanentStatus(resp.StatusCode) {
				return retry.Permanent(statusErr)
			}
			return statusErr
		}
		return decode(body, schema.Name, out)
	}
	if err := c.policy.Do(ctx, c.log, "llm."+schema.Name, op); err != nil {
		return fmt.Errorf("llm %s: %w", schema.Name, err)
	}
	return nil
}

// decode pulls the JSON object out of choices[0].message.content, falling
// back to the first balanced object in the body, and validates it.
func decode(body []byte, schemaName string, out any) error {
	raw := extractContentFromChoices(body)
	if raw == "" {
		raw = extractJSON(string(body))
	}
	if raw == "" {
		return &SchemaMismatchError{Schema: schemaName, Err: errors.New("no JSON found in LLM output")}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &SchemaMismatchError{Schema: schemaName, Err: err}
	}
	if err := types.Validate(out); err != nil {
		return &SchemaMismatchError{Schema: schemaName, Err: err}
	}
	return nil
}

func permanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

// extractContentFromChoices reads openai-style choices[0].message.content JSON
func extractContentFromChoices(body []byte) string {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content *string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == nil {
		return ""
	}
	return extractJSON(*parsed.Choices[0].Message.Content)
}

// extractJSON finds the first balanced JSON object in a string and returns it.
// It strips common markdown fences first.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, r := range []string{"```json", "```"} {
		s = strings.ReplaceAll(s, r, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
