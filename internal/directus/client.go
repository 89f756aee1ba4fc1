// Package directus talks to the content store: authentication, item reads and
// writes, and file uploads.
package directus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/retry"
)

var ErrNotConfigured = errors.New("directus not configured")

type Config struct {
	BaseURL  string
	Email    string
	Password string
	Timeout  time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	policy retry.Policy
	log    *logger.Logger

	mu    sync.Mutex
	token string
}

func NewClient(cfg Config, policy retry.Policy, log *logger.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, policy: policy, log: log.Component("directus")}
}

// Query is the subset of the items query language used here.
type Query struct {
	Filter map[string]any
	Fields []string
	// Limit of -1 returns every match.
	Limit int
}

func (q Query) values() (url.Values, error) {
	v := url.Values{}
	if len(q.Filter) > 0 {
		f, err := json.Marshal(q.Filter)
		if err != nil {
			return nil, err
		}
		v.Set("filter", string(f))
	}
	if len(q.Fields) > 0 {
		v.Set("fields", strings.Join(q.Fields, ","))
	}
	if q.Limit != 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v, nil
}

// AssetURL is where an uploaded file is served from.
func (c *Client) AssetURL(id string) string {
	return c.cfg.BaseURL + "/assets/" + id
}

// Token logs in on first use and returns the cached access token.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	if c.cfg.BaseURL == "" {
		return "", ErrNotConfigured
	}
	body, _ := json.Marshal(map[string]string{"email": c.cfg.Email, "password": c.cfg.Password})
	var resp struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	err := c.policy.Do(ctx, c.log, "directus.login", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/auth/login", bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		return c.doJSON(req, &resp)
	})
	if err != nil {
		return "", fmt.Errorf("directus login: %w", err)
	}
	if resp.Data.AccessToken == "" {
		return "", errors.New("directus login: empty access token")
	}
	c.token = resp.Data.AccessToken
	return c.token, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// GetItems decodes the data array of a collection query into out.
func (c *Client) GetItems(ctx context.Context, collection string, q Query, out any) error {
	params, err := q.values()
	if err != nil {
		return fmt.Errorf("directus query: %w", err)
	}
	endpoint := c.cfg.BaseURL + "/items/" + url.PathEscape(collection)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	err = c.authorized(ctx, "directus.get_items", func(ctx context.Context, token string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return req, err
	}, &resp)
	if err != nil {
		return fmt.Errorf("get %s: %w", collection, err)
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("decode %s: %w", collection, err)
	}
	return nil
}

// CreateItem inserts one item and returns the stored record.
func (c *Client) CreateItem(ctx context.Context, collection string, item any) (map[string]any, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshal %s item: %w", collection, err)
	}
	endpoint := c.cfg.BaseURL + "/items/" + url.PathEscape(collection)
	var resp struct {
		Data map[string]any `json:"data"`
	}
	err = c.authorized(ctx, "directus.create_item", func(ctx context.Context, token string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return req, err
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", collection, err)
	}
	return resp.Data, nil
}

// FileMeta describes an uploaded file.
type FileMeta struct {
	Title       string
	Description string
	Tags        []string
}

// UploadFile stores content under filename and returns the file id.
func (c *Client) UploadFile(ctx context.Context, filename string, content []byte, meta FileMeta) (string, error) {
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	err := c.authorized(ctx, "directus.upload_file", func(ctx context.Context, token string) (*http.Request, error) {
		var b bytes.Buffer
		w := multipart.NewWriter(&b)
		_ = w.WriteField("title", meta.Title)
		_ = w.WriteField("description", meta.Description)
		if len(meta.Tags) > 0 {
			tags, _ := json.Marshal(meta.Tags)
			_ = w.WriteField("tags", string(tags))
		}
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(content); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/files", &b)
		if err == nil {
			req.Header.Set("Content-Type", w.FormDataContentType())
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return req, err
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("upload %s: response has no file id", filename)
	}
	return resp.Data.ID, nil
}

// authorized runs a request built with the current token under the retry
// policy. A 401 drops the token so the next attempt logs in again.
func (c *Client) authorized(ctx context.Context, name string, build func(ctx context.Context, token string) (*http.Request, error), target any) error {
	if c.cfg.BaseURL == "" {
		return ErrNotConfigured
	}
	return c.policy.Do(ctx, c.log, name, func(ctx context.Context) error {
		token, err := c.Token(ctx)
		if err != nil {
			return err
		}
		req, err := build(ctx, token)
		if err != nil {
			return retry.Permanent(err)
		}
		err = c.doJSON(req, target)
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
			c.dropToken()
			return err
		}
		return err
	})
}

// StatusError is a non-2xx store response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("directus http %d: %s", e.Code, e.Body)
}

// doJSON performs one request. 4xx other than 401/408/429 is permanent.
func (c *Client) doJSON(req *http.Request, target any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 300 {
		se := &StatusError{Code: resp.StatusCode, Body: string(body)}
		switch {
		case resp.StatusCode == http.StatusUnauthorized,
			resp.StatusCode == http.StatusRequestTimeout,
			resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode >= 500:
			return se
		default:
			return retry.Permanent(se)
		}
	}
	if target == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("json decode error: %v body=%s", err, string(body))
	}
	return nil
}
