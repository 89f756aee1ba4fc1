// Package illustration generates an image per aspect and re-hosts it in the
// content store. It never fails an aspect: every error yields an empty URL.
package illustration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"view-aspects-go/internal/directus"
	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/prompts"
	"view-aspects-go/internal/retry"
)

// Uploader stores the downloaded image and resolves its public URL.
type Uploader interface {
	UploadFile(ctx context.Context, filename string, content []byte, meta directus.FileMeta) (string, error)
	AssetURL(id string) string
}

type Config struct {
	// APIURL is the full image generation endpoint. Empty disables images.
	APIURL  string
	APIKey  string
	Timeout time.Duration
}

type Illustrator struct {
	cfg      Config
	prompt   string
	uploader Uploader
	http     *http.Client
	generate retry.Policy
	upload   retry.Policy
	breaker  *gobreaker.CircuitBreaker
	log      *logger.Logger
}

// New builds an illustrator. Generation retries on the given policy, the
// download and upload step on the same policy with a 1s base and 0.3s jitter.
func New(cfg Config, promptTemplate string, uploader Uploader, policy retry.Policy, log *logger.Logger) *Illustrator {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	log = log.Component("illustration")
	return &Illustrator{
		cfg:      cfg,
		prompt:   promptTemplate,
		uploader: uploader,
		http:     &http.Client{Timeout: cfg.Timeout},
		generate: policy,
		upload:   policy.WithBase(time.Second, 300*time.Millisecond),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "illustration",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
			},
		}),
		log: log,
	}
}

// Enabled reports whether an image endpoint is configured.
func (il *Illustrator) Enabled() bool {
	return il != nil && il.cfg.APIURL != "" && il.uploader != nil
}

// Illustrate returns the hosted image URL for an aspect, or "" on any
// failure or when the whole operation exceeds the configured timeout.
func (il *Illustrator) Illustrate(ctx context.Context, title, summary string) string {
	if !il.Enabled() {
		return ""
	}
	log := il.log.WithField("aspect", title)
	ctx, cancel := context.WithTimeout(ctx, il.cfg.Timeout)
	defer cancel()

	url, err := il.breaker.Execute(func() (any, error) {
		return il.illustrate(ctx, title, summary)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.WithError(err).Warn("image generation skipped")
		} else {
			log.WithError(err).Error("Error generating image after all retries")
		}
		return ""
	}
	log.Info("Successfully processed image for aspect")
	return url.(string)
}

func (il *Illustrator) illustrate(ctx context.Context, title, summary string) (string, error) {
	prompt, err := prompts.Render(il.prompt, prompts.IllustrationVars{Title: title, Summary: summary})
	if err != nil {
		return "", err
	}
	transient, err := retry.Value(ctx, il.generate, il.log, "illustration.generate", func(ctx context.Context) (string, error) {
		return il.requestImage(ctx, prompt)
	})
	if err != nil {
		return "", fmt.Errorf("generate image: %w", err)
	}
	return retry.Value(ctx, il.upload, il.log, "illustration.upload", func(ctx context.Context) (string, error) {
		content, err := il.download(ctx, transient)
		if err != nil {
			return "", err
		}
		id, err := il.uploader.UploadFile(ctx, uuid.NewString()+".png", content, directus.FileMeta{
			Title:       "Aspect Image - " + title,
			Description: "Generated image for aspect: " + summary,
			Tags:        []string{"aspect", "generated", "dalle"},
		})
		if err != nil {
			return "", err
		}
		return il.uploader.AssetURL(id), nil
	})
}

type imageRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Size    string `json:"size"`
	Quality string `json:"quality"`
	N       int    `json:"n"`
	Style   string `json:"style"`
}

func (il *Illustrator) requestImage(ctx context.Context, prompt string) (string, error) {
	data, err := json.Marshal(imageRequest{
		Model:   "dall-e-3",
		Prompt:  prompt,
		Size:    "1024x1024",
		Quality: "standard",
		N:       1,
		Style:   "vivid",
	})
	if err != nil {
		return "", retry.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, il.cfg.APIURL, bytes.NewReader(data))
	if err != nil {
		return "", retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+il.cfg.APIKey)

	resp, err := il.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("image http %d: %s", resp.StatusCode, string(body))
	}
	var parsed struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode image response: %w", err)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].URL == "" {
		return "", errors.New("image response has no url")
	}
	return parsed.Data[0].URL, nil
}

func (il *Illustrator) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	resp, err := il.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download image: http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
