// Package generation provides image generators backed by FAL and Imagen.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/copyleftdev/promptforge/internal/gemini"
	"github.com/copyleftdev/promptforge/internal/optimization"
)

// Defaults for the FAL generator.
const (
	DefaultFalBaseURL = "https://fal.run"
	DefaultFalModel   = "fal-ai/imagen4/preview"
)

// FalConfig configures a Fal generator.
type FalConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	AspectRatio string
	// RPS throttles outbound requests. Zero disables throttling.
	RPS float64
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Fal generates images through FAL's synchronous REST endpoint.
type Fal struct {
	apiKey      string
	model       string
	baseURL     string
	aspectRatio string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewFal creates a FAL generator.
func NewFal(cfg FalConfig) (*Fal, error) {
	if cfg.APIKey == "" {
		return nil, optimization.ConfigurationError("generation", "FAL_KEY is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultFalModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultFalBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}

	return &Fal{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		aspectRatio: cfg.AspectRatio,
		httpClient:  cfg.HTTPClient,
		limiter:     rate.NewLimiter(limit, 1),
		logger:      cfg.Logger.Named("fal"),
	}, nil
}

type falRequest struct {
	Prompt      string `json:"prompt"`
	NumImages   int    `json:"num_images"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

type falImage struct {
	URL         string `json:"url"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ContentType string `json:"content_type"`
}

type falResponse struct {
	Images []falImage `json:"images"`
	Seed   int64      `json:"seed"`
}

type falError struct {
	Detail json.RawMessage `json:"detail"`
}

// Generate requests a single image for prompt.
func (f *Fal) Generate(ctx context.Context, prompt string) (*optimization.Generated, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, optimization.GenerationError(err, "rate limiter wait failed").WithComponent("fal")
	}

	body, err := json.Marshal(falRequest{
		Prompt:      prompt,
		NumImages:   1,
		AspectRatio: f.aspectRatio,
	})
	if err != nil {
		return nil, optimization.GenerationError(err, "failed to marshal request").WithComponent("fal")
	}

	url := fmt.Sprintf("%s/%s", f.baseURL, f.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, optimization.GenerationError(err, "failed to create request").WithComponent("fal")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+f.apiKey)

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, optimization.GenerationError(err, "HTTP request failed").WithComponent("fal")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, optimization.GenerationError(err, "failed to read response").WithComponent("fal")
	}
	latency := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		var fe falError
		detail := gemini.Truncate(string(respBody), 200)
		if json.Unmarshal(respBody, &fe) == nil && len(fe.Detail) > 0 {
			detail = gemini.Truncate(string(fe.Detail), 200)
		}
		f.logger.Error("FAL API returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", gemini.Truncate(string(respBody), 500)),
		)
		return nil, optimization.NewErrorf(optimization.KindGeneration,
			"API returned status %d: %s", resp.StatusCode, detail).WithComponent("fal")
	}

	var parsed falResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, optimization.GenerationError(err, "failed to parse response").WithComponent("fal")
	}
	if len(parsed.Images) == 0 || parsed.Images[0].URL == "" {
		return nil, optimization.NewError(optimization.KindGeneration, "no image generated in response").
			WithComponent("fal")
	}

	img := parsed.Images[0]
	f.logger.Debug("Image generated",
		zap.String("model", f.model),
		zap.String("url", img.URL),
		zap.Duration("latency", latency),
	)

	return &optimization.Generated{
		Image: optimization.ImageRef{
			URL:         img.URL,
			Width:       img.Width,
			Height:      img.Height,
			ContentType: img.ContentType,
		},
		Model:   f.model,
		Latency: latency,
	}, nil
}
