// Package gemini wraps the google.golang.org/genai client for the judge,
// rewriter and Imagen generator.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/copyleftdev/promptforge/internal/optimization"
)

// ContentGenerator is the subset of *genai.Models used for text and
// multimodal inference.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ImageGenerator is the subset of *genai.Models used for Imagen.
type ImageGenerator interface {
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

// Models is satisfied by *genai.Models.
type Models interface {
	ContentGenerator
	ImageGenerator
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, optimization.ConfigurationError("gemini", "GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, optimization.WrapError(optimization.KindConfiguration, err, "failed to create Gemini client").
			WithComponent("gemini")
	}
	return client, nil
}

// Throttled wraps Models with a shared rate limiter. It is safe for
// concurrent use.
type Throttled struct {
	models  Models
	limiter *rate.Limiter
}

// NewThrottled limits calls to rps per second with a burst of one.
func NewThrottled(models Models, rps float64) *Throttled {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Throttled{models: models, limiter: rate.NewLimiter(limit, 1)}
}

// GenerateContent waits for the limiter before calling the model.
func (t *Throttled) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.models.GenerateContent(ctx, model, contents, config)
}

// GenerateImages waits for the limiter before calling Imagen.
func (t *Throttled) GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.models.GenerateImages(ctx, model, prompt, config)
}

// Describe turns a genai.APIError into a short message naming the likely
// cause. Other errors are returned unchanged.
func Describe(err error) error {
	var apiErr *genai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("gemini rejected the API key (code %d): %w", apiErr.Code, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf("gemini rate limit exceeded: %w", err)
	case http.StatusBadRequest:
		return fmt.Errorf("gemini rejected the request: %w", err)
	default:
		if apiErr.Code >= http.StatusInternalServerError {
			return fmt.Errorf("gemini service error (code %d): %w", apiErr.Code, err)
		}
		return err
	}
}

// ResponseText returns the concatenated text of the first candidate.
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Text()
}
