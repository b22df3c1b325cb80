package scoring

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/copyleftdev/promptforge/internal/gemini"
	"github.com/copyleftdev/promptforge/internal/optimization"
)

// HTTPScorer calls a remote scoring model. The service receives the prompt
// and either the image URL or its base64 bytes, and answers {"score": n}.
type HTTPScorer struct {
	url        string
	httpClient *http.Client
}

// NewHTTPScorer creates a scorer for the given endpoint.
func NewHTTPScorer(url string, client *http.Client) (*HTTPScorer, error) {
	if url == "" {
		return nil, optimization.ConfigurationError("scoring", "scorer URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPScorer{url: url, httpClient: client}, nil
}

type scoreRequest struct {
	Prompt      string `json:"prompt"`
	ImageURL    string `json:"image_url,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type scoreResponse struct {
	Score *float64 `json:"score"`
	Error string   `json:"error,omitempty"`
}

// Score implements SubScorer.
func (s *HTTPScorer) Score(ctx context.Context, image optimization.ImageRef, prompt string) (float64, error) {
	payload := scoreRequest{
		Prompt:      prompt,
		ImageURL:    image.URL,
		ContentType: image.ContentType,
	}
	if len(image.Data) > 0 {
		payload.ImageBase64 = base64.StdEncoding.EncodeToString(image.Data)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("scorer returned status %d: %s", resp.StatusCode, gemini.Truncate(string(respBody), 200))
	}

	var parsed scoreResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != "" {
		return 0, fmt.Errorf("scorer error: %s", parsed.Error)
	}
	if parsed.Score == nil {
		return 0, fmt.Errorf("scorer response has no score")
	}
	return *parsed.Score, nil
}
