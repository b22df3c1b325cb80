package generation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/copyleftdev/promptforge/internal/optimization"
)

// DefaultMaxImageBytes caps downloads.
const DefaultMaxImageBytes = 20 << 20

// Fetcher downloads the bytes behind URL-only image references.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher creates a Fetcher. A nil client gets a 30 second timeout.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{client: client, maxBytes: DefaultMaxImageBytes}
}

// Fetch returns ref with Data populated. References that already carry bytes
// are returned unchanged.
func (f *Fetcher) Fetch(ctx context.Context, ref optimization.ImageRef) (optimization.ImageRef, error) {
	if len(ref.Data) > 0 {
		return ref, nil
	}
	if ref.URL == "" {
		return ref, fmt.Errorf("image reference has neither data nor URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return ref, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return ref, fmt.Errorf("error downloading image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ref, fmt.Errorf("error downloading image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return ref, fmt.Errorf("error reading image: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return ref, fmt.Errorf("image exceeds %d bytes", f.maxBytes)
	}

	ref.Data = data
	if ref.ContentType == "" {
		ref.ContentType = resp.Header.Get("Content-Type")
	}
	if ref.ContentType == "" {
		ref.ContentType = http.DetectContentType(data)
	}
	return ref, nil
}
