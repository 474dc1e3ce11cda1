package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const DefaultMaxCoverBytes = 16 << 20

var ErrCoverTooLarge = errors.New("cover image too large")

// HTTPCoverFetcher downloads cover art into memory, refusing anything larger than MaxBytes.
type HTTPCoverFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

func NewHTTPCoverFetcher(client *http.Client, maxBytes int64) *HTTPCoverFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxCoverBytes
	}
	return &HTTPCoverFetcher{Client: client, MaxBytes: maxBytes}
}

func (f *HTTPCoverFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cover download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cover download failed: %s", resp.Status)
	}
	if resp.ContentLength > f.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrCoverTooLarge, resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("cover download failed: %w", err)
	}
	if int64(len(data)) > f.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrCoverTooLarge, f.MaxBytes)
	}
	return data, nil
}
