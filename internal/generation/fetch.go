package generation

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxVideoBytes caps a fetched result video.
const DefaultMaxVideoBytes int64 = 512 << 20

// HTTPFetcher downloads inference outputs over plain HTTP(S).
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// NewHTTPFetcher returns a fetcher using client, or a context-bound default.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{Client: client, MaxBytes: DefaultMaxVideoBytes}
}

// Fetch GETs rawURL and returns the body. Non 2xx responses are errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}
	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxVideoBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("fetch: body exceeds %d bytes", limit)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("fetch: empty body")
	}
	return data, nil
}
