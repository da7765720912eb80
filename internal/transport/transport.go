// Package transport loads raw UTFGrid tile JSON.
//
// Two strategies exist: HTTP fetches the tile URL directly, Callback asks the
// server to wrap the payload in a named callback and dispatches it through a
// Registry. Both return the same raw JSON so the tile cache never needs to
// know which one is in use.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"utfgrid/internal/tile"
)

// TileTransport fetches the raw JSON of one tile.
type TileTransport interface {
	Fetch(ctx context.Context, c tile.Coord) ([]byte, error)
}

// StatusError is returned for any response other than 200 OK.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.Status, e.URL)
}

// HTTP fetches tiles from the expanded template URL.
type HTTP struct {
	client   *http.Client
	template *tile.Template
}

func NewHTTP(client *http.Client, template *tile.Template) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{client: client, template: template}
}

func (t *HTTP) Fetch(ctx context.Context, c tile.Coord) ([]byte, error) {
	return get(ctx, t.client, t.template.URL(c))
}

func get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return body, nil
}
