// Package imageindex fetches remote image metadata from the public image
// index. One call per module per check cycle; the update checker provides
// the scheduling, so no caching happens here.
package imageindex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/duckietown/dt-code-api/internal/dtmodule"
	"github.com/duckietown/dt-code-api/internal/logging"
)

// DefaultBaseURL is the public storage bucket serving latest.json documents.
const DefaultBaseURL = "https://duckietown-public-storage.s3.amazonaws.com"

// RemoteImage describes the latest remote build of an image. The tracker
// depends only on the labels subset; Created is kept for display.
type RemoteImage struct {
	Labels  map[string]string
	Created string
}

// Fetcher is the outbound contract the update checker depends on.
type Fetcher interface {
	Fetch(ctx context.Context, registry, repository, tag string) (RemoteImage, error)
}

// Client fetches latest.json documents over HTTP with a bounded timeout.
type Client struct {
	http    *http.Client
	baseURL string
	log     *logging.Logger
}

// New creates an index client. baseURL may be empty to use the default.
func New(baseURL string, log *logging.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		log:     log,
	}
}

// Fetch retrieves the latest remote image document for (repository, tag).
// Fails with dtmodule.ErrNotFound on a 404 and dtmodule.ErrRemoteUnavailable
// on transport errors or unexpected statuses.
func (c *Client) Fetch(ctx context.Context, registry, repository, tag string) (RemoteImage, error) {
	url := fmt.Sprintf("%s/docker/image/%s/%s/%s/latest.json", c.baseURL, registry, repository, tag)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return RemoteImage{}, fmt.Errorf("build index request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return RemoteImage{}, fmt.Errorf("fetch %s: %w", url, dtmodule.ErrRemoteUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return RemoteImage{}, fmt.Errorf("image %s:%s not in index: %w", repository, tag, dtmodule.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return RemoteImage{}, fmt.Errorf("index returned %d for %s: %w", resp.StatusCode, url, dtmodule.ErrRemoteUnavailable)
	}

	var doc struct {
		Labels map[string]string `json:"labels"`
		Image  struct {
			Created string `json:"Created"`
		} `json:"image"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		c.log.Debug("malformed index document", "url", url, "error", err)
		return RemoteImage{}, fmt.Errorf("decode index document: %w", dtmodule.ErrParse)
	}

	return RemoteImage{Labels: doc.Labels, Created: doc.Image.Created}, nil
}

// Verify Client implements Fetcher at compile time.
var _ Fetcher = (*Client)(nil)
