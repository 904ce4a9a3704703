// Package scraper is the boundary to the external post-resolution service.
// The service owns Instagram session handling and scraping; this client only
// exchanges shortcodes for post metadata.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/verificaicode/verifica-ai/internal/types"
)

// Resolver resolves a post shortcode to its metadata.
type Resolver interface {
	ResolveShortcode(ctx context.Context, shortcode string) (*types.RemotePost, error)
}

// Client talks to the resolver service over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ Resolver = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type carouselItemPayload struct {
	IsVideo  bool   `json:"is_video"`
	MediaURL string `json:"media_url"`
}

type postPayload struct {
	Shortcode   string                `json:"shortcode"`
	IsVideo     bool                  `json:"is_video"`
	Caption     string                `json:"caption"`
	PublishedAt time.Time             `json:"published_at"`
	MediaURL    string                `json:"media_url"`
	IsCarousel  bool                  `json:"is_carousel"`
	Items       []carouselItemPayload `json:"items"`
}

// ResolveShortcode fetches post metadata. A not-found or gone post maps to
// ErrInvalidLink so the pipeline can answer the user directly.
func (c *Client) ResolveShortcode(ctx context.Context, shortcode string) (*types.RemotePost, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/posts/%s", c.baseURL, shortcode), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", shortcode, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: shortcode %s", types.ErrInvalidLink, shortcode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("resolve %s: unexpected status %s", shortcode, resp.Status)
	}

	var payload postPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode post %s: %w", shortcode, err)
	}

	post := &types.RemotePost{
		Shortcode:   payload.Shortcode,
		IsVideo:     payload.IsVideo,
		Caption:     payload.Caption,
		PublishedAt: payload.PublishedAt,
		MediaURL:    payload.MediaURL,
		IsCarousel:  payload.IsCarousel,
	}
	if post.Shortcode == "" {
		post.Shortcode = shortcode
	}
	for _, item := range payload.Items {
		post.Items = append(post.Items, types.CarouselItem{IsVideo: item.IsVideo, MediaURL: item.MediaURL})
	}

	return post, nil
}
