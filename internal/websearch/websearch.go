// Package websearch implements the generic provider adapter's web-search
// backend against the Brave Search API.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pricelens/ingestor/internal/provideradapter"
)

const (
	searchURL      = "https://api.search.brave.com/res/v1/web/search"
	defaultTimeout = 10 * time.Second
)

// Client issues Brave Search queries. A nil Client (or an empty API key)
// should never be constructed into a bound function; NewFunc returns nil
// in that case so the generic adapter degrades to a no-op.
type Client struct {
	apiKey     string
	httpClient *http.Client
}

// NewFunc returns a provideradapter.WebSearchFunc bound to apiKey, or nil
// when apiKey is empty so the generic adapter has nothing to call. A
// non-positive timeout falls back to defaultTimeout.
func NewFunc(apiKey string, timeout time.Duration) provideradapter.WebSearchFunc {
	if apiKey == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{apiKey: apiKey, httpClient: &http.Client{Timeout: timeout}}
	return c.search
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (c *Client) search(ctx context.Context, query string) ([]provideradapter.SearchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}
	q := req.URL.Query()
	q.Set("q", query)
	q.Set("count", "5")
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("websearch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("websearch: read response: %w", err)
	}

	var payload braveResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("websearch: parse response: %w", err)
	}

	out := make([]provideradapter.SearchResult, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		out = append(out, provideradapter.SearchResult{Title: r.Title, URL: r.URL, Body: r.Description})
	}
	return out, nil
}
