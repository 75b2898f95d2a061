// Package aggregator talks to the external aggregator's Models, Providers,
// and usage endpoints with bounded retry and 429 cooldown handling.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	maxAttempts    = 3
	backoffBase    = time.Second
	defaultTimeout = 30 * time.Second
)

// Client wraps *http.Client with the aggregator's retry and cooldown
// semantics. A Client is safe for concurrent use across the per-model
// worker pool; it holds no mutable state beyond its connection pool and
// the 429 cooldown guard below.
type Client struct {
	baseURL         string
	apiKey          string
	modelsPath      string
	providersPath   string
	completionsPath string
	httpClient      *http.Client
	timeout         time.Duration

	mu            sync.Mutex
	cooldownUntil time.Time
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient overrides the underlying *http.Client (tests inject one
// pointed at an httptest.Server).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithPaths overrides the aggregator's endpoint paths.
func WithPaths(modelsPath, providersPath, completionsPath string) Option {
	return func(c *Client) {
		if modelsPath != "" {
			c.modelsPath = modelsPath
		}
		if providersPath != "" {
			c.providersPath = providersPath
		}
		if completionsPath != "" {
			c.completionsPath = completionsPath
		}
	}
}

// NewClient constructs an aggregator client for the given base URL and key.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		apiKey:          apiKey,
		modelsPath:      "/api/v1/models",
		providersPath:   "/api/v1/providers",
		completionsPath: "/api/v1/chat/completions",
		timeout:         defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

// Model is the aggregator's catalogue row for a single model.
type Model struct {
	Slug                string         `json:"slug"`
	Name                string         `json:"name"`
	CanonicalSlug       string         `json:"canonical_slug"`
	ContextLength       *int           `json:"context_length"`
	Architecture        map[string]any `json:"architecture"`
	SupportedParameters []string       `json:"supported_parameters"`
	Distillable         *bool          `json:"distillable"`
	Pricing             map[string]any `json:"pricing"`
	TopProvider         *TopProvider   `json:"top_provider"`
}

// TopProvider identifies the aggregator's designated primary provider.
type TopProvider struct {
	Slug string `json:"slug"`
}

// Provider is the aggregator's catalogue row for a single provider.
type Provider struct {
	Slug              string `json:"slug"`
	Name              string `json:"name"`
	HomepageURL       string `json:"homepage_url"`
	PrivacyPolicyURL  string `json:"privacy_policy_url"`
	TermsOfServiceURL string `json:"terms_of_service_url"`
	StatusPageURL     string `json:"status_page_url"`
}

// Filters scope a ListModels call; each zero-valued field is left
// unapplied.
type Filters struct {
	SupportedParameters []string
	Distillable         *bool
	InputModalities     []string
	OutputModalities    []string
}

// UsageReport is the result of a tiny BYOK completion call.
type UsageReport struct {
	PromptTokens      int
	CompletionTokens  int
	AggregatorCostUSD *string
	UpstreamCostUSD   *string
	ResponseMS        int
	Raw               map[string]any
	OK                bool
}

func (c *Client) cooldownActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.cooldownUntil)
}

func (c *Client) triggerCooldown(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cooldownUntil = time.Now().Add(d)
}

// doWithRetry issues req with bounded exponential backoff: 3 attempts,
// base 1s, retried only on transient network errors and 5xx. 4xx is
// returned immediately. 429 triggers a cooldown respected by subsequent
// calls on this client within the same tick.
func (c *Client) doWithRetry(ctx context.Context, build func(context.Context) (*http.Request, error)) (*http.Response, error) {
	if c.cooldownActive() {
		return nil, fmt.Errorf("aggregator: client in 429 cooldown")
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			wait := backoffBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		// The per-request timeout is scoped to this attempt only; it is
		// intentionally not cancelled on success so the caller can still
		// read the response body afterward.
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		req, err := build(reqCtx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("aggregator: build request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			cancel()
			lastErr = fmt.Errorf("aggregator: request failed: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			closeBody(resp.Body)
			cancel()
			c.triggerCooldown(backoffBase * time.Duration(maxAttempts))
			return nil, fmt.Errorf("aggregator: rate limited (429)")
		}
		if resp.StatusCode >= 500 {
			closeBody(resp.Body)
			cancel()
			lastErr = fmt.Errorf("aggregator: server error %d", resp.StatusCode)
			continue
		}

		// 4xx and success both return the response for the caller to
		// read and close; cancel is not called, so reqCtx is released
		// only when its deadline elapses.
		_ = cancel
		return resp, nil
	}
	return nil, lastErr
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

// ListModels returns the aggregator's catalogue. Filters are always
// applied client-side after the full list is fetched; none are sent to
// the API.
func (c *Client) ListModels(ctx context.Context, filters Filters) ([]Model, error) {
	resp, err := c.doWithRetry(ctx, func(reqCtx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+c.modelsPath, nil)
		if err != nil {
			return nil, err
		}
		c.authorize(req)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer closeBody(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("aggregator: list models: status %d", resp.StatusCode)
	}

	var payload struct {
		Data []Model `json:"data"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("aggregator: read models response: %w", err)
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("aggregator: parse models response: %w", err)
	}

	return applyFilters(payload.Data, filters), nil
}

func applyFilters(models []Model, f Filters) []Model {
	if len(f.SupportedParameters) == 0 && f.Distillable == nil && len(f.InputModalities) == 0 && len(f.OutputModalities) == 0 {
		return models
	}
	out := make([]Model, 0, len(models))
	for _, m := range models {
		if len(f.SupportedParameters) > 0 && !containsAll(m.SupportedParameters, f.SupportedParameters) {
			continue
		}
		if f.Distillable != nil && (m.Distillable == nil || *m.Distillable != *f.Distillable) {
			continue
		}
		if len(f.InputModalities) > 0 && !containsAll(architectureModalities(m.Architecture, "input_modalities"), f.InputModalities) {
			continue
		}
		if len(f.OutputModalities) > 0 && !containsAll(architectureModalities(m.Architecture, "output_modalities"), f.OutputModalities) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func containsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

// architectureModalities reads a []string field (e.g. input_modalities,
// output_modalities) out of a model's opaque architecture blob.
func architectureModalities(architecture map[string]any, key string) []string {
	raw, ok := architecture[key]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ListProviders returns the aggregator's provider catalogue.
func (c *Client) ListProviders(ctx context.Context) ([]Provider, error) {
	resp, err := c.doWithRetry(ctx, func(reqCtx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+c.providersPath, nil)
		if err != nil {
			return nil, err
		}
		c.authorize(req)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer closeBody(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("aggregator: list providers: status %d", resp.StatusCode)
	}

	var payload struct {
		Data []Provider `json:"data"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("aggregator: read providers response: %w", err)
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("aggregator: parse providers response: %w", err)
	}
	return payload.Data, nil
}

// TinyBYOKCall sends a minimal completion request with max_tokens=1 asking
// the API to include a usage and cost breakdown. Used only for spot-checks.
func (c *Client) TinyBYOKCall(ctx context.Context, modelSlug string) (UsageReport, error) {
	started := time.Now()
	reqBody, err := json.Marshal(map[string]any{
		"model":      modelSlug,
		"max_tokens": 1,
		"messages":   []map[string]string{{"role": "user", "content": "hi"}},
	})
	if err != nil {
		return UsageReport{}, fmt.Errorf("aggregator: build byok payload: %w", err)
	}

	resp, err := c.doWithRetry(ctx, func(reqCtx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+c.completionsPath, bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.authorize(req)
		return req, nil
	})
	if err != nil {
		return UsageReport{OK: false}, err
	}
	defer closeBody(resp.Body)

	elapsed := int(time.Since(started).Milliseconds())

	if resp.StatusCode >= 400 {
		log.WithFields(log.Fields{"model": modelSlug, "status": resp.StatusCode}).Warn("byok_call_failed")
		return UsageReport{OK: false, ResponseMS: elapsed}, nil
	}

	var payload struct {
		Usage struct {
			PromptTokens      int    `json:"prompt_tokens"`
			CompletionTokens  int    `json:"completion_tokens"`
			AggregatorCostUSD string `json:"cost"`
			UpstreamCostUSD   string `json:"upstream_cost"`
		} `json:"usage"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return UsageReport{OK: false, ResponseMS: elapsed}, fmt.Errorf("aggregator: read byok response: %w", err)
	}
	raw := map[string]any{}
	_ = json.Unmarshal(body, &raw)
	if err := json.Unmarshal(body, &payload); err != nil {
		return UsageReport{OK: false, ResponseMS: elapsed}, fmt.Errorf("aggregator: parse byok response: %w", err)
	}

	report := UsageReport{
		PromptTokens:     payload.Usage.PromptTokens,
		CompletionTokens: payload.Usage.CompletionTokens,
		ResponseMS:       elapsed,
		Raw:              raw,
		OK:               true,
	}
	if payload.Usage.AggregatorCostUSD != "" {
		report.AggregatorCostUSD = &payload.Usage.AggregatorCostUSD
	}
	if payload.Usage.UpstreamCostUSD != "" {
		report.UpstreamCostUSD = &payload.Usage.UpstreamCostUSD
	}
	return report, nil
}

func closeBody(body io.ReadCloser) {
	if errClose := body.Close(); errClose != nil {
		log.WithError(errClose).Warn("aggregator: close response body failed")
	}
}
