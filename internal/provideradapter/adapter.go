// Package provideradapter resolves (provider, model) pairs to pricing via
// per-provider adapters and a generic web-search fallback.
package provideradapter

import (
	"context"

	"github.com/pricelens/ingestor/internal/normalize"
)

// Adapter resolves a single (provider, model) pair to a pricing result.
// Implementations never read process-wide state for credentials; every
// credential is bound at construction time.
type Adapter interface {
	Resolve(ctx context.Context, modelName, modelSlug string) (*normalize.PricingResult, error)
}

// WebSearchFunc performs a web search and returns raw result snippets
// (title, url, body) for price extraction. Bound into adapters at
// construction time rather than read from ambient configuration.
type WebSearchFunc func(ctx context.Context, query string) ([]SearchResult, error)

// SearchResult is a single web-search hit.
type SearchResult struct {
	Title string
	URL   string
	Body  string
}

// PriceTier is a hardcoded fallback price pair for a known model.
type PriceTier struct {
	PromptUSDPerMillion     float64
	CompletionUSDPerMillion float64
}
