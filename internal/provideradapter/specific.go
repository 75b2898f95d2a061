package provideradapter

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/pricelens/ingestor/internal/normalize"
)

// knownProviderFallbacks is a small hardcoded table of well-known provider
// slugs, each carrying a per-model fallback price map used when a web
// search is unavailable or yields nothing credible. Values are vendor-
// published list prices current as of the catalogue this registry was
// seeded from; adapters never treat them as authoritative over a fresh
// search result.
var knownProviderFallbacks = map[string]map[string]PriceTier{
	"openai": {
		"gpt-4o":        {PromptUSDPerMillion: 2.50, CompletionUSDPerMillion: 10.00},
		"gpt-4o-mini":   {PromptUSDPerMillion: 0.15, CompletionUSDPerMillion: 0.60},
		"gpt-4-turbo":   {PromptUSDPerMillion: 10.00, CompletionUSDPerMillion: 30.00},
		"gpt-4":         {PromptUSDPerMillion: 30.00, CompletionUSDPerMillion: 60.00},
		"gpt-3.5-turbo": {PromptUSDPerMillion: 0.50, CompletionUSDPerMillion: 1.50},
		"o1":            {PromptUSDPerMillion: 15.00, CompletionUSDPerMillion: 60.00},
		"o1-mini":       {PromptUSDPerMillion: 3.00, CompletionUSDPerMillion: 12.00},
		"o1-pro":        {PromptUSDPerMillion: 150.00, CompletionUSDPerMillion: 600.00},
	},
	"anthropic": {
		"claude-3-5-sonnet": {PromptUSDPerMillion: 3.00, CompletionUSDPerMillion: 15.00},
		"claude-3-5-haiku":  {PromptUSDPerMillion: 0.80, CompletionUSDPerMillion: 4.00},
		"claude-3-opus":     {PromptUSDPerMillion: 15.00, CompletionUSDPerMillion: 75.00},
	},
	"google":    {},
	"cohere":    {},
	"mistral":   {},
	"deepseek":  {},
	"groq":      {},
	"together":  {},
	"fireworks": {},
	"deepinfra": {},
}

// specificAdapter resolves pricing for one well-known provider: try a web
// search scoped to the provider's own domains first, fall back to the
// hardcoded table when the search is unavailable or yields nothing.
type specificAdapter struct {
	slug           string
	fallback       map[string]PriceTier
	webSearchFn    WebSearchFunc
	trustedDomains []string
}

func newSpecificAdapter(slug string, fallback map[string]PriceTier, webSearchFn WebSearchFunc, trustedDomains []string) *specificAdapter {
	return &specificAdapter{slug: slug, fallback: fallback, webSearchFn: webSearchFn, trustedDomains: trustedDomains}
}

func (a *specificAdapter) Resolve(ctx context.Context, modelName, modelSlug string) (*normalize.PricingResult, error) {
	if a.webSearchFn != nil {
		generic := newGenericWebAdapter(a.webSearchFn, a.trustedDomains)
		result, err := generic.resolveWithQueries(ctx, modelName, []string{
			fmt.Sprintf("%s %s pricing per million tokens", a.slug, modelName),
			fmt.Sprintf("%s API pricing %s", a.slug, modelName),
		})
		if err == nil && result != nil {
			return result, nil
		}
		if err != nil {
			log.WithFields(log.Fields{"provider": a.slug, "model": modelSlug}).WithError(err).Debug("provider_search_failed")
		}
	}

	if tier, ok := a.fallback[modelName]; ok {
		prompt := decimal.NewFromFloat(tier.PromptUSDPerMillion)
		completion := decimal.NewFromFloat(tier.CompletionUSDPerMillion)
		return &normalize.PricingResult{
			PromptUSDPerMillion:     &prompt,
			CompletionUSDPerMillion: &completion,
			Notes:                   "hardcoded fallback pricing",
		}, nil
	}

	return nil, nil
}
