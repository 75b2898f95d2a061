package provideradapter

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/pricelens/ingestor/internal/normalize"
)

const searchDelay = 1 * time.Second

var (
	minTrustedPrice = decimal.NewFromFloat(0.01)
	maxTrustedPrice = decimal.NewFromInt(10000)
)

// pricePatterns extracts "$X per million input/output tokens" phrasings in
// their common forms across provider pricing pages.
var pricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\$([0-9]+\.?[0-9]*)\s*(?:per|/)\s*(?:1|one)\s*million\s*input`),
	regexp.MustCompile(`(?i)\$([0-9]+\.?[0-9]*)\s*(?:per|/)\s*(?:1|one)\s*million\s*output`),
	regexp.MustCompile(`(?i)input[:\s]*\$([0-9]+\.?[0-9]*)\s*/\s*(?:1|one)?\s*m`),
	regexp.MustCompile(`(?i)output[:\s]*\$([0-9]+\.?[0-9]*)\s*/\s*(?:1|one)?\s*m`),
	regexp.MustCompile(`(?i)\$([0-9]+\.?[0-9]*)\s*/\s*1m\s*tokens`),
	regexp.MustCompile(`(?i)\$([0-9]+\.?[0-9]*)\s*per\s*1m\s*tokens`),
	regexp.MustCompile(`(?i)\$([0-9]+\.?[0-9]*)\s*/\s*million\s*tokens`),
}

// genericWebAdapter is the fallback adapter: it issues web searches scoped
// to a trusted-domain allowlist and extracts prices via regex. It enforces
// a 1s minimum inter-call delay and tolerates non-200 search responses
// without aborting the pipeline.
type genericWebAdapter struct {
	webSearchFn    WebSearchFunc
	trustedDomains []string
	delay          time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

func newGenericWebAdapter(webSearchFn WebSearchFunc, trustedDomains []string) *genericWebAdapter {
	return &genericWebAdapter{webSearchFn: webSearchFn, trustedDomains: trustedDomains, delay: searchDelay}
}

func (a *genericWebAdapter) Resolve(ctx context.Context, modelName, modelSlug string) (*normalize.PricingResult, error) {
	queries := []string{
		fmt.Sprintf("%s pricing per million tokens", modelName),
		fmt.Sprintf("%s API price input output", modelName),
		fmt.Sprintf("%s cost per 1M tokens", modelSlug),
	}
	return a.resolveWithQueries(ctx, modelName, queries)
}

func (a *genericWebAdapter) resolveWithQueries(ctx context.Context, modelName string, queries []string) (*normalize.PricingResult, error) {
	if a.webSearchFn == nil {
		return nil, nil
	}

	var tiers []normalize.PricingResult
	for _, q := range queries {
		a.rateLimit()

		results, err := a.webSearchFn(ctx, q)
		if err != nil {
			log.WithError(err).WithField("query", q).Debug("web_search_failed")
			continue
		}
		for _, r := range results {
			if !a.isTrustedDomain(r.URL) {
				continue
			}
			if tier, ok := extractPricing(r.Body); ok {
				tier.SourceURL = r.URL
				tiers = append(tiers, tier)
			}
		}
	}

	if len(tiers) == 0 {
		return nil, nil
	}
	merged := normalize.ChooseMaxPricing(tiers)
	return &merged, nil
}

func (a *genericWebAdapter) rateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if since := time.Since(a.lastCall); since < a.delay {
		time.Sleep(a.delay - since)
	}
	a.lastCall = time.Now()
}

func (a *genericWebAdapter) isTrustedDomain(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, domain := range a.trustedDomains {
		if strings.Contains(lower, strings.ToLower(domain)) {
			return true
		}
	}
	return false
}

func maxPtr(a, b *decimal.Decimal) *decimal.Decimal {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.GreaterThanOrEqual(*b):
		return a
	default:
		return b
	}
}

// extractPricing scans body for the known price phrasings and returns a
// tier carrying the maximum input/output price found, rejecting anything
// outside [$0.01, $10,000]/1M.
func extractPricing(body string) (normalize.PricingResult, bool) {
	var prompt, completion, combined *decimal.Decimal

	for i, re := range pricePatterns {
		matches := re.FindAllStringSubmatch(body, -1)
		for _, m := range matches {
			if len(m) < 2 {
				continue
			}
			val, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			d := decimal.NewFromFloat(val)
			if d.LessThan(minTrustedPrice) || d.GreaterThan(maxTrustedPrice) {
				continue
			}
			// Even-indexed patterns are input-oriented, odd-indexed
			// output-oriented, except the last three generic patterns
			// which describe a single combined rate; that rate is used
			// for both sides only when no labelled price was found.
			switch {
			case i == 0 || i == 2:
				prompt = maxPtr(prompt, &d)
			case i == 1 || i == 3:
				completion = maxPtr(completion, &d)
			default:
				combined = maxPtr(combined, &d)
			}
		}
	}

	if prompt == nil && completion == nil {
		if combined == nil {
			return normalize.PricingResult{}, false
		}
		return normalize.PricingResult{
			PromptUSDPerMillion:     combined,
			CompletionUSDPerMillion: combined,
			Notes:                   "single combined rate applied to both prompt and completion",
		}, true
	}
	result := normalize.PricingResult{
		PromptUSDPerMillion:     prompt,
		CompletionUSDPerMillion: completion,
	}
	if prompt != nil && completion == nil {
		result.CompletionUSDPerMillion = prompt
		result.Notes = "single combined rate applied to both prompt and completion"
	}
	return result, true
}
