// Package normalize converts raw aggregator and adapter price fields into
// fixed-precision USD-per-million-token decimals.
package normalize

import (
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var million = decimal.NewFromInt(1_000_000)

// ToDecimal parses a numeric-or-string raw value into a decimal, returning
// false when the value is nil, empty, or unparseable.
func ToDecimal(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case nil:
		return decimal.Decimal{}, false
	case decimal.Decimal:
		return v, true
	case string:
		if v == "" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case fmt.Stringer:
		return ToDecimal(v.String())
	default:
		return decimal.Decimal{}, false
	}
}

// ToPerMillion converts a raw per-token price into USD per one million
// tokens. A negative input is a sentinel ("dynamic routing / not
// applicable") and normalises to NULL with a debug trace.
func ToPerMillion(raw any, modelSlug string) *decimal.Decimal {
	d, ok := ToDecimal(raw)
	if !ok {
		return nil
	}
	if d.IsNegative() {
		log.WithFields(log.Fields{"model": modelSlug, "raw_value": d.String()}).Debug("sentinel_pricing_value")
		return nil
	}
	result := d.Mul(million)
	return &result
}

// Passthrough converts a raw per-request or per-image price to decimal
// without the per-million scaling; these fields are already absolute.
func Passthrough(raw any) *decimal.Decimal {
	d, ok := ToDecimal(raw)
	if !ok {
		return nil
	}
	if d.IsNegative() {
		return nil
	}
	return &d
}

// PricingResult is the normalised price surface a single source
// (aggregator, provider adapter, or generic web fallback) contributes for
// one model.
type PricingResult struct {
	PromptUSDPerMillion            *decimal.Decimal
	CompletionUSDPerMillion        *decimal.Decimal
	RequestUSD                     *decimal.Decimal
	ImageUSD                       *decimal.Decimal
	WebSearchUSD                   *decimal.Decimal
	InternalReasoningUSDPerMillion *decimal.Decimal
	InputCacheReadUSDPerMillion    *decimal.Decimal
	InputCacheWriteUSDPerMillion   *decimal.Decimal
	SourceURL                      string
	Notes                          string
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

// ChooseMaxPricing merges multiple candidate tiers for the same
// (model, provider) by taking the maximum of each field independently,
// ignoring NULLs. The "highest price wins" rule from the pricing
// resolution algorithm.
func ChooseMaxPricing(tiers []PricingResult) PricingResult {
	var out PricingResult
	for _, t := range tiers {
		out.PromptUSDPerMillion = maxPtr(out.PromptUSDPerMillion, t.PromptUSDPerMillion)
		out.CompletionUSDPerMillion = maxPtr(out.CompletionUSDPerMillion, t.CompletionUSDPerMillion)
		out.RequestUSD = maxPtr(out.RequestUSD, t.RequestUSD)
		out.ImageUSD = maxPtr(out.ImageUSD, t.ImageUSD)
		out.WebSearchUSD = maxPtr(out.WebSearchUSD, t.WebSearchUSD)
		out.InternalReasoningUSDPerMillion = maxPtr(out.InternalReasoningUSDPerMillion, t.InternalReasoningUSDPerMillion)
		out.InputCacheReadUSDPerMillion = maxPtr(out.InputCacheReadUSDPerMillion, t.InputCacheReadUSDPerMillion)
		out.InputCacheWriteUSDPerMillion = maxPtr(out.InputCacheWriteUSDPerMillion, t.InputCacheWriteUSDPerMillion)
		if t.SourceURL != "" && out.SourceURL == "" {
			out.SourceURL = t.SourceURL
		}
		if t.Notes != "" {
			if out.Notes == "" {
				out.Notes = t.Notes
			} else {
				out.Notes = out.Notes + "; " + t.Notes
			}
		}
	}
	return out
}

// PriceChangePercent returns the percentage change between an old and new
// value, or nil if either is nil or old is zero.
func PriceChangePercent(old, cur *decimal.Decimal) *decimal.Decimal {
	if old == nil || cur == nil || old.IsZero() {
		return nil
	}
	diff := cur.Sub(*old)
	pct := diff.Div(*old).Mul(decimal.NewFromInt(100))
	return &pct
}
