// Package validate sanity-checks normalised prices and detects
// significant changes against the prior authoritative snapshot.
package validate

import (
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/pricelens/ingestor/internal/events"
	"github.com/pricelens/ingestor/internal/normalize"
)

// Options configures a single Validate call.
type Options struct {
	ModelSlug        string
	HasImagePricing  bool
	MaxPricePerMillion decimal.Decimal
}

// Result is the outcome of validating a normalised price pair.
type Result struct {
	OK       bool
	Warnings []string
}

// Validate applies the hard-failure and soft-warning rules to a
// normalised prompt/completion pair. A hard failure means the snapshot
// must not be written; soft warnings are logged but the write proceeds.
func Validate(prompt, completion *decimal.Decimal, opts Options) Result {
	var res Result
	res.OK = true

	for _, v := range []*decimal.Decimal{prompt, completion} {
		if v != nil && v.IsNegative() {
			res.OK = false
			res.Warnings = append(res.Warnings, "negative price after normalisation")
			log.WithFields(log.Fields{"model": opts.ModelSlug}).Warn(events.SkippingInvalidPricing)
			return res
		}
	}

	priceCap := opts.MaxPricePerMillion
	if priceCap.IsZero() {
		priceCap = decimal.NewFromInt(10000)
	}
	for _, v := range []*decimal.Decimal{prompt, completion} {
		if v != nil && v.GreaterThan(priceCap) {
			res.Warnings = append(res.Warnings, "price exceeds configured cap")
			log.WithFields(log.Fields{"model": opts.ModelSlug, "value": v.String(), "cap": priceCap.String()}).Warn("price_exceeds_cap")
		}
	}

	if prompt != nil && completion != nil && completion.LessThan(*prompt) {
		if opts.HasImagePricing {
			log.WithFields(log.Fields{"model": opts.ModelSlug}).Debug("completion_less_than_prompt_image_model")
		} else {
			res.Warnings = append(res.Warnings, "completion price lower than prompt price")
			log.WithFields(log.Fields{"model": opts.ModelSlug}).Warn("completion_less_than_prompt")
		}
	}

	return res
}

// ChangeInput is the pair of values compared during change detection.
type ChangeInput struct {
	PromptUSDPerMillion     *decimal.Decimal
	CompletionUSDPerMillion *decimal.Decimal
}

// ChangeDetails describes a detected significant price change on one field.
type ChangeDetails struct {
	Field       string
	Old         decimal.Decimal
	New         decimal.Decimal
	ChangePct   decimal.Decimal
}

// DetectChange compares a new snapshot against the most recent snapshot of
// the same source_type and provider (the caller is responsible for that
// scoping; DetectChange itself is pure comparison). Returns every field
// whose relative change exceeds thresholdPercent. The write is never
// suppressed because of a detected change.
func DetectChange(prev, cur ChangeInput, thresholdPercent decimal.Decimal, modelSlug, providerSlug, sourceType string) []ChangeDetails {
	var changes []ChangeDetails

	check := func(field string, oldV, newV *decimal.Decimal) {
		pct := normalize.PriceChangePercent(oldV, newV)
		if pct == nil {
			return
		}
		if pct.Abs().GreaterThan(thresholdPercent) {
			change := ChangeDetails{Field: field, Old: *oldV, New: *newV, ChangePct: *pct}
			changes = append(changes, change)
			log.WithFields(log.Fields{
				"model":          modelSlug,
				"provider":       providerSlug,
				"source_type":    sourceType,
				"field":          field,
				"old_value":      oldV.String(),
				"new_value":      newV.String(),
				"change_percent": pct.String(),
			}).Warn(events.SignificantPriceChangeDetected)
		}
	}

	check("prompt_usd_per_million", prev.PromptUSDPerMillion, cur.PromptUSDPerMillion)
	check("completion_usd_per_million", prev.CompletionUSDPerMillion, cur.CompletionUSDPerMillion)

	return changes
}
