package validate

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) *decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return &d
}

func TestValidate_NegativeAfterNormalisationIsHardFailure(t *testing.T) {
	res := Validate(dec("-1"), dec("5"), Options{ModelSlug: "x/y"})
	if res.OK {
		t.Fatalf("expected hard failure for a negative price, got %+v", res)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected exactly one warning, got %v", res.Warnings)
	}
}

func TestValidate_PriceCapBreachStaysValidButWarns(t *testing.T) {
	res := Validate(dec("20000"), dec("5"), Options{
		ModelSlug:          "x/y",
		MaxPricePerMillion: decimal.NewFromInt(10000),
	})
	if !res.OK {
		t.Fatalf("expected a cap breach to be a soft warning, not a hard failure")
	}
	// completion (5) is also below prompt (20000) with no image pricing,
	// so the cap warning is followed by the completion<prompt warning.
	if len(res.Warnings) != 2 || res.Warnings[0] != "price exceeds configured cap" {
		t.Fatalf("expected the cap warning plus the completion<prompt warning, got %v", res.Warnings)
	}
}

func TestValidate_CompletionBelowPromptWarnsWithoutImagePricing(t *testing.T) {
	res := Validate(dec("10"), dec("5"), Options{ModelSlug: "x/y"})
	if !res.OK {
		t.Fatalf("expected completion < prompt to stay valid")
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected one warning for completion < prompt, got %v", res.Warnings)
	}
}

func TestValidate_CompletionBelowPromptDemotedWhenImagePricingPresent(t *testing.T) {
	res := Validate(dec("10"), dec("5"), Options{ModelSlug: "x/y", HasImagePricing: true})
	if !res.OK {
		t.Fatalf("expected completion < prompt to stay valid")
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("expected the completion<prompt warning demoted to debug when image pricing is present, got %v", res.Warnings)
	}
}

func TestValidate_DefaultPriceCapAppliesWhenUnset(t *testing.T) {
	res := Validate(dec("15000"), nil, Options{ModelSlug: "x/y"})
	if len(res.Warnings) != 1 {
		t.Fatalf("expected the default $10,000 cap to flag 15000, got %v", res.Warnings)
	}
}

func TestDetectChange_FlagsFieldsAboveThreshold(t *testing.T) {
	prev := ChangeInput{PromptUSDPerMillion: dec("10"), CompletionUSDPerMillion: dec("20")}
	cur := ChangeInput{PromptUSDPerMillion: dec("15"), CompletionUSDPerMillion: dec("20.5")}

	changes := DetectChange(prev, cur, decimal.NewFromInt(30), "x/y", "openai", "aggregator_api")
	if len(changes) != 1 || changes[0].Field != "prompt_usd_per_million" {
		t.Fatalf("expected only the 50%% prompt change to cross a 30%% threshold, got %+v", changes)
	}
}

func TestDetectChange_NoPriorSnapshotNeverFlags(t *testing.T) {
	prev := ChangeInput{}
	cur := ChangeInput{PromptUSDPerMillion: dec("15"), CompletionUSDPerMillion: dec("20.5")}

	changes := DetectChange(prev, cur, decimal.NewFromInt(30), "x/y", "openai", "aggregator_api")
	if len(changes) != 0 {
		t.Fatalf("expected no changes when there is no prior value to compare, got %+v", changes)
	}
}

func TestDetectChange_ZeroOldValueNeverFlags(t *testing.T) {
	prev := ChangeInput{PromptUSDPerMillion: dec("0")}
	cur := ChangeInput{PromptUSDPerMillion: dec("15")}

	changes := DetectChange(prev, cur, decimal.NewFromInt(30), "x/y", "openai", "aggregator_api")
	if len(changes) != 0 {
		t.Fatalf("expected division-by-zero-old to never flag a change, got %+v", changes)
	}
}

// DetectChange is pure comparison; provider/source_type scoping is the
// caller's responsibility (same source_type + provider only, spec.md §8's
// source isolation law). This asserts the comparison itself is scope-blind:
// whatever prev/cur pair the caller selects for a given (provider,
// source_type) is compared without any additional filtering inside
// DetectChange.
func TestDetectChange_ComparesExactlyTheGivenPair(t *testing.T) {
	prev := ChangeInput{PromptUSDPerMillion: dec("10")}
	cur := ChangeInput{PromptUSDPerMillion: dec("10")}

	changes := DetectChange(prev, cur, decimal.NewFromInt(30), "x/y", "anthropic", "provider_direct")
	if len(changes) != 0 {
		t.Fatalf("expected no change when prev and cur are identical, got %+v", changes)
	}
}
