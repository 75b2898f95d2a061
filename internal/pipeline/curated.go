package pipeline

import "github.com/shopspring/decimal"

// CuratedPrice is a small hand-maintained fallback price applied after
// normalisation and before validation, for the handful of models the
// original source curates by hand because the aggregator under-reports
// or omits their pricing entirely.
type CuratedPrice struct {
	PromptUSDPerMillion     *decimal.Decimal
	CompletionUSDPerMillion *decimal.Decimal
	RequestUSD              *decimal.Decimal
}

// defaultCuratedOverrides mirrors the original source's hand-curated
// pricing table. text-embedding-3-large is the protected-set model: OpenAI
// publishes $0.13/1M for it but many aggregator feeds list it with no
// completion price and sometimes omit prompt pricing too.
func defaultCuratedOverrides() map[string]CuratedPrice {
	prompt := decimal.NewFromFloat(0.13)
	return map[string]CuratedPrice{
		"openai/text-embedding-3-large": {
			PromptUSDPerMillion: &prompt,
		},
	}
}
