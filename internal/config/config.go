package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// defaultTrustedDomains mirrors the provider documentation and aggregator
// domains the generic web adapter is permitted to extract prices from.
var defaultTrustedDomains = []string{
	"openai.com", "anthropic.com", "cohere.com", "ai.google.dev",
	"docs.mistral.ai", "mistral.ai", "groq.com", "together.ai",
	"fireworks.ai", "deepinfra.com", "replicate.com", "perplexity.ai",
	"openrouter.ai", "huggingface.co", "meta.com", "deepseek.com",
	"google.com", "microsoft.com", "azure.microsoft.com", "aws.amazon.com",
}

// Config holds every environment-derived setting the pipeline needs.
type Config struct {
	AggregatorURL string `env:"AGGREGATOR_URL"`
	AggregatorKey string `env:"AGGREGATOR_KEY"`

	AggregatorModelsPath      string `env:"AGGREGATOR_MODELS_PATH" envDefault:"/api/v1/models"`
	AggregatorProvidersPath   string `env:"AGGREGATOR_PROVIDERS_PATH" envDefault:"/api/v1/providers"`
	AggregatorCompletionsPath string `env:"AGGREGATOR_COMPLETIONS_PATH" envDefault:"/api/v1/chat/completions"`

	PricingStoreURL string `env:"PRICING_STORE_URL"`
	PricingStoreKey string `env:"PRICING_STORE_KEY"`
	BackendStoreURL string `env:"BACKEND_STORE_URL"`
	BackendStoreKey string `env:"BACKEND_STORE_KEY"`

	WebSearchKey           string `env:"WEB_SEARCH_KEY"`
	EnableProviderScraping bool   `env:"ENABLE_PROVIDER_SCRAPING" envDefault:"false"`

	RunIntervalHours int  `env:"RUN_INTERVAL_HOURS" envDefault:"24"`
	RunOnStartup     bool `env:"RUN_ON_STARTUP" envDefault:"true"`

	MaxParallelModels           int     `env:"MAX_PARALLEL_MODELS" envDefault:"10"`
	PriceChangeThresholdPercent float64 `env:"PRICE_CHANGE_THRESHOLD_PERCENT" envDefault:"30"`
	RequestTimeoutSeconds       int     `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
	BackendFreshnessWindowDays  int     `env:"BACKEND_FRESHNESS_WINDOW_DAYS" envDefault:"7"`
	ByokSpotCheckSampleSize     int     `env:"BYOK_SPOT_CHECK_SAMPLE_SIZE" envDefault:"5"`

	ModelFilterSupportedParameters []string `env:"MODEL_FILTER_SUPPORTED_PARAMETERS" envSeparator:","`
	ModelFilterDistillable         *bool    `env:"MODEL_FILTER_DISTILLABLE"`
	ModelFilterInputModalities     []string `env:"MODEL_FILTER_INPUT_MODALITIES" envSeparator:","`
	ModelFilterOutputModalities    []string `env:"MODEL_FILTER_OUTPUT_MODALITIES" envSeparator:","`

	DefaultEmbeddingModelID string `env:"DEFAULT_EMBEDDING_MODEL_ID"`
	DefaultChatModelID      string `env:"DEFAULT_CHAT_MODEL_ID"`

	LogLevel              string   `env:"LOG_LEVEL" envDefault:"info"`
	TrustedPricingDomains []string `env:"TRUSTED_PRICING_DOMAINS" envSeparator:","`
	ProtectedModelSlugs   []string `env:"PROTECTED_MODEL_SLUGS" envSeparator:"," envDefault:"openai/text-embedding-3-large"`
	MaxPricePerMillion    string   `env:"MAX_PRICE_PER_MILLION" envDefault:"10000"`
}

// Load reads an optional .env file and then parses process environment
// variables into a Config, applying defaults for anything unset.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if len(cfg.TrustedPricingDomains) == 0 {
		cfg.TrustedPricingDomains = defaultTrustedDomains
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if strings.TrimSpace(c.AggregatorURL) == "" {
		missing = append(missing, "AGGREGATOR_URL")
	}
	if strings.TrimSpace(c.AggregatorKey) == "" {
		missing = append(missing, "AGGREGATOR_KEY")
	}
	if strings.TrimSpace(c.PricingStoreURL) == "" {
		missing = append(missing, "PRICING_STORE_URL")
	}
	if strings.TrimSpace(c.PricingStoreKey) == "" {
		missing = append(missing, "PRICING_STORE_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ProtectedModelRow is a hardcoded backend-projection row for a protected
// slug absent from the staged candidate set (spec.md §4.7 step 4, §8
// scenario 6). Values are vendor-published list prices, not derived from
// any live source.
type ProtectedModelRow struct {
	DisplayName          string
	Provider             string
	ModelType            string
	CostPerMillionInput  string
	CostPerMillionOutput string
}

// ProtectionMap returns the hardcoded protection-map row for every
// protected slug. Consulted only when a protected slug is absent from the
// backend-projection staging step.
func (c *Config) ProtectionMap() map[string]ProtectedModelRow {
	return map[string]ProtectedModelRow{
		"openai/text-embedding-3-large": {
			DisplayName:          "text-embedding-3-large",
			Provider:             "openai",
			ModelType:            "embedding",
			CostPerMillionInput:  "0.13",
			CostPerMillionOutput: "0.065",
		},
	}
}

// BackendSyncEnabled reports whether the backend-projection store has
// credentials configured.
func (c *Config) BackendSyncEnabled() bool {
	return strings.TrimSpace(c.BackendStoreURL) != "" && strings.TrimSpace(c.BackendStoreKey) != ""
}
