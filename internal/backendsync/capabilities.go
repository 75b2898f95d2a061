package backendsync

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pricelens/ingestor/internal/models"
)

// Capabilities mirrors backend_sync.py's capability derivation from a
// model's supported_parameters tags, feeding the backend row's
// capabilities JSON column (named by spec.md, left unspecified there).
type Capabilities struct {
	SupportsTools     bool `json:"supports_tools"`
	SupportsVision    bool `json:"supports_vision"`
	SupportsReasoning bool `json:"supports_reasoning"`
	SupportsWebSearch bool `json:"supports_web_search"`
	SupportsAudio     bool `json:"supports_audio"`
	SupportsVideo     bool `json:"supports_video"`
	IsThinkingModel   bool `json:"is_thinking_model"`
}

// deriveCapabilities maps supported_parameters tags and architecture
// modalities to the capability flags backend_sync.py computes. Tool,
// reasoning, and web-search support come from supported_parameters tags;
// vision/audio/video come from the architecture's input/output modalities,
// since those are never named as supported_parameters tag values.
func deriveCapabilities(tags []string, inputModalities, outputModalities []string) Capabilities {
	var c Capabilities
	for _, t := range tags {
		switch t {
		case "tools", "tool_choice":
			c.SupportsTools = true
		case "reasoning", "include_reasoning":
			c.SupportsReasoning = true
			c.IsThinkingModel = true
		case "web_search", "web_search_options":
			c.SupportsWebSearch = true
		}
	}

	modalities := make([]string, 0, len(inputModalities)+len(outputModalities))
	modalities = append(modalities, inputModalities...)
	modalities = append(modalities, outputModalities...)
	for _, m := range modalities {
		switch m {
		case "image":
			c.SupportsVision = true
		case "audio":
			c.SupportsAudio = true
		case "video":
			c.SupportsVideo = true
		}
	}
	return c
}

// classifyModelType defaults to "chat"; a supported-parameter tag naming
// embeddings overrides it, per spec §4.7 step 1.
func classifyModelType(tags []string) string {
	for _, t := range tags {
		if t == "embeddings" || t == "embedding" {
			return "embedding"
		}
	}
	return "chat"
}

// classifyTier buckets a model by prompt price per spec §4.7 step 1:
// >= $1000/1M is premium, >= $200/1M is standard, else budget.
func classifyTier(promptUSDPerMillion *decimal.Decimal) string {
	if promptUSDPerMillion == nil {
		return "budget"
	}
	switch {
	case promptUSDPerMillion.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		return "premium"
	case promptUSDPerMillion.GreaterThanOrEqual(decimal.NewFromInt(200)):
		return "standard"
	default:
		return "budget"
	}
}

// seriesBySlugNamespace is the small hand-maintained slug-namespace to
// product-series table restored from backend_sync.py's _derive_series.
var seriesBySlugNamespace = map[string]string{
	"openai":     "GPT",
	"anthropic":  "Claude",
	"google":     "Gemini",
	"meta-llama": "Llama",
	"mistralai":  "Mistral",
	"deepseek":   "DeepSeek",
	"cohere":     "Command",
}

// Metadata carries the tier (classifyTier) and product series
// (seriesBySlugNamespace) for the backend row's metadata JSON column. It
// holds no description summary.
type Metadata struct {
	Tier   string `json:"tier"`
	Series string `json:"series,omitempty"`
}

func buildMetadata(modelSlug, tier string) Metadata {
	namespace, _, _ := strings.Cut(modelSlug, "/")
	return Metadata{Tier: tier, Series: seriesBySlugNamespace[namespace]}
}

// decodeSupportedParameters parses the JSON array stored on models.Model
// into a plain string slice; malformed or absent data yields an empty
// set rather than an error since it only affects capability derivation.
func decodeSupportedParameters(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil
	}
	return tags
}

// decodeArchitectureModalities pulls input_modalities/output_modalities out
// of a model's opaque architecture JSON blob.
func decodeArchitectureModalities(raw []byte) (input, output []string) {
	if len(raw) == 0 {
		return nil, nil
	}
	var arch struct {
		InputModalities  []string `json:"input_modalities"`
		OutputModalities []string `json:"output_modalities"`
	}
	if err := json.Unmarshal(raw, &arch); err != nil {
		return nil, nil
	}
	return arch.InputModalities, arch.OutputModalities
}

// isTextOnly reports whether modalities is exactly ["text"], the
// backend_sync.py text/text gate.
func isTextOnly(modalities []string) bool {
	return len(modalities) == 1 && modalities[0] == "text"
}

// finalizeSortAndDefaults restores backend_sync.py's finalize() ordering:
// within each model_type, sort by cost_per_million_input descending and
// assign sort_order = max(0, 100 - 5*index); exactly one default per
// model_type, forced to DEFAULT_CHAT_MODEL_ID / DEFAULT_EMBEDDING_MODEL_ID
// when configured, else the highest-cost row. These values only take
// effect on first insert (spec §4.7 step 2 preserves existing values).
func finalizeSortAndDefaults(staged map[string]*models.BackendModel, defaultChatSlug, defaultEmbeddingSlug string) {
	byType := make(map[string][]*models.BackendModel)
	for _, row := range staged {
		byType[row.ModelType] = append(byType[row.ModelType], row)
	}

	for modelType, rows := range byType {
		sort.Slice(rows, func(i, j int) bool {
			return costOrZero(rows[i]).GreaterThan(costOrZero(rows[j]))
		})
		for i, row := range rows {
			order := 100 - 5*i
			if order < 0 {
				order = 0
			}
			row.SortOrder = order
		}

		defaultSlug := defaultChatSlug
		if modelType == "embedding" {
			defaultSlug = defaultEmbeddingSlug
		}

		found := false
		if defaultSlug != "" {
			for _, row := range rows {
				if row.ModelSlug == defaultSlug {
					row.IsDefault = true
					found = true
				}
			}
		}
		if !found && len(rows) > 0 {
			rows[0].IsDefault = true
		}
	}
}

func costOrZero(row *models.BackendModel) decimal.Decimal {
	if !row.CostPerMillionInput.Valid {
		return decimal.Zero
	}
	return row.CostPerMillionInput.Decimal
}
