// Package pipeline sequences the per-model pricing resolution algorithm:
// aggregator pricing, optional provider adapters, optional generic web
// fallback, same-day idempotent persistence, and post-loop BYOK
// spot-checks.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/pricelens/ingestor/internal/aggregator"
	"github.com/pricelens/ingestor/internal/config"
	"github.com/pricelens/ingestor/internal/discovery"
	"github.com/pricelens/ingestor/internal/events"
	"github.com/pricelens/ingestor/internal/models"
	"github.com/pricelens/ingestor/internal/normalize"
	"github.com/pricelens/ingestor/internal/provideradapter"
	"github.com/pricelens/ingestor/internal/repository"
	"github.com/pricelens/ingestor/internal/validate"
)

// Source type labels for pricing_snapshots.source_type.
const (
	sourceTypeAggregator   = "aggregator_api"
	sourceTypeProviderSite = "provider_site"
	sourceTypeWebFallback  = "web_fallback"
)

// Pipeline is the pricing resolution orchestrator (spec.md §4.6). It is
// constructed once per process; the repository, aggregator client, and
// adapter registry it wraps are all safe for concurrent use by the
// bounded worker pool it drives.
type Pipeline struct {
	repo       *repository.Repository
	aggClient  *aggregator.Client
	discoverer *discovery.Discoverer
	registry   *provideradapter.Registry
	cfg        *config.Config

	maxPricePerMillion decimal.Decimal
	curatedOverrides   map[string]CuratedPrice
	now                func() time.Time
}

// New constructs a Pipeline over an already-migrated pricing-store
// connection.
func New(db *gorm.DB, aggClient *aggregator.Client, registry *provideradapter.Registry, cfg *config.Config) *Pipeline {
	priceCap, err := decimal.NewFromString(cfg.MaxPricePerMillion)
	if err != nil {
		priceCap = decimal.NewFromInt(10000)
	}
	return &Pipeline{
		repo:               repository.New(db),
		aggClient:          aggClient,
		discoverer:         discovery.NewDiscoverer(db, aggClient),
		registry:           registry,
		cfg:                cfg,
		maxPricePerMillion: priceCap,
		curatedOverrides:   defaultCuratedOverrides(),
		now:                time.Now,
	}
}

// Run executes one full tick of the pricing pipeline: discovery, bounded
// per-model resolution, and BYOK spot-checks. Per-model failures are
// isolated and logged; Run itself only fails when discovery (a
// precondition for everything downstream) fails outright.
func (p *Pipeline) Run(ctx context.Context) error {
	if _, err := p.discoverer.SyncProviders(ctx); err != nil {
		return fmt.Errorf("pipeline: sync providers: %w", err)
	}

	filters := aggregator.Filters{
		SupportedParameters: p.cfg.ModelFilterSupportedParameters,
		Distillable:         p.cfg.ModelFilterDistillable,
		InputModalities:     p.cfg.ModelFilterInputModalities,
		OutputModalities:    p.cfg.ModelFilterOutputModalities,
	}
	remote, _, err := p.discoverer.SyncModels(ctx, filters)
	if err != nil {
		return fmt.Errorf("pipeline: sync models: %w", err)
	}

	limit := p.cfg.MaxParallelModels
	if limit <= 0 {
		limit = 10
	}
	group := new(errgroup.Group)
	group.SetLimit(limit)

	for _, m := range remote {
		m := m
		group.Go(func() error {
			p.resolveModel(ctx, m)
			// Per-model failures never abort the group; the error
			// return here only bounds concurrency, it never triggers
			// errgroup's fail-fast cancellation.
			return nil
		})
	}
	_ = group.Wait()

	p.byokSpotCheck(ctx, remote)
	return nil
}

// resolveModel runs the resolution algorithm in precedence order for one
// model: aggregator pricing is always attempted; provider adapters run
// only when scraping is enabled; the generic web fallback runs only when
// neither prior step produced a writable snapshot.
func (p *Pipeline) resolveModel(ctx context.Context, m aggregator.Model) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"model": m.Slug}).Errorf("pipeline: recovered panic: %v", r)
		}
	}()

	modelRow, err := p.repo.ModelBySlug(ctx, m.Slug)
	if err != nil || modelRow == nil {
		log.WithFields(log.Fields{"model": m.Slug}).WithError(err).Warn(events.ModelNotInCatalogue)
		return
	}

	day := p.now().UTC().Truncate(24 * time.Hour)
	hasImage := hasImagePricing(m.Pricing)

	wroteAny := p.resolveAggregatorPricing(ctx, m, *modelRow, day, hasImage)

	if p.cfg.EnableProviderScraping {
		if p.resolveProviderAdapters(ctx, m, *modelRow, day, hasImage) {
			wroteAny = true
		}
	}

	if !wroteAny {
		p.resolveWebFallback(ctx, m, *modelRow, day, hasImage)
	}
}

// resolveAggregatorPricing extracts and writes the aggregator_api
// snapshot. Any of prompt, completion, or request that the aggregator
// leaves nil (absent, unparseable, or sentinel) is filled from the
// curated-override table (restored from original_source, §4.6 of
// SPEC_FULL.md) when that table has an entry for the model, so listed
// models the aggregator under-reports still get priced.
func (p *Pipeline) resolveAggregatorPricing(ctx context.Context, m aggregator.Model, model models.Model, day time.Time, hasImage bool) bool {
	prompt := normalize.ToPerMillion(m.Pricing["prompt"], m.Slug)
	completion := normalize.ToPerMillion(m.Pricing["completion"], m.Slug)
	request := normalize.Passthrough(m.Pricing["request"])
	image := normalize.Passthrough(m.Pricing["image"])
	webSearch := normalize.Passthrough(m.Pricing["web_search"])
	reasoning := normalize.ToPerMillion(m.Pricing["internal_reasoning"], m.Slug)
	cacheRead := normalize.ToPerMillion(m.Pricing["input_cache_read"], m.Slug)
	cacheWrite := normalize.ToPerMillion(m.Pricing["input_cache_write"], m.Slug)

	if override, ok := p.curatedOverrides[m.Slug]; ok {
		if prompt == nil {
			prompt = override.PromptUSDPerMillion
		}
		if completion == nil {
			completion = override.CompletionUSDPerMillion
		}
		if request == nil {
			request = override.RequestUSD
		}
	}

	if prompt == nil && completion == nil {
		log.WithFields(log.Fields{"model": m.Slug, "source_type": sourceTypeAggregator}).Debug("aggregator pricing absent, skipping snapshot")
		return false
	}

	res := validate.Validate(prompt, completion, validate.Options{
		ModelSlug:          m.Slug,
		HasImagePricing:    hasImage,
		MaxPricePerMillion: p.maxPricePerMillion,
	})
	if !res.OK {
		return false
	}

	p.detectAndLogChange(ctx, model.ID, nil, sourceTypeAggregator, m.Slug, "", prompt, completion)

	snapshot := models.PricingSnapshot{
		ModelID:                        model.ID,
		SnapshotDate:                   day,
		SourceType:                     sourceTypeAggregator,
		PromptUSDPerMillion:            decimalPtrToNull(prompt),
		CompletionUSDPerMillion:        decimalPtrToNull(completion),
		RequestUSD:                     decimalPtrToNull(request),
		ImageUSD:                       decimalPtrToNull(image),
		WebSearchUSD:                   decimalPtrToNull(webSearch),
		InternalReasoningUSDPerMillion: decimalPtrToNull(reasoning),
		InputCacheReadUSDPerMillion:    decimalPtrToNull(cacheRead),
		InputCacheWriteUSDPerMillion:   decimalPtrToNull(cacheWrite),
		Currency:                       "USD",
		CollectedAt:                    p.now(),
	}
	if err := p.repo.UpsertSnapshot(ctx, snapshot); err != nil {
		log.WithFields(log.Fields{"model": m.Slug, "source_type": sourceTypeAggregator}).WithError(err).Error(events.ModelPricingFailed)
		return false
	}
	return true
}

// resolveProviderAdapters calls the registered adapter for every provider
// linked to this model, merging multi-tier results via ChooseMaxPricing
// inside the adapter itself, and writes one row per provider that
// validates.
func (p *Pipeline) resolveProviderAdapters(ctx context.Context, m aggregator.Model, model models.Model, day time.Time, hasImage bool) bool {
	links, err := p.repo.LinkedProviders(ctx, model.ID)
	if err != nil || len(links) == 0 {
		return false
	}

	modelName := modelNameFromSlug(m.Slug)
	wrote := false
	for _, link := range links {
		result, err := p.registry.Get(link.Slug).Resolve(ctx, modelName, m.Slug)
		if err != nil {
			log.WithFields(log.Fields{"model": m.Slug, "provider": link.Slug}).WithError(err).Warn(events.ProviderPricingCollectionFailed)
			continue
		}
		if result == nil {
			continue
		}

		res := validate.Validate(result.PromptUSDPerMillion, result.CompletionUSDPerMillion, validate.Options{
			ModelSlug:          m.Slug,
			HasImagePricing:    hasImage,
			MaxPricePerMillion: p.maxPricePerMillion,
		})
		if !res.OK {
			continue
		}

		providerID := link.ProviderID
		p.detectAndLogChange(ctx, model.ID, &providerID, sourceTypeProviderSite, m.Slug, link.Slug, result.PromptUSDPerMillion, result.CompletionUSDPerMillion)

		snapshot := models.PricingSnapshot{
			ModelID:                 model.ID,
			ProviderID:              &providerID,
			SnapshotDate:            day,
			SourceType:              sourceTypeProviderSite,
			SourceURL:               nonEmptyPtr(result.SourceURL),
			PromptUSDPerMillion:     decimalPtrToNull(result.PromptUSDPerMillion),
			CompletionUSDPerMillion: decimalPtrToNull(result.CompletionUSDPerMillion),
			RequestUSD:              decimalPtrToNull(result.RequestUSD),
			ImageUSD:                decimalPtrToNull(result.ImageUSD),
			Currency:                "USD",
			CollectedAt:             p.now(),
			Notes:                   nonEmptyPtr(result.Notes),
		}
		if err := p.repo.UpsertSnapshot(ctx, snapshot); err != nil {
			log.WithFields(log.Fields{"model": m.Slug, "provider": link.Slug}).WithError(err).Error(events.ModelPricingFailed)
			continue
		}
		wrote = true
	}
	return wrote
}

// resolveWebFallback runs only when aggregator pricing and (if enabled)
// every provider adapter failed to produce a writable snapshot.
func (p *Pipeline) resolveWebFallback(ctx context.Context, m aggregator.Model, model models.Model, day time.Time, hasImage bool) {
	modelName := modelNameFromSlug(m.Slug)
	result, err := p.registry.Generic().Resolve(ctx, modelName, m.Slug)
	if err != nil {
		log.WithFields(log.Fields{"model": m.Slug}).WithError(err).Warn(events.ProviderPricingCollectionFailed)
		return
	}
	if result == nil {
		return
	}

	res := validate.Validate(result.PromptUSDPerMillion, result.CompletionUSDPerMillion, validate.Options{
		ModelSlug:          m.Slug,
		HasImagePricing:    hasImage,
		MaxPricePerMillion: p.maxPricePerMillion,
	})
	if !res.OK {
		return
	}

	p.detectAndLogChange(ctx, model.ID, nil, sourceTypeWebFallback, m.Slug, "", result.PromptUSDPerMillion, result.CompletionUSDPerMillion)

	snapshot := models.PricingSnapshot{
		ModelID:                 model.ID,
		SnapshotDate:            day,
		SourceType:              sourceTypeWebFallback,
		SourceURL:               nonEmptyPtr(result.SourceURL),
		PromptUSDPerMillion:     decimalPtrToNull(result.PromptUSDPerMillion),
		CompletionUSDPerMillion: decimalPtrToNull(result.CompletionUSDPerMillion),
		Currency:                "USD",
		CollectedAt:             p.now(),
		Notes:                   nonEmptyPtr(result.Notes),
	}
	if err := p.repo.UpsertSnapshot(ctx, snapshot); err != nil {
		log.WithFields(log.Fields{"model": m.Slug}).WithError(err).Error(events.ModelPricingFailed)
	}
}

// detectAndLogChange must run before the same-day upsert replaces the
// row for today's key, so the new values are compared against the most
// recent row already stored for the same (model, provider, source_type)
// — an earlier run today, or else the latest earlier day — rather than
// against the row just written (source isolation, spec §8).
func (p *Pipeline) detectAndLogChange(ctx context.Context, modelID uint64, providerID *uint64, sourceType, modelSlug, providerSlug string, prompt, completion *decimal.Decimal) {
	prev, err := p.repo.LatestSnapshot(ctx, modelID, providerID, sourceType)
	if err != nil || prev == nil {
		return
	}
	prevInput := validate.ChangeInput{
		PromptUSDPerMillion:     nullToPtr(prev.PromptUSDPerMillion),
		CompletionUSDPerMillion: nullToPtr(prev.CompletionUSDPerMillion),
	}
	cur := validate.ChangeInput{PromptUSDPerMillion: prompt, CompletionUSDPerMillion: completion}
	threshold := decimal.NewFromFloat(p.cfg.PriceChangeThresholdPercent)
	validate.DetectChange(prevInput, cur, threshold, modelSlug, providerSlug, sourceType)
}

// byokSpotCheck samples a handful of non-free, non-sentinel models from
// the filtered catalogue and records a real tiny completion call against
// each, reconciling aggregator-reported cost with upstream cost.
func (p *Pipeline) byokSpotCheck(ctx context.Context, remote []aggregator.Model) {
	sampleSize := p.cfg.ByokSpotCheckSampleSize
	if sampleSize <= 0 {
		sampleSize = 5
	}

	eligible := make([]aggregator.Model, 0, len(remote))
	for _, m := range remote {
		if isFreeOrSentinel(m.Pricing) {
			log.WithFields(log.Fields{"model": m.Slug}).Debug(events.SkippingByokForFreeOrUnavailableModel)
			continue
		}
		eligible = append(eligible, m)
	}
	if len(eligible) == 0 {
		return
	}

	rand.Shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })
	if len(eligible) > sampleSize {
		eligible = eligible[:sampleSize]
	}

	for _, m := range eligible {
		modelRow, err := p.repo.ModelBySlug(ctx, m.Slug)
		if err != nil || modelRow == nil {
			continue
		}

		report, err := p.aggClient.TinyBYOKCall(ctx, m.Slug)
		verification := models.BYOKVerification{
			ModelID:          modelRow.ID,
			PromptTokens:     report.PromptTokens,
			CompletionTokens: report.CompletionTokens,
			OK:               err == nil && report.OK,
		}
		if report.ResponseMS > 0 {
			ms := report.ResponseMS
			verification.ResponseMS = &ms
		}
		if report.AggregatorCostUSD != nil {
			if d, ok := normalize.ToDecimal(*report.AggregatorCostUSD); ok {
				verification.AggregatorCostUSD = decimal.NullDecimal{Decimal: d, Valid: true}
			}
		}
		if report.UpstreamCostUSD != nil {
			if d, ok := normalize.ToDecimal(*report.UpstreamCostUSD); ok {
				verification.UpstreamCostUSD = decimal.NullDecimal{Decimal: d, Valid: true}
			}
		}
		if report.Raw != nil {
			if raw, errMarshal := json.Marshal(report.Raw); errMarshal == nil {
				verification.RawUsage = raw
			}
		}

		if errIns := p.repo.InsertBYOKVerification(ctx, verification); errIns != nil {
			log.WithFields(log.Fields{"model": m.Slug}).WithError(errIns).Warn("pipeline: insert byok verification failed")
		}
	}
}

func hasImagePricing(pricing map[string]any) bool {
	raw, ok := pricing["image"]
	if !ok || raw == nil {
		return false
	}
	d, ok := normalize.ToDecimal(raw)
	return ok && d.IsPositive()
}

// isFreeOrSentinel reports whether a model's pricing is free ($0 or
// absent on both input and output), carries a sentinel (negative) value
// on either side, or has neither side parseable — in each case it is not
// worth the cost of a real BYOK call.
func isFreeOrSentinel(pricing map[string]any) bool {
	promptDec, okPrompt := normalize.ToDecimal(pricing["prompt"])
	completionDec, okCompletion := normalize.ToDecimal(pricing["completion"])
	if !okPrompt && !okCompletion {
		return true
	}
	if okPrompt && promptDec.IsNegative() {
		return true
	}
	if okCompletion && completionDec.IsNegative() {
		return true
	}
	promptFree := !okPrompt || promptDec.IsZero()
	completionFree := !okCompletion || completionDec.IsZero()
	return promptFree && completionFree
}

func modelNameFromSlug(slug string) string {
	if _, name, found := strings.Cut(slug, "/"); found {
		return name
	}
	return slug
}

func decimalPtrToNull(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullToPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
