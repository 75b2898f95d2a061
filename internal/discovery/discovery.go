// Package discovery diffs the aggregator's remote catalogue against the
// stored catalogue and derives provider metadata the aggregator omits.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pricelens/ingestor/internal/aggregator"
	"github.com/pricelens/ingestor/internal/models"
)

// wellKnownPricingURLs maps a provider slug to its published pricing page
// when the pattern `{homepage}/pricing` does not hold.
var wellKnownPricingURLs = map[string]string{
	"openai":    "https://openai.com/api/pricing",
	"anthropic": "https://www.anthropic.com/pricing",
	"google":    "https://ai.google.dev/pricing",
	"azure":     "https://azure.microsoft.com/en-us/pricing/details/cognitive-services/openai-service/",
}

// Discoverer refreshes the provider and model catalogue from the
// aggregator and reports the set of newly-seen model slugs.
type Discoverer struct {
	db     *gorm.DB
	client *aggregator.Client
}

// NewDiscoverer constructs a Discoverer.
func NewDiscoverer(db *gorm.DB, client *aggregator.Client) *Discoverer {
	return &Discoverer{db: db, client: client}
}

// SyncProviders upserts every provider the aggregator reports, deriving
// homepage_url and pricing_url when the aggregator leaves them blank.
func (d *Discoverer) SyncProviders(ctx context.Context) (int, error) {
	providers, err := d.client.ListProviders(ctx)
	if err != nil {
		return 0, fmt.Errorf("discovery: list providers: %w", err)
	}

	rows := make([]models.Provider, 0, len(providers))
	for _, p := range providers {
		row := models.Provider{
			Slug:        p.Slug,
			DisplayName: nonEmpty(p.Name, p.Slug),
		}
		if homepage := deriveHomepage(p); homepage != "" {
			row.HomepageURL = &homepage
		}
		if pricing := derivePricingURL(p.Slug, row.HomepageURL); pricing != "" {
			row.PricingURL = &pricing
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "homepage_url", "pricing_url", "updated_at"}),
	}).Create(&rows).Error; err != nil {
		return 0, fmt.Errorf("discovery: upsert providers: %w", err)
	}
	return len(rows), nil
}

// deriveHomepage parses the scheme+host of the first non-empty of
// privacy_policy_url, terms_of_service_url, status_page_url.
func deriveHomepage(p aggregator.Provider) string {
	if p.HomepageURL != "" {
		return p.HomepageURL
	}
	for _, candidate := range []string{p.PrivacyPolicyURL, p.TermsOfServiceURL, p.StatusPageURL} {
		if strings.TrimSpace(candidate) == "" {
			continue
		}
		u, err := url.Parse(candidate)
		if err != nil || u.Scheme == "" || u.Host == "" {
			continue
		}
		return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}
	return ""
}

func derivePricingURL(slug string, homepage *string) string {
	if known, ok := wellKnownPricingURLs[slug]; ok {
		return known
	}
	if homepage != nil && *homepage != "" {
		return strings.TrimRight(*homepage, "/") + "/pricing"
	}
	return ""
}

// SyncModels upserts every model the aggregator reports, links it to its
// top provider when derivable, and returns the set of slugs newly seen
// (not previously present in the stored catalogue).
func (d *Discoverer) SyncModels(ctx context.Context, filters aggregator.Filters) ([]aggregator.Model, []string, error) {
	remote, err := d.client.ListModels(ctx, filters)
	if err != nil {
		return nil, nil, fmt.Errorf("discovery: list models: %w", err)
	}

	var existingSlugs []string
	if err := d.db.WithContext(ctx).Model(&models.Model{}).Pluck("slug", &existingSlugs).Error; err != nil {
		return nil, nil, fmt.Errorf("discovery: load existing slugs: %w", err)
	}
	existing := make(map[string]struct{}, len(existingSlugs))
	for _, s := range existingSlugs {
		existing[s] = struct{}{}
	}

	var newSlugs []string
	rows := make([]models.Model, 0, len(remote))
	for _, m := range remote {
		if _, ok := existing[m.Slug]; !ok {
			newSlugs = append(newSlugs, m.Slug)
		}
		row := models.Model{
			Slug:        m.Slug,
			DisplayName: nonEmpty(m.Name, m.Slug),
		}
		if m.CanonicalSlug != "" {
			row.CanonicalSlug = &m.CanonicalSlug
		}
		row.ContextLength = m.ContextLength
		if arch, err := json.Marshal(m.Architecture); err == nil {
			row.Architecture = datatypes.JSON(arch)
		}
		if params, err := json.Marshal(m.SupportedParameters); err == nil {
			row.SupportedParameters = datatypes.JSON(params)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return remote, newSlugs, nil
	}

	if err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"canonical_slug", "display_name", "context_length",
			"architecture", "supported_parameters", "updated_at",
		}),
	}).Create(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("discovery: upsert models: %w", err)
	}

	if err := d.linkModelsToProviders(ctx, remote); err != nil {
		return nil, nil, err
	}

	return remote, newSlugs, nil
}

// linkModelsToProviders computes a (model, provider) link when a model's
// slug carries a namespace/ prefix matching a known provider slug and a
// provider with that slug exists.
func (d *Discoverer) linkModelsToProviders(ctx context.Context, remote []aggregator.Model) error {
	var providers []models.Provider
	if err := d.db.WithContext(ctx).Find(&providers).Error; err != nil {
		return fmt.Errorf("discovery: load providers for linking: %w", err)
	}
	providerBySlug := make(map[string]models.Provider, len(providers))
	for _, p := range providers {
		providerBySlug[p.Slug] = p
	}

	var storedModels []models.Model
	if err := d.db.WithContext(ctx).Find(&storedModels).Error; err != nil {
		return fmt.Errorf("discovery: load models for linking: %w", err)
	}
	modelBySlug := make(map[string]models.Model, len(storedModels))
	for _, m := range storedModels {
		modelBySlug[m.Slug] = m
	}

	var links []models.ModelProviderLink
	for _, m := range remote {
		model, ok := modelBySlug[m.Slug]
		if !ok {
			continue
		}
		namespace, _, found := strings.Cut(m.Slug, "/")
		if !found {
			continue
		}
		provider, ok := providerBySlug[namespace]
		if !ok {
			continue
		}
		isTop := m.TopProvider != nil && m.TopProvider.Slug == namespace
		links = append(links, models.ModelProviderLink{
			ModelID:       model.ID,
			ProviderID:    provider.ID,
			IsTopProvider: isTop,
		})
	}
	if len(links) == 0 {
		return nil
	}

	if err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "model_id"}, {Name: "provider_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_top_provider"}),
	}).Create(&links).Error; err != nil {
		return fmt.Errorf("discovery: upsert model-provider links: %w", err)
	}
	return nil
}

func nonEmpty(primary, fallback string) string {
	if strings.TrimSpace(primary) != "" {
		return primary
	}
	return fallback
}

