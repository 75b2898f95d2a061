// Package repository implements the same-day idempotent snapshot upsert
// protocol and the catalogue reads the pricing pipeline depends on.
package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/pricelens/ingestor/internal/models"
)

// Repository wraps the pricing-store connection. It is shared read-mostly
// across the per-model worker pool; its only mutable state is the
// underlying connection pool.
type Repository struct {
	db *gorm.DB
}

// New constructs a Repository over an already-migrated connection.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// UpsertSnapshot deletes any existing row for the full key
// (model, provider|NULL, snapshot_date, source_type) — using an IS NULL
// predicate when provider is absent, never equality — then inserts the
// new row. This is the single logical operation behind "each run
// overwrites the same day's rows; different days accumulate immutable
// history."
func (r *Repository) UpsertSnapshot(ctx context.Context, snapshot models.PricingSnapshot) error {
	day := snapshot.SnapshotDate.Truncate(24 * time.Hour)
	snapshot.SnapshotDate = day

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("model_id = ? AND snapshot_date = ? AND source_type = ?", snapshot.ModelID, day, snapshot.SourceType)
		if snapshot.ProviderID == nil {
			q = q.Where("provider_id IS NULL")
		} else {
			q = q.Where("provider_id = ?", *snapshot.ProviderID)
		}
		if err := q.Delete(&models.PricingSnapshot{}).Error; err != nil {
			return fmt.Errorf("repository: delete prior snapshot: %w", err)
		}
		if err := tx.Create(&snapshot).Error; err != nil {
			return fmt.Errorf("repository: insert snapshot: %w", err)
		}
		return nil
	})
}

// LatestSnapshot returns the most recent snapshot for (model, provider,
// source_type), or nil if none exists. "Latest pricing" lookups are
// always scoped to a single source_type; snapshots from different source
// types are never compared.
func (r *Repository) LatestSnapshot(ctx context.Context, modelID uint64, providerID *uint64, sourceType string) (*models.PricingSnapshot, error) {
	q := r.db.WithContext(ctx).
		Where("model_id = ? AND source_type = ?", modelID, sourceType)
	if providerID == nil {
		q = q.Where("provider_id IS NULL")
	} else {
		q = q.Where("provider_id = ?", *providerID)
	}

	var row models.PricingSnapshot
	err := q.Order("snapshot_date DESC, collected_at DESC").First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: latest snapshot: %w", err)
	}
	return &row, nil
}

// InsertBYOKVerification inserts an audit row; these are never mutated.
func (r *Repository) InsertBYOKVerification(ctx context.Context, v models.BYOKVerification) error {
	if err := r.db.WithContext(ctx).Create(&v).Error; err != nil {
		return fmt.Errorf("repository: insert byok verification: %w", err)
	}
	return nil
}

// AllModelSlugs returns every stored model slug.
func (r *Repository) AllModelSlugs(ctx context.Context) ([]string, error) {
	var slugs []string
	if err := r.db.WithContext(ctx).Model(&models.Model{}).Pluck("slug", &slugs).Error; err != nil {
		return nil, fmt.Errorf("repository: all model slugs: %w", err)
	}
	return slugs, nil
}

// ModelBySlug loads one model row.
func (r *Repository) ModelBySlug(ctx context.Context, slug string) (*models.Model, error) {
	var m models.Model
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&m).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: model by slug: %w", err)
	}
	return &m, nil
}

// LinkedProviders returns every provider linked to a model.
func (r *Repository) LinkedProviders(ctx context.Context, modelID uint64) ([]ProviderLink, error) {
	var rows []ProviderLink
	err := r.db.WithContext(ctx).
		Table("model_provider_links").
		Select("model_provider_links.provider_id, providers.slug, model_provider_links.is_top_provider").
		Joins("JOIN providers ON providers.id = model_provider_links.provider_id").
		Where("model_provider_links.model_id = ?", modelID).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("repository: linked providers: %w", err)
	}
	return rows, nil
}

// ProviderLink is a denormalised (provider_id, slug, is_top_provider) row
// for a model's linked providers.
type ProviderLink struct {
	ProviderID    uint64 `gorm:"column:provider_id"`
	Slug          string `gorm:"column:slug"`
	IsTopProvider bool   `gorm:"column:is_top_provider"`
}

// RecentSnapshotsForBackendStaging returns every aggregator_api snapshot
// within the freshness window, joined with model and top-provider data,
// for the backend-projection staging step.
func (r *Repository) RecentSnapshotsForBackendStaging(ctx context.Context, since time.Time) ([]StagingRow, error) {
	var rows []StagingRow
	err := r.db.WithContext(ctx).
		Table("pricing_snapshots").
		Select(`
			pricing_snapshots.model_id,
			models.slug AS model_slug,
			models.display_name,
			models.context_length,
			models.architecture,
			models.supported_parameters,
			pricing_snapshots.prompt_usd_per_million,
			pricing_snapshots.completion_usd_per_million,
			pricing_snapshots.snapshot_date,
			top_link.provider_id AS top_provider_id,
			top_provider.slug AS top_provider_slug
		`).
		Joins("JOIN models ON models.id = pricing_snapshots.model_id").
		Joins("LEFT JOIN model_provider_links top_link ON top_link.model_id = models.id AND top_link.is_top_provider = true").
		Joins("LEFT JOIN providers top_provider ON top_provider.id = top_link.provider_id").
		Where("pricing_snapshots.source_type = ? AND pricing_snapshots.provider_id IS NULL AND pricing_snapshots.snapshot_date >= ?", "aggregator_api", since.Truncate(24*time.Hour)).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("repository: recent snapshots for staging: %w", err)
	}
	return rows, nil
}

// StagingRow is one candidate row for the backend-projection sync, joined
// from the pricing store's model/snapshot/provider-link tables.
type StagingRow struct {
	ModelID                 uint64
	ModelSlug               string  `gorm:"column:model_slug"`
	DisplayName             string  `gorm:"column:display_name"`
	ContextLength           *int    `gorm:"column:context_length"`
	Architecture            []byte  `gorm:"column:architecture"`
	SupportedParameters     []byte  `gorm:"column:supported_parameters"`
	PromptUSDPerMillion     *string `gorm:"column:prompt_usd_per_million"`
	CompletionUSDPerMillion *string `gorm:"column:completion_usd_per_million"`
	SnapshotDate            time.Time
	TopProviderID           *uint64 `gorm:"column:top_provider_id"`
	TopProviderSlug         *string `gorm:"column:top_provider_slug"`
}
