// Package backendsync maintains the denormalised "current active models"
// projection a downstream application reads directly (spec.md §4.7).
package backendsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pricelens/ingestor/internal/config"
	"github.com/pricelens/ingestor/internal/events"
	"github.com/pricelens/ingestor/internal/models"
	"github.com/pricelens/ingestor/internal/repository"
)

// Syncer stages priced models from the pricing store and projects them
// into the backend store's denormalised models table.
type Syncer struct {
	repo      *repository.Repository
	backendDB *gorm.DB
	cfg       *config.Config
	now       func() time.Time
}

// New constructs a Syncer over an already-migrated pricing-store
// connection and backend-store connection.
func New(pricingDB, backendDB *gorm.DB, cfg *config.Config) *Syncer {
	return &Syncer{
		repo:      repository.New(pricingDB),
		backendDB: backendDB,
		cfg:       cfg,
		now:       time.Now,
	}
}

// MissingFromBackend returns pricing_slugs_recent \ backend_slugs (spec
// §4.7 step 5), used by the scheduler to log the delta before the tick
// runs. Sync computes the same set inline to force those slugs into
// staging.
func (s *Syncer) MissingFromBackend(ctx context.Context) ([]string, error) {
	recent, _, err := s.stage(ctx)
	if err != nil {
		return nil, err
	}
	backendSlugs, err := s.backendSlugs(ctx)
	if err != nil {
		return nil, err
	}
	backendSet := toSet(backendSlugs)

	var missing []string
	for slug := range recent {
		if _, ok := backendSet[slug]; !ok {
			missing = append(missing, slug)
		}
	}
	sort.Strings(missing)
	return missing, nil
}

// Sync runs the full projection protocol: stage, upsert, deactivate
// missing, and protect the configured protected set.
func (s *Syncer) Sync(ctx context.Context) error {
	allCandidates, filtered, err := s.stage(ctx)
	if err != nil {
		return fmt.Errorf("backendsync: stage: %w", err)
	}

	backendSlugs, err := s.backendSlugs(ctx)
	if err != nil {
		return fmt.Errorf("backendsync: load backend slugs: %w", err)
	}
	backendSet := toSet(backendSlugs)

	// Fill missing (step 5): pricing_slugs_recent \ backend_slugs must be
	// staged even when the modality filter would otherwise exclude them.
	staged := make(map[string]*models.BackendModel, len(filtered))
	for slug, row := range filtered {
		staged[slug] = row
	}
	for slug, row := range allCandidates {
		if _, alreadyStaged := staged[slug]; alreadyStaged {
			continue
		}
		if _, inBackend := backendSet[slug]; inBackend {
			continue
		}
		staged[slug] = row
	}

	finalizeSortAndDefaults(staged, s.cfg.DefaultChatModelID, s.cfg.DefaultEmbeddingModelID)

	if err := s.upsertStaged(ctx, staged); err != nil {
		return fmt.Errorf("backendsync: upsert staged: %w", err)
	}

	protectedSet := toSet(s.cfg.ProtectedModelSlugs)
	if err := s.deactivateMissing(ctx, backendSet, staged, protectedSet); err != nil {
		return fmt.Errorf("backendsync: deactivate missing: %w", err)
	}

	if err := s.protectConfigured(ctx, staged); err != nil {
		return fmt.Errorf("backendsync: protect configured: %w", err)
	}

	return nil
}

// stage builds the full candidate set from the freshness window (the
// "pricing_slugs_recent" universe, allCandidates) and the subset that
// also passes the text/text modality filter restored from
// backend_sync.py (filtered).
func (s *Syncer) stage(ctx context.Context) (allCandidates, filtered map[string]*models.BackendModel, err error) {
	windowDays := s.cfg.BackendFreshnessWindowDays
	if windowDays <= 0 {
		windowDays = 7
	}
	since := s.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -windowDays)

	rows, err := s.repo.RecentSnapshotsForBackendStaging(ctx, since)
	if err != nil {
		return nil, nil, err
	}

	allCandidates = make(map[string]*models.BackendModel, len(rows))
	filtered = make(map[string]*models.BackendModel, len(rows))
	for _, row := range rows {
		row := row
		candidate := buildCandidate(row)
		allCandidates[row.ModelSlug] = candidate
		if passesModalityFilter(row.Architecture) {
			filtered[row.ModelSlug] = candidate
		}
	}
	return allCandidates, filtered, nil
}

func buildCandidate(row repository.StagingRow) *models.BackendModel {
	provider := ""
	if row.TopProviderSlug != nil {
		provider = *row.TopProviderSlug
	} else if namespace, _, found := cutNamespace(row.ModelSlug); found {
		provider = namespace
	}

	supportedParams := decodeSupportedParameters(row.SupportedParameters)
	inputModalities, outputModalities := decodeArchitectureModalities(row.Architecture)
	modelType := classifyModelType(supportedParams)
	capabilities := deriveCapabilities(supportedParams, inputModalities, outputModalities)
	tier := classifyTier(decimalFromNull(row.PromptUSDPerMillion))
	metadata := buildMetadata(row.ModelSlug, tier)

	candidate := &models.BackendModel{
		ModelSlug:            row.ModelSlug,
		DisplayName:          row.DisplayName,
		Provider:             provider,
		ModelType:            modelType,
		ContextWindow:        row.ContextLength,
		CostPerMillionInput:  stringToNullDecimal(row.PromptUSDPerMillion),
		CostPerMillionOutput: stringToNullDecimal(row.CompletionUSDPerMillion),
		IsActive:             true,
		IsThinkingModel:      capabilities.IsThinkingModel,
	}
	if caps, err := json.Marshal(capabilities); err == nil {
		candidate.Capabilities = datatypes.JSON(caps)
	}
	if meta, err := json.Marshal(metadata); err == nil {
		candidate.Metadata = datatypes.JSON(meta)
	}
	return candidate
}

// passesModalityFilter mirrors backend_sync.py's stage_model skip: models
// whose architecture input/output modalities aren't exactly ["text"] are
// excluded from the primary staged set (still reachable via fill-missing,
// spec §4.7 step 5).
func passesModalityFilter(architecture []byte) bool {
	input, output := decodeArchitectureModalities(architecture)
	return isTextOnly(input) && isTextOnly(output)
}

func (s *Syncer) backendSlugs(ctx context.Context) ([]string, error) {
	var slugs []string
	if err := s.backendDB.WithContext(ctx).Model(&models.BackendModel{}).Pluck("model_slug", &slugs).Error; err != nil {
		return nil, fmt.Errorf("backendsync: pluck backend slugs: %w", err)
	}
	return slugs, nil
}

// upsertStaged writes every staged row by unique slug. sort_order and
// is_default are deliberately excluded from the conflict update so an
// already-set value in the backend store is preserved (spec §4.7 step 2);
// they are only populated on first insert, computed by
// finalizeSortAndDefaults beforehand.
func (s *Syncer) upsertStaged(ctx context.Context, staged map[string]*models.BackendModel) error {
	if len(staged) == 0 {
		return nil
	}
	rows := make([]models.BackendModel, 0, len(staged))
	for _, row := range staged {
		rows = append(rows, *row)
	}
	return s.backendDB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "model_slug"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name", "provider", "model_type", "context_window",
			"max_output_tokens", "cost_per_million_input", "cost_per_million_output",
			"is_active", "capabilities", "metadata", "is_thinking_model", "updated_at",
		}),
	}).Create(&rows).Error
}

// deactivateMissing sets is_active=false on backend_slugs \ staged_slugs,
// excluding the protected set.
func (s *Syncer) deactivateMissing(ctx context.Context, backendSet map[string]struct{}, staged map[string]*models.BackendModel, protectedSet map[string]struct{}) error {
	var toDeactivate []string
	for slug := range backendSet {
		if _, isStaged := staged[slug]; isStaged {
			continue
		}
		if _, isProtected := protectedSet[slug]; isProtected {
			continue
		}
		toDeactivate = append(toDeactivate, slug)
	}
	if len(protectedSet) > 0 {
		log.WithField("protected", keysOf(protectedSet)).Debug(events.SkippingDeactivationForProtectedModels)
	}
	if len(toDeactivate) == 0 {
		return nil
	}
	return s.backendDB.WithContext(ctx).Model(&models.BackendModel{}).
		Where("model_slug IN ?", toDeactivate).
		Update("is_active", false).Error
}

// protectConfigured ensures every protected slug exists and has
// is_active=true. Slugs already in the staged set were just upserted as
// active; anything absent is inserted from the hardcoded protection map.
func (s *Syncer) protectConfigured(ctx context.Context, staged map[string]*models.BackendModel) error {
	protectionMap := s.cfg.ProtectionMap()
	for _, slug := range s.cfg.ProtectedModelSlugs {
		if _, alreadyStaged := staged[slug]; alreadyStaged {
			continue
		}

		row, ok := protectionMap[slug]
		if !ok {
			// No hardcoded fallback and not staged: flip is_active=true
			// if the row already exists, otherwise there is nothing to
			// protect yet.
			if err := s.backendDB.WithContext(ctx).Model(&models.BackendModel{}).
				Where("model_slug = ?", slug).Update("is_active", true).Error; err != nil {
				return err
			}
			continue
		}

		backendRow := models.BackendModel{
			ModelSlug:            slug,
			DisplayName:          row.DisplayName,
			Provider:             row.Provider,
			ModelType:            row.ModelType,
			IsActive:             true,
			CostPerMillionInput:  parseDecimalOrNull(row.CostPerMillionInput),
			CostPerMillionOutput: parseDecimalOrNull(row.CostPerMillionOutput),
		}
		if err := s.backendDB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "model_slug"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"is_active", "cost_per_million_input", "cost_per_million_output", "updated_at",
			}),
		}).Create(&backendRow).Error; err != nil {
			return err
		}
	}
	return nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func keysOf(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func decimalFromNull(raw *string) *decimal.Decimal {
	if raw == nil {
		return nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil
	}
	return &d
}

func stringToNullDecimal(raw *string) decimal.NullDecimal {
	d := decimalFromNull(raw)
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func parseDecimalOrNull(raw string) decimal.NullDecimal {
	if raw == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func cutNamespace(slug string) (string, string, bool) {
	for i, r := range slug {
		if r == '/' {
			return slug[:i], slug[i+1:], true
		}
	}
	return "", slug, false
}
