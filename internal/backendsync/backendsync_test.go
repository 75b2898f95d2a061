package backendsync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pricelens/ingestor/internal/config"
	"github.com/pricelens/ingestor/internal/models"
)

var textOnlyArchitecture = datatypes.JSON(`{"input_modalities":["text"],"output_modalities":["text"]}`)

func newPricingDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s-pricing?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("open pricing db: %v", err)
	}
	if err := db.AutoMigrate(&models.Provider{}, &models.Model{}, &models.ModelProviderLink{}, &models.PricingSnapshot{}); err != nil {
		t.Fatalf("migrate pricing db: %v", err)
	}
	return db
}

func newBackendDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s-backend?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("open backend db: %v", err)
	}
	if err := db.AutoMigrate(&models.BackendModel{}); err != nil {
		t.Fatalf("migrate backend db: %v", err)
	}
	return db
}

func seedModel(t *testing.T, db *gorm.DB, slug, displayName, promptPerMillion, completionPerMillion string, snapshotDate time.Time) *models.Model {
	t.Helper()
	m := models.Model{Slug: slug, DisplayName: displayName, Architecture: textOnlyArchitecture}
	if err := db.Create(&m).Error; err != nil {
		t.Fatalf("create model: %v", err)
	}
	snap := models.PricingSnapshot{
		ModelID:      m.ID,
		SourceType:   "aggregator_api",
		SnapshotDate: snapshotDate,
		Currency:     "USD",
	}
	if promptPerMillion != "" {
		d, err := decimal.NewFromString(promptPerMillion)
		if err != nil {
			t.Fatalf("parse prompt decimal: %v", err)
		}
		snap.PromptUSDPerMillion = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	if completionPerMillion != "" {
		d, err := decimal.NewFromString(completionPerMillion)
		if err != nil {
			t.Fatalf("parse completion decimal: %v", err)
		}
		snap.CompletionUSDPerMillion = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	if err := db.Create(&snap).Error; err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	return &m
}

func TestSync_NewModelStagedAndActivated(t *testing.T) {
	pricingDB := newPricingDB(t)
	backendDB := newBackendDB(t)
	cfg := &config.Config{BackendFreshnessWindowDays: 7}

	seedModel(t, pricingDB, "openai/gpt-5", "GPT-5", "3", "15", time.Now().UTC())

	syncer := New(pricingDB, backendDB, cfg)
	if err := syncer.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	var row models.BackendModel
	if err := backendDB.Where("model_slug = ?", "openai/gpt-5").First(&row).Error; err != nil {
		t.Fatalf("expected backend row for gpt-5: %v", err)
	}
	if !row.IsActive {
		t.Fatalf("expected new row active")
	}
	if row.Provider != "openai" {
		t.Fatalf("expected provider openai, got %q", row.Provider)
	}
}

// Scenario 6: a protected slug absent from the staged candidate set still
// ends up active in the backend store via the hardcoded protection map.
func TestSync_ProtectedModelMissingUpstreamStillActive(t *testing.T) {
	pricingDB := newPricingDB(t)
	backendDB := newBackendDB(t)
	cfg := &config.Config{
		BackendFreshnessWindowDays: 7,
		ProtectedModelSlugs:        []string{"openai/text-embedding-3-large"},
	}

	// No pricing-store rows at all for the protected slug: nothing recent,
	// nothing in the backend store yet either.
	syncer := New(pricingDB, backendDB, cfg)
	if err := syncer.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	var row models.BackendModel
	if err := backendDB.Where("model_slug = ?", "openai/text-embedding-3-large").First(&row).Error; err != nil {
		t.Fatalf("expected protected row to be created: %v", err)
	}
	if !row.IsActive {
		t.Fatalf("expected protected row active")
	}
	if row.ModelType != "embedding" {
		t.Fatalf("expected embedding model type, got %q", row.ModelType)
	}
}

func TestSync_DeactivatesMissingExcludingProtected(t *testing.T) {
	pricingDB := newPricingDB(t)
	backendDB := newBackendDB(t)
	cfg := &config.Config{
		BackendFreshnessWindowDays: 7,
		ProtectedModelSlugs:        []string{"openai/text-embedding-3-large"},
	}

	// Backend already has two rows, neither staged this run.
	if err := backendDB.Create(&models.BackendModel{
		ModelSlug: "stale/vendor-model", DisplayName: "Stale", Provider: "stale",
		ModelType: "chat", IsActive: true,
	}).Error; err != nil {
		t.Fatalf("seed stale backend row: %v", err)
	}
	if err := backendDB.Create(&models.BackendModel{
		ModelSlug: "openai/text-embedding-3-large", DisplayName: "text-embedding-3-large",
		Provider: "openai", ModelType: "embedding", IsActive: true,
	}).Error; err != nil {
		t.Fatalf("seed protected backend row: %v", err)
	}

	syncer := New(pricingDB, backendDB, cfg)
	if err := syncer.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	var stale models.BackendModel
	backendDB.Where("model_slug = ?", "stale/vendor-model").First(&stale)
	if stale.IsActive {
		t.Fatalf("expected stale model deactivated")
	}

	var protected models.BackendModel
	backendDB.Where("model_slug = ?", "openai/text-embedding-3-large").First(&protected)
	if !protected.IsActive {
		t.Fatalf("expected protected model to remain active despite no staged candidate")
	}
}

func TestSync_UpsertPreservesExistingSortOrderAndDefault(t *testing.T) {
	pricingDB := newPricingDB(t)
	backendDB := newBackendDB(t)
	cfg := &config.Config{BackendFreshnessWindowDays: 7}

	if err := backendDB.Create(&models.BackendModel{
		ModelSlug: "openai/gpt-5", DisplayName: "GPT-5", Provider: "openai",
		ModelType: "chat", IsActive: true, SortOrder: 42, IsDefault: true,
	}).Error; err != nil {
		t.Fatalf("seed existing backend row: %v", err)
	}

	seedModel(t, pricingDB, "openai/gpt-5", "GPT-5 Updated", "4", "16", time.Now().UTC())

	syncer := New(pricingDB, backendDB, cfg)
	if err := syncer.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	var row models.BackendModel
	backendDB.Where("model_slug = ?", "openai/gpt-5").First(&row)
	if row.SortOrder != 42 {
		t.Fatalf("expected sort_order preserved at 42, got %d", row.SortOrder)
	}
	if !row.IsDefault {
		t.Fatalf("expected is_default preserved as true")
	}
	if row.DisplayName != "GPT-5 Updated" {
		t.Fatalf("expected display_name refreshed, got %q", row.DisplayName)
	}
}

// A non-text model is still staged via fill-missing (spec §4.7 step 5)
// when it is absent from the backend store, even though it fails the
// text/text modality filter.
func TestSync_NonTextModalityStagedOnlyViaFillMissing(t *testing.T) {
	pricingDB := newPricingDB(t)
	backendDB := newBackendDB(t)
	cfg := &config.Config{BackendFreshnessWindowDays: 7}

	m := models.Model{
		Slug:         "openai/vision-1",
		DisplayName:  "Vision 1",
		Architecture: datatypes.JSON(`{"input_modalities":["text","image"],"output_modalities":["text"]}`),
	}
	if err := pricingDB.Create(&m).Error; err != nil {
		t.Fatalf("create model: %v", err)
	}
	d, _ := decimal.NewFromString("3")
	if err := pricingDB.Create(&models.PricingSnapshot{
		ModelID: m.ID, SourceType: "aggregator_api", SnapshotDate: time.Now().UTC(),
		Currency: "USD", PromptUSDPerMillion: decimal.NullDecimal{Decimal: d, Valid: true},
	}).Error; err != nil {
		t.Fatalf("create snapshot: %v", err)
	}

	syncer := New(pricingDB, backendDB, cfg)
	if err := syncer.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	var row models.BackendModel
	if err := backendDB.Where("model_slug = ?", "openai/vision-1").First(&row).Error; err != nil {
		t.Fatalf("expected backend row via fill-missing: %v", err)
	}
	if !row.IsActive {
		t.Fatalf("expected fill-missing row active")
	}
}

func TestMissingFromBackend(t *testing.T) {
	pricingDB := newPricingDB(t)
	backendDB := newBackendDB(t)
	cfg := &config.Config{BackendFreshnessWindowDays: 7}

	seedModel(t, pricingDB, "openai/gpt-5", "GPT-5", "3", "15", time.Now().UTC())

	syncer := New(pricingDB, backendDB, cfg)
	missing, err := syncer.MissingFromBackend(context.Background())
	if err != nil {
		t.Fatalf("missing from backend: %v", err)
	}
	if len(missing) != 1 || missing[0] != "openai/gpt-5" {
		t.Fatalf("expected [openai/gpt-5], got %v", missing)
	}
}
