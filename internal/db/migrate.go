package db

import (
	"fmt"

	"github.com/pricelens/ingestor/internal/models"
	"gorm.io/gorm"
)

// MigratePricingStore runs schema migrations for the pricing store connection.
func MigratePricingStore(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errAutoMigrate := conn.AutoMigrate(
		&models.Provider{},
		&models.Model{},
		&models.ModelProviderLink{},
		&models.PricingSnapshot{},
		&models.BYOKVerification{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate pricing store: %w", errAutoMigrate)
	}

	if errIdx := createPricingSnapshotIndex(conn); errIdx != nil {
		return errIdx
	}
	return nil
}

// createPricingSnapshotIndex adds the unique key backing the same-day
// idempotent upsert. Postgres honours partial unique indexes so NULL
// providers collapse to a single logical key; SQLite treats NULLs as
// distinct within a UNIQUE index, which is the native behaviour the
// repository's IS NULL-aware delete-then-insert already assumes.
func createPricingSnapshotIndex(conn *gorm.DB) error {
	if IsSQLite(conn) {
		return conn.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS idx_pricing_snapshots_key
			ON pricing_snapshots (model_id, provider_id, snapshot_date, source_type)
		`).Error
	}
	if err := conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_pricing_snapshots_key_provider
		ON pricing_snapshots (model_id, provider_id, snapshot_date, source_type)
		WHERE provider_id IS NOT NULL
	`).Error; err != nil {
		return err
	}
	return conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_pricing_snapshots_key_no_provider
		ON pricing_snapshots (model_id, snapshot_date, source_type)
		WHERE provider_id IS NULL
	`).Error
}

// MigrateBackendStore runs schema migrations for the backend-projection
// store connection.
func MigrateBackendStore(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errAutoMigrate := conn.AutoMigrate(&models.BackendModel{}); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate backend store: %w", errAutoMigrate)
	}
	return nil
}
