package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingSnapshot is an immutable daily pricing fact row keyed by
// (model, provider|NULL, snapshot_date, source_type).
type PricingSnapshot struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	ModelID      uint64    `gorm:"not null;index:idx_pricing_snapshots_lookup"`
	ProviderID   *uint64   `gorm:"index:idx_pricing_snapshots_lookup"`
	SnapshotDate time.Time `gorm:"type:date;not null;index:idx_pricing_snapshots_lookup"`
	SourceType   string    `gorm:"type:varchar(32);not null;index:idx_pricing_snapshots_lookup"`
	SourceURL    *string   `gorm:"type:text"`

	PromptUSDPerMillion            decimal.NullDecimal `gorm:"type:decimal(20,10)"`
	CompletionUSDPerMillion        decimal.NullDecimal `gorm:"type:decimal(20,10)"`
	RequestUSD                     decimal.NullDecimal `gorm:"type:decimal(20,10)"`
	ImageUSD                       decimal.NullDecimal `gorm:"type:decimal(20,10)"`
	WebSearchUSD                   decimal.NullDecimal `gorm:"type:decimal(20,10)"`
	InternalReasoningUSDPerMillion decimal.NullDecimal `gorm:"type:decimal(20,10)"`
	InputCacheReadUSDPerMillion    decimal.NullDecimal `gorm:"type:decimal(20,10)"`
	InputCacheWriteUSDPerMillion   decimal.NullDecimal `gorm:"type:decimal(20,10)"`

	Currency    string    `gorm:"type:varchar(3);not null;default:'USD'"`
	CollectedAt time.Time `gorm:"not null"`
	Notes       *string   `gorm:"type:text"`
}

// TableName overrides the default table name.
func (PricingSnapshot) TableName() string {
	return "pricing_snapshots"
}
