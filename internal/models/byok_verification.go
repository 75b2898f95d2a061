package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// BYOKVerification is an audit row reconciling aggregator-reported cost
// with upstream-provider cost for a tiny real request. Never mutated.
type BYOKVerification struct {
	ID               uint64              `gorm:"primaryKey;autoIncrement"`
	ModelID          uint64              `gorm:"not null;index"`
	ProviderID       *uint64             `gorm:"index"`
	PromptTokens     int                 `gorm:"not null"`
	CompletionTokens int                 `gorm:"not null"`
	AggregatorCostUSD decimal.NullDecimal `gorm:"type:decimal(20,10)"`
	UpstreamCostUSD   decimal.NullDecimal `gorm:"type:decimal(20,10)"`
	ResponseMS       *int
	OK               bool           `gorm:"not null"`
	RawUsage         datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt        time.Time      `gorm:"not null;autoCreateTime"`
}

// TableName overrides the default table name.
func (BYOKVerification) TableName() string {
	return "byok_verifications"
}
