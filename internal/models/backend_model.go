package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// BackendModel is the denormalised "current active models" row that a
// downstream application reads directly.
type BackendModel struct {
	ID                   uint64 `gorm:"primaryKey;autoIncrement"`
	ModelSlug            string `gorm:"type:varchar(255);not null;uniqueIndex"`
	DisplayName          string `gorm:"type:varchar(255);not null"`
	Provider             string `gorm:"type:varchar(255);not null"`
	ModelType            string `gorm:"type:varchar(32);not null"`
	ContextWindow        *int
	MaxOutputTokens      *int
	CostPerMillionInput  decimal.NullDecimal `gorm:"type:decimal(20,10)"`
	CostPerMillionOutput decimal.NullDecimal `gorm:"type:decimal(20,10)"`
	IsActive             bool           `gorm:"not null;default:true;index"`
	IsDefault            bool           `gorm:"not null;default:false"`
	SortOrder            int            `gorm:"not null;default:0"`
	Capabilities         datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"`
	Metadata             datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"`
	IsThinkingModel      bool           `gorm:"not null;default:false"`
	CreatedAt            time.Time      `gorm:"not null;autoCreateTime"`
	UpdatedAt            time.Time      `gorm:"not null;autoUpdateTime"`
}

// TableName overrides the default table name.
func (BackendModel) TableName() string {
	return "backend_models"
}
