package models

import (
	"time"

	"gorm.io/datatypes"
)

// Model is a distinct LLM offering identified by its catalogue slug.
type Model struct {
	ID                  uint64         `gorm:"primaryKey;autoIncrement"`
	Slug                string         `gorm:"type:varchar(255);not null;uniqueIndex"`
	CanonicalSlug       *string        `gorm:"type:varchar(255)"`
	DisplayName         string         `gorm:"type:varchar(255);not null"`
	ContextLength       *int
	Architecture        datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"`
	SupportedParameters datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"`
	CreatedAt           time.Time      `gorm:"not null;autoCreateTime"`
	UpdatedAt           time.Time      `gorm:"not null;autoUpdateTime"`
}

// TableName overrides the default table name.
func (Model) TableName() string {
	return "models"
}
