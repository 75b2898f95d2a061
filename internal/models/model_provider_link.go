package models

import "gorm.io/datatypes"

// ModelProviderLink records that a model is available through a provider.
type ModelProviderLink struct {
	ModelID          uint64         `gorm:"primaryKey;autoIncrement:false"`
	ProviderID       uint64         `gorm:"primaryKey;autoIncrement:false"`
	IsTopProvider    bool           `gorm:"not null;default:false"`
	ProviderMetadata datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"`
}

// TableName overrides the default table name.
func (ModelProviderLink) TableName() string {
	return "model_provider_links"
}
