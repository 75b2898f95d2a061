package models

import "time"

// Provider is an upstream company or hosting service that runs models.
type Provider struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Slug        string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	DisplayName string    `gorm:"type:varchar(255);not null"`
	HomepageURL *string   `gorm:"type:text"`
	PricingURL  *string   `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName overrides the default table name.
func (Provider) TableName() string {
	return "providers"
}
