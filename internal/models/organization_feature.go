package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrganizationFeature stores per-organization feature configuration values
type OrganizationFeature struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_org_feature_key,priority:1;index:idx_org_feature_org" json:"organization_id"`
	Key            string    `gorm:"size:100;not null;uniqueIndex:idx_org_feature_key,priority:2" json:"key"`
	Value          string    `gorm:"type:text;not null" json:"value"`
	Type           string    `gorm:"size:20;not null" json:"type"` // string, bool, int, json
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (f *OrganizationFeature) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

func (OrganizationFeature) TableName() string {
	return "organization_features"
}
