package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/tenant"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrFeatureNotFound = errors.New("feature not found")
	ErrInvalidFeature  = errors.New("invalid feature value")
)

// Feature value types stored in organization_features.type.
const (
	FeatureTypeString = "string"
	FeatureTypeBool   = "bool"
	FeatureTypeInt    = "int"
	FeatureTypeJSON   = "json"
)

// FeatureService manages per-organization feature configuration.
type FeatureService struct {
	db *gorm.DB
}

func NewFeatureService(db *gorm.DB) *FeatureService {
	return &FeatureService{db: db}
}

// Values returns the organization's features decoded by their declared type.
func (s *FeatureService) Values(ctx context.Context, orgID uuid.UUID) (map[string]interface{}, error) {
	var features []models.OrganizationFeature
	if err := s.db.WithContext(ctx).Scopes(tenant.ForOrganization(orgID)).Find(&features).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch features: %w", err)
	}

	result := make(map[string]interface{}, len(features))
	for _, f := range features {
		result[f.Key] = decodeFeature(f)
	}
	return result, nil
}

func decodeFeature(f models.OrganizationFeature) interface{} {
	switch f.Type {
	case FeatureTypeBool:
		v, _ := strconv.ParseBool(f.Value)
		return v
	case FeatureTypeInt:
		v, _ := strconv.Atoi(f.Value)
		return v
	case FeatureTypeJSON:
		var v interface{}
		if err := json.Unmarshal([]byte(f.Value), &v); err != nil {
			return f.Value
		}
		return v
	default:
		return f.Value
	}
}

// Set creates or replaces one feature value.
func (s *FeatureService) Set(ctx context.Context, orgID uuid.UUID, key, value, valueType string) (*models.OrganizationFeature, error) {
	if key == "" || value == "" {
		return nil, fmt.Errorf("%w: key and value are required", ErrInvalidFeature)
	}
	if valueType == "" {
		valueType = FeatureTypeString
	}
	if err := validateFeature(value, valueType); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFeature, err)
	}

	feature := models.OrganizationFeature{
		OrganizationID: orgID,
		Key:            key,
		Value:          value,
		Type:           valueType,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "type", "updated_at"}),
	}).Create(&feature).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save feature: %w", err)
	}
	return &feature, nil
}

func validateFeature(value, valueType string) error {
	switch valueType {
	case FeatureTypeString:
		return nil
	case FeatureTypeBool:
		_, err := strconv.ParseBool(value)
		return err
	case FeatureTypeInt:
		_, err := strconv.Atoi(value)
		return err
	case FeatureTypeJSON:
		if !json.Valid([]byte(value)) {
			return errors.New("value is not valid JSON")
		}
		return nil
	default:
		return fmt.Errorf("unsupported feature type %q", valueType)
	}
}

func (s *FeatureService) Delete(ctx context.Context, orgID uuid.UUID, key string) error {
	result := s.db.WithContext(ctx).
		Scopes(tenant.ForOrganization(orgID)).
		Where("key = ?", key).
		Delete(&models.OrganizationFeature{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete feature: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrFeatureNotFound
	}
	return nil
}

// SeedDefaults writes plan defaults without overwriting values already set.
func (s *FeatureService) SeedDefaults(ctx context.Context, orgID uuid.UUID, defaults map[string]string) error {
	if len(defaults) == 0 {
		return nil
	}

	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]models.OrganizationFeature, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, models.OrganizationFeature{
			OrganizationID: orgID,
			Key:            k,
			Value:          defaults[k],
			Type:           inferFeatureType(defaults[k]),
		})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func inferFeatureType(value string) string {
	if _, err := strconv.ParseBool(value); err == nil {
		return FeatureTypeBool
	}
	if _, err := strconv.Atoi(value); err == nil {
		return FeatureTypeInt
	}
	if json.Valid([]byte(value)) && (value[0] == '{' || value[0] == '[') {
		return FeatureTypeJSON
	}
	return FeatureTypeString
}
