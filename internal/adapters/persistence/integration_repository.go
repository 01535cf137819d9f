package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/finlake/finsync/internal/domain/org"
	"github.com/finlake/finsync/internal/domain/provider"
	"github.com/finlake/finsync/internal/domain/shared"
)

// GormIntegrationRepository implements org.IntegrationRepository on gorm.
type GormIntegrationRepository struct {
	db *gorm.DB
}

// NewIntegrationRepository creates a new integration repository.
func NewIntegrationRepository(db *gorm.DB) *GormIntegrationRepository {
	return &GormIntegrationRepository{db: db}
}

// ListByOrg returns all integrations of one organization, ascending by ID.
func (r *GormIntegrationRepository) ListByOrg(ctx context.Context, orgID int64) ([]org.Integration, error) {
	var models []IntegrationModel
	err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations for org %d: %w", orgID, err)
	}
	return integrationsToDomain(models)
}

// ListAll returns every integration across all organizations.
func (r *GormIntegrationRepository) ListAll(ctx context.Context) ([]org.Integration, error) {
	var models []IntegrationModel
	err := r.db.WithContext(ctx).Order("id ASC").Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	return integrationsToDomain(models)
}

// FindByID loads one integration.
func (r *GormIntegrationRepository) FindByID(ctx context.Context, id int64) (*org.Integration, error) {
	var model IntegrationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("integration %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find integration %d: %w", id, err)
	}
	result, err := integrationToDomain(model)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func integrationsToDomain(models []IntegrationModel) ([]org.Integration, error) {
	integrations := make([]org.Integration, 0, len(models))
	for _, m := range models {
		integration, err := integrationToDomain(m)
		if err != nil {
			return nil, err
		}
		integrations = append(integrations, integration)
	}
	return integrations, nil
}

func integrationToDomain(m IntegrationModel) (org.Integration, error) {
	settings := map[string]string{}
	if m.Settings != "" {
		if err := json.Unmarshal([]byte(m.Settings), &settings); err != nil {
			return org.Integration{}, fmt.Errorf("corrupt settings on integration %d: %w", m.ID, err)
		}
	}
	return org.Integration{
		ID:       m.ID,
		OrgID:    m.OrgID,
		Kind:     provider.Kind(m.ProviderKind),
		Settings: settings,
	}, nil
}
