package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/finlake/finsync/internal/domain/org"
	"github.com/finlake/finsync/internal/domain/shared"
)

// GormOrganizationRepository implements org.OrganizationRepository on gorm.
type GormOrganizationRepository struct {
	db *gorm.DB
}

// NewOrganizationRepository creates a new organization repository.
func NewOrganizationRepository(db *gorm.DB) *GormOrganizationRepository {
	return &GormOrganizationRepository{db: db}
}

// ListSyncable returns organizations with at least one integration, ascending
// by ID. Stable order is what makes the round-robin offset meaningful.
func (r *GormOrganizationRepository) ListSyncable(ctx context.Context) ([]org.Organization, error) {
	var models []OrganizationModel
	err := r.db.WithContext(ctx).
		Joins("JOIN integrations ON integrations.org_id = organizations.id").
		Distinct("organizations.*").
		Order("organizations.id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list syncable organizations: %w", err)
	}

	orgs := make([]org.Organization, len(models))
	for i, m := range models {
		orgs[i] = organizationToDomain(m)
	}
	return orgs, nil
}

// FindByID loads one organization.
func (r *GormOrganizationRepository) FindByID(ctx context.Context, id int64) (*org.Organization, error) {
	var model OrganizationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("organization %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find organization %d: %w", id, err)
	}
	result := organizationToDomain(model)
	return &result, nil
}

func organizationToDomain(m OrganizationModel) org.Organization {
	return org.Organization{
		ID:   m.ID,
		Name: m.Name,
	}
}
