package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/finlake/finsync/internal/domain/org"
	"github.com/finlake/finsync/internal/domain/provider"
	"github.com/finlake/finsync/internal/domain/shared"
)

// GormTokenRepository implements org.TokenRepository on gorm.
type GormTokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository creates a new access token repository.
func NewTokenRepository(db *gorm.DB) *GormTokenRepository {
	return &GormTokenRepository{db: db}
}

// Find loads the stored token for an integration.
func (r *GormTokenRepository) Find(ctx context.Context, integrationID int64) (*org.AccessToken, error) {
	var model AccessTokenModel
	err := r.db.WithContext(ctx).First(&model, "integration_id = ?", integrationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("token for integration %d: %w", integrationID, shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find token for integration %d: %w", integrationID, err)
	}
	return &org.AccessToken{
		IntegrationID: model.IntegrationID,
		Kind:          provider.Kind(model.ProviderKind),
		Token:         model.Token,
		ExpiresAt:     model.ExpiresAt,
	}, nil
}

// Save upserts the token for an integration. The primary key is the
// integration ID, so a refresh overwrites in place.
func (r *GormTokenRepository) Save(ctx context.Context, token *org.AccessToken) error {
	model := AccessTokenModel{
		IntegrationID: token.IntegrationID,
		ProviderKind:  string(token.Kind),
		Token:         token.Token,
		ExpiresAt:     token.ExpiresAt,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "integration_id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to save token for integration %d: %w", token.IntegrationID, err)
	}
	return nil
}
