package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/finlake/finsync/internal/adapters/persistence"
	"github.com/finlake/finsync/internal/domain/org"
	"github.com/finlake/finsync/internal/domain/provider"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/test/helpers"
)

func seedOrg(t *testing.T, db *gorm.DB, name string) int64 {
	t.Helper()
	model := persistence.OrganizationModel{Name: name}
	require.NoError(t, db.Create(&model).Error)
	return model.ID
}

func seedIntegration(t *testing.T, db *gorm.DB, orgID int64, kind provider.Kind, settings string) int64 {
	t.Helper()
	model := persistence.IntegrationModel{
		OrgID:        orgID,
		ProviderKind: string(kind),
		Settings:     settings,
	}
	require.NoError(t, db.Create(&model).Error)
	return model.ID
}

func TestOrganizationRepository_ListSyncable(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewOrganizationRepository(db)
	ctx := context.Background()

	withIntegration := seedOrg(t, db, "Acme")
	seedOrg(t, db, "NoIntegrations")
	second := seedOrg(t, db, "Globex")

	seedIntegration(t, db, withIntegration, provider.KindAccounting, "{}")
	seedIntegration(t, db, second, provider.KindPOS, "{}")
	seedIntegration(t, db, second, provider.KindERP, "{}")

	orgs, err := repo.ListSyncable(ctx)
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	// Ascending ID order, one entry per org regardless of integration count.
	assert.Equal(t, withIntegration, orgs[0].ID)
	assert.Equal(t, second, orgs[1].ID)
}

func TestOrganizationRepository_FindByID_NotFound(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewOrganizationRepository(db)

	_, err := repo.FindByID(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestIntegrationRepository_RoundTripSettings(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewIntegrationRepository(db)
	ctx := context.Background()

	orgID := seedOrg(t, db, "Acme")
	id := seedIntegration(t, db, orgID, provider.KindAccounting,
		`{"accounting_client_id":"cid","accounting_client_secret":"sec","accounting_tenant_id":"tid"}`)

	found, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, provider.KindAccounting, found.Kind)
	assert.Equal(t, "cid", found.Settings["accounting_client_id"])
	assert.True(t, found.HasCredentials())

	byOrg, err := repo.ListByOrg(ctx, orgID)
	require.NoError(t, err)
	require.Len(t, byOrg, 1)
	assert.Equal(t, id, byOrg[0].ID)
}

func TestTokenRepository_SaveOverwrites(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewTokenRepository(db)
	ctx := context.Background()

	expiry := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, &org.AccessToken{
		IntegrationID: 5,
		Kind:          provider.KindAccounting,
		Token:         "tok-1",
		ExpiresAt:     expiry,
	}))
	require.NoError(t, repo.Save(ctx, &org.AccessToken{
		IntegrationID: 5,
		Kind:          provider.KindAccounting,
		Token:         "tok-2",
		ExpiresAt:     expiry.Add(time.Hour),
	}))

	found, err := repo.Find(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", found.Token)
	assert.True(t, found.ExpiresAt.After(expiry))
}

func TestTokenRepository_Find_NotFound(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewTokenRepository(db)

	_, err := repo.Find(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}
