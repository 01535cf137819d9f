package tokens_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finlake/finsync/internal/adapters/persistence"
	"github.com/finlake/finsync/internal/application/tokens"
	"github.com/finlake/finsync/internal/domain/org"
	"github.com/finlake/finsync/internal/domain/provider"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/test/helpers"
)

func testIntegration() org.Integration {
	return org.Integration{
		ID:    1,
		OrgID: 1,
		Kind:  provider.KindAccounting,
		Settings: map[string]string{
			"accounting_client_id":     "cid",
			"accounting_client_secret": "sec",
			"accounting_tenant_id":     "tid",
		},
	}
}

func newManager(t *testing.T, clock shared.Clock, calls *int32) (*tokens.Manager, org.TokenRepository) {
	t.Helper()
	db := helpers.NewTestDB(t)
	repo := persistence.NewTokenRepository(db)
	store, _ := helpers.NewTestStore(t)

	auth := map[provider.Kind]tokens.AuthenticateFunc{
		provider.KindAccounting: func(ctx context.Context, integration org.Integration) (string, time.Time, error) {
			n := atomic.AddInt32(calls, 1)
			return "token-" + string(rune('a'+n-1)), clock.Now().Add(30 * time.Minute), nil
		},
	}
	return tokens.NewManager(repo, store, clock, time.Minute, auth, zerolog.Nop()), repo
}

func TestManager_TokenRefreshesWhenMissing(t *testing.T) {
	var calls int32
	clock := shared.NewMockClock(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	manager, repo := newManager(t, clock, &calls)
	ctx := context.Background()

	token, err := manager.Token(ctx, testIntegration())
	require.NoError(t, err)
	assert.Equal(t, "token-a", token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	stored, err := repo.Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "token-a", stored.Token)
}

func TestManager_TokenReusesValidToken(t *testing.T) {
	var calls int32
	clock := shared.NewMockClock(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	manager, _ := newManager(t, clock, &calls)
	ctx := context.Background()

	first, err := manager.Token(ctx, testIntegration())
	require.NoError(t, err)
	second, err := manager.Token(ctx, testIntegration())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "valid token must not trigger a second exchange")
}

func TestManager_TokenRefreshesInsideExpiryWindow(t *testing.T) {
	var calls int32
	clock := shared.NewMockClock(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	manager, _ := newManager(t, clock, &calls)
	ctx := context.Background()

	_, err := manager.Token(ctx, testIntegration())
	require.NoError(t, err)

	// Just inside the one-minute safety window of the 30-minute expiry.
	clock.Advance(29*time.Minute + 30*time.Second)

	token, err := manager.Token(ctx, testIntegration())
	require.NoError(t, err)
	assert.Equal(t, "token-b", token)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestManager_ConcurrentRefreshIsSingleFlight(t *testing.T) {
	var calls int32
	clock := shared.NewMockClock(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	manager, _ := newManager(t, clock, &calls)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := manager.Refresh(context.Background(), testIntegration())
			require.NoError(t, err)
			results[i] = token
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent refreshes must collapse to one exchange")
	for _, token := range results {
		assert.Equal(t, results[0], token)
	}
}

func TestManager_RefreshExpiring(t *testing.T) {
	var calls int32
	clock := shared.NewMockClock(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	manager, repo := newManager(t, clock, &calls)
	ctx := context.Background()

	// One token far from expiry, one inside the window.
	require.NoError(t, repo.Save(ctx, &org.AccessToken{
		IntegrationID: 1,
		Kind:          provider.KindAccounting,
		Token:         "fresh",
		ExpiresAt:     clock.Now().Add(2 * time.Hour),
	}))

	expiring := testIntegration()
	expiring.ID = 2
	require.NoError(t, repo.Save(ctx, &org.AccessToken{
		IntegrationID: 2,
		Kind:          provider.KindAccounting,
		Token:         "stale",
		ExpiresAt:     clock.Now().Add(30 * time.Second),
	}))

	refreshed, err := manager.RefreshExpiring(ctx, []org.Integration{testIntegration(), expiring})
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed)

	stored, err := repo.Find(ctx, 2)
	require.NoError(t, err)
	assert.NotEqual(t, "stale", stored.Token)
}

func TestManager_SkipsIntegrationsWithoutCredentials(t *testing.T) {
	var calls int32
	clock := shared.NewMockClock(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	manager, _ := newManager(t, clock, &calls)

	bare := org.Integration{ID: 9, OrgID: 1, Kind: provider.KindAccounting, Settings: map[string]string{}}
	refreshed, err := manager.RefreshExpiring(context.Background(), []org.Integration{bare})
	require.NoError(t, err)
	assert.Zero(t, refreshed)
	assert.Zero(t, atomic.LoadInt32(&calls))
}
