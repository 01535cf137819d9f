package accounting_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finlake/finsync/internal/adapters/persistence"
	providerapi "github.com/finlake/finsync/internal/adapters/providers/accounting"
	"github.com/finlake/finsync/internal/adapters/providers/rest"
	"github.com/finlake/finsync/internal/application/importers/accounting"
	"github.com/finlake/finsync/internal/domain/provider"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/infrastructure/config"
	"github.com/finlake/finsync/test/helpers"
)

const testOrgID = int64(42)

func newTestClient(t *testing.T, server *httptest.Server, pageSize int) *providerapi.Client {
	t.Helper()
	cfg := config.ProviderConfig{
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
		RateLimit: config.RateLimitConfig{
			Requests: 1000,
			Burst:    1000,
		},
		Retry: config.RetryConfig{
			MaxAttempts:       3,
			BackoffBase:       time.Second,
			RetryAfterDefault: 30 * time.Second,
		},
		PageSize: pageSize,
	}
	return providerapi.NewClient(cfg, shared.NewMockClock(time.Time{}), zerolog.Nop())
}

func newTestWarehouse(t *testing.T) *persistence.Warehouse {
	t.Helper()
	return persistence.NewWarehouse(helpers.NewTestDB(t), config.WarehouseConfig{
		BatchSizeRows:  100,
		BatchSizeHeavy: 50,
	})
}

func accountJSON(id, code string, updated time.Time) string {
	return fmt.Sprintf(`{"accountID":%q,"code":%q,"name":"Account %s","type":"REVENUE","updatedDateUTC":%q}`,
		id, code, code, updated.UTC().Format(time.RFC3339))
}

func TestImporter_AccountsStopAfterFullPagesAndEmptyTail(t *testing.T) {
	updated := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	pages := map[string]string{
		"1": fmt.Sprintf(`{"accounts":[%s,%s]}`, accountJSON("a1", "100", updated), accountJSON("a2", "200", updated)),
		"2": fmt.Sprintf(`{"accounts":[%s,%s]}`, accountJSON("a3", "300", updated), accountJSON("a4", "400", updated)),
		"3": `{"accounts":[]}`,
	}

	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, "/accounts", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("pageSize"))
		assert.Equal(t, "tenant-1", r.Header.Get("X-Tenant-Id"))
		body, ok := pages[r.URL.Query().Get("page")]
		assert.True(t, ok, "unexpected page %s", r.URL.Query().Get("page"))
		w.Write([]byte(body))
	}))
	defer server.Close()

	client := newTestClient(t, server, 2)
	warehouse := newTestWarehouse(t)
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	imp := accounting.New(client, warehouse, rest.StaticToken("t"), "tenant-1", testOrgID, since, time.Time{}, nil, zerolog.Nop())

	module, ok := provider.FindModule(imp, "accounts")
	require.True(t, ok)

	count, err := module.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	// Two full pages, then one more request that came back empty.
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))

	rows, err := warehouse.CountRows(context.Background(), &persistence.LedgerAccountModel{}, testOrgID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rows)
}

func TestImporter_AccountsCountExcludesRowsPastWindow(t *testing.T) {
	until := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	inside := until.Add(-time.Hour)
	outside := until.Add(time.Hour)
	pages := map[string]string{
		"1": fmt.Sprintf(`{"accounts":[%s,%s]}`, accountJSON("a1", "100", inside), accountJSON("a2", "200", outside)),
		"2": `{"accounts":[]}`,
	}

	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		body, ok := pages[r.URL.Query().Get("page")]
		assert.True(t, ok, "unexpected page %s", r.URL.Query().Get("page"))
		w.Write([]byte(body))
	}))
	defer server.Close()

	client := newTestClient(t, server, 2)
	warehouse := newTestWarehouse(t)
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	imp := accounting.New(client, warehouse, rest.StaticToken("t"), "tenant-1", testOrgID, since, until, nil, zerolog.Nop())

	module, ok := provider.FindModule(imp, "accounts")
	require.True(t, ok)

	count, err := module.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count, "only the in-window row counts")

	// The full first page still drives one more fetch even though a row was
	// filtered out.
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))

	rows, err := warehouse.CountRows(context.Background(), &persistence.LedgerAccountModel{}, testOrgID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
}
