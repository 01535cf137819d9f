package erp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finlake/finsync/internal/adapters/persistence"
	providerapi "github.com/finlake/finsync/internal/adapters/providers/erp"
	"github.com/finlake/finsync/internal/adapters/providers/rest"
	"github.com/finlake/finsync/internal/application/importers/erp"
	"github.com/finlake/finsync/internal/domain/provider"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/infrastructure/config"
	"github.com/finlake/finsync/test/helpers"
)

const testOrgID = int64(7)

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

func transactionJSON(id string, modified time.Time) string {
	return fmt.Sprintf(`{"id":%q,"type":"VendBill","trandate":"2026-03-09T00:00:00Z","foreigntotal":10.5,"lastmodifieddate":%q}`,
		id, modified.UTC().Format(time.RFC3339))
}

func TestImporter_TransactionsResumeAcrossEqualTimestamps(t *testing.T) {
	tie := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	later := tie.Add(time.Minute)
	pages := []string{
		// Full page, both rows modified at the same instant.
		fmt.Sprintf(`{"items":[%s,%s],"hasMore":false}`, transactionJSON("1", tie), transactionJSON("2", tie)),
		// Short page drains the window.
		fmt.Sprintf(`{"items":[%s],"hasMore":false}`, transactionJSON("3", later)),
	}

	var mu sync.Mutex
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		var body struct {
			Q string `json:"q"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		call := len(queries)
		queries = append(queries, body.Q)
		mu.Unlock()
		if call >= len(pages) {
			assert.Fail(t, "unexpected extra query")
			w.Write([]byte(`{"items":[],"hasMore":false}`))
			return
		}
		w.Write([]byte(pages[call]))
	}))
	defer server.Close()

	client := newTestClient(t, server, 2)
	warehouse := persistence.NewWarehouse(helpers.NewTestDB(t), config.WarehouseConfig{
		BatchSizeRows:  100,
		BatchSizeHeavy: 50,
	})
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	imp := erp.New(client, warehouse, rest.StaticToken("t"), testOrgID, since, time.Time{}, nil, zerolog.Nop())

	module, ok := provider.FindModule(imp, "transactions")
	require.True(t, ok)

	count, err := module.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, queries, 2)
	assert.NotContains(t, queries[0], "id > ", "first page starts from the window bound, not a cursor")
	assert.Contains(t, queries[0], "ORDER BY lastmodifieddate ASC, id ASC")

	// Resumption after a full page ending on equal timestamps must tie-break
	// on id, so row 3 is reached and neither tied row repeats.
	keyset := "(lastmodifieddate > TO_DATE('2026-03-10 08:00:00', 'YYYY-MM-DD HH24:MI:SS') " +
		"OR (lastmodifieddate = TO_DATE('2026-03-10 08:00:00', 'YYYY-MM-DD HH24:MI:SS') AND id > '2'))"
	assert.Contains(t, queries[1], keyset)

	rows, err := warehouse.CountRows(context.Background(), &persistence.ErpTransactionModel{}, testOrgID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rows)
}
