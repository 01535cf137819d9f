package workers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/finlake/finsync/internal/adapters/persistence"
	accountingapi "github.com/finlake/finsync/internal/adapters/providers/accounting"
	"github.com/finlake/finsync/internal/adapters/statestore"
	"github.com/finlake/finsync/internal/application/dispatch"
	"github.com/finlake/finsync/internal/application/registry"
	"github.com/finlake/finsync/internal/application/tokens"
	"github.com/finlake/finsync/internal/application/workers"
	"github.com/finlake/finsync/internal/domain/org"
	"github.com/finlake/finsync/internal/domain/provider"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/domain/synctask"
	"github.com/finlake/finsync/internal/infrastructure/config"
	"github.com/finlake/finsync/internal/queue"
	"github.com/finlake/finsync/test/helpers"
)

type captureQueue struct {
	jobs []*queue.Job
}

func (q *captureQueue) Enqueue(ctx context.Context, job *queue.Job) error {
	q.jobs = append(q.jobs, job)
	return nil
}

// fixture wires a full accounting provider stack against a fake API.
type fixture struct {
	db       *gorm.DB
	store    *statestore.RedisStore
	clock    *shared.MockClock
	captured *captureQueue

	orgs         *persistence.GormOrganizationRepository
	integrations *persistence.GormIntegrationRepository
	tasks        *persistence.GormTaskRepository
	logs         *persistence.GormLogRepository
	slots        *dispatch.Slots
	registry     *registry.Registry
	tokens       *tokens.Manager
}

func newFixture(t *testing.T, handler http.Handler) *fixture {
	t.Helper()
	db := helpers.NewTestDB(t)
	store, _ := helpers.NewTestStore(t)
	clock := shared.NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	providerCfg := config.ProviderConfig{
		BaseURL:  server.URL,
		Timeout:  5 * time.Second,
		PageSize: 2,
		Retry:    config.RetryConfig{MaxAttempts: 1},
	}
	client := accountingapi.NewClient(providerCfg, clock, zerolog.Nop())

	tokenRepo := persistence.NewTokenRepository(db)
	manager := tokens.NewManager(tokenRepo, store, clock, time.Minute, registry.Authenticators(client, nil, nil), zerolog.Nop())

	warehouse := persistence.NewWarehouse(db, config.WarehouseConfig{
		BatchSizeRows:         1000,
		BatchSizeHeavy:        500,
		HeartbeatEveryBatches: 10,
	})
	reg := registry.New(registry.Deps{
		Accounting: client,
		Warehouse:  warehouse,
		Tokens:     manager,
		Logger:     zerolog.Nop(),
	})

	return &fixture{
		db:           db,
		store:        store,
		clock:        clock,
		captured:     &captureQueue{},
		orgs:         persistence.NewOrganizationRepository(db),
		integrations: persistence.NewIntegrationRepository(db),
		tasks:        persistence.NewTaskRepository(db),
		logs:         persistence.NewLogRepository(db),
		slots:        dispatch.NewSlots(store, 3, time.Hour, zerolog.Nop()),
		registry:     reg,
		tokens:       manager,
	}
}

func emptyProviderHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
}

func accountsHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/accounts" && r.URL.Query().Get("page") == "1" {
			require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
				"accounts": []map[string]interface{}{
					{"accountID": "acc-1", "code": "200", "name": "Sales", "type": "REVENUE", "updatedDateUTC": "2024-03-01T10:00:00Z"},
				},
			}))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
}

func (f *fixture) seedOrg(t *testing.T) int64 {
	t.Helper()
	model := persistence.OrganizationModel{Name: "Org"}
	require.NoError(t, f.db.Create(&model).Error)
	return model.ID
}

func (f *fixture) seedIntegration(t *testing.T, orgID int64, settings map[string]string) int64 {
	t.Helper()
	raw, err := json.Marshal(settings)
	require.NoError(t, err)
	model := persistence.IntegrationModel{
		OrgID:        orgID,
		ProviderKind: string(provider.KindAccounting),
		Settings:     string(raw),
	}
	require.NoError(t, f.db.Create(&model).Error)
	return model.ID
}

func accountingCredentials() map[string]string {
	return map[string]string{
		"accounting_client_id":     "id",
		"accounting_client_secret": "secret",
		"accounting_tenant_id":     "tenant-1",
	}
}

func (f *fixture) seedToken(t *testing.T, integrationID int64) {
	t.Helper()
	require.NoError(t, persistence.NewTokenRepository(f.db).Save(context.Background(), &org.AccessToken{
		IntegrationID: integrationID,
		Kind:          provider.KindAccounting,
		Token:         "valid-token",
		ExpiresAt:     f.clock.Now().Add(24 * time.Hour),
	}))
}

func (f *fixture) orgSyncWorker() *workers.OrgSyncWorker {
	return workers.NewOrgSyncWorker(f.store, f.slots, f.integrations, f.registry, f.logs, f.captured, f.clock, zerolog.Nop())
}

func (f *fixture) pipelineWorker() *workers.PipelineWorker {
	return workers.NewPipelineWorker(f.integrations, f.registry, f.logs, f.clock, 20*time.Second, zerolog.Nop())
}

func (f *fixture) highPriorityWorker() *workers.HighPriorityWorker {
	return workers.NewHighPriorityWorker(f.tasks, f.integrations, f.registry, f.store, f.logs, nil, f.clock, zerolog.Nop())
}

func TestOrgSyncWorker_FansOutCredentialedIntegrations(t *testing.T) {
	f := newFixture(t, emptyProviderHandler())
	ctx := context.Background()

	orgID := f.seedOrg(t)
	credentialed := f.seedIntegration(t, orgID, accountingCredentials())
	f.seedIntegration(t, orgID, map[string]string{"accounting_client_id": "only-one-key"})

	ok, err := f.slots.Reserve(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.orgSyncWorker().Run(ctx, dispatch.SyncOrganizationArgs{OrgID: orgID}))

	require.Len(t, f.captured.jobs, 1)
	job := f.captured.jobs[0]
	assert.Equal(t, queue.QueueOrgSync, job.Queue)
	assert.Equal(t, dispatch.TaskIntegrationPipeline, job.Name)

	var args dispatch.IntegrationPipelineArgs
	require.NoError(t, json.Unmarshal(job.Payload, &args))
	assert.Equal(t, credentialed, args.IntegrationID)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), args.Since)

	// The dispatch slot came back.
	observed, err := f.slots.Observed(ctx)
	require.NoError(t, err)
	assert.Zero(t, observed)

	event, err := f.logs.LastEvent(ctx, dispatch.TaskSyncOrganization, synctask.EventSuccess)
	require.NoError(t, err)
	require.NotNil(t, event)
}

func TestOrgSyncWorker_LockHeldReleasesSlotWithoutFanOut(t *testing.T) {
	f := newFixture(t, emptyProviderHandler())
	ctx := context.Background()

	orgID := f.seedOrg(t)
	f.seedIntegration(t, orgID, accountingCredentials())

	held, err := f.store.Add(ctx, statestore.OrgSyncLockKey(orgID), statestore.OrgSyncLockValue, statestore.OrgSyncLockTTL)
	require.NoError(t, err)
	require.True(t, held)

	ok, err := f.slots.Reserve(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.orgSyncWorker().Run(ctx, dispatch.SyncOrganizationArgs{OrgID: orgID}))

	assert.Empty(t, f.captured.jobs)
	observed, err := f.slots.Observed(ctx)
	require.NoError(t, err)
	assert.Zero(t, observed)

	event, err := f.logs.LastEvent(ctx, dispatch.TaskSyncOrganization, synctask.EventWarning)
	require.NoError(t, err)
	require.NotNil(t, event)
}

func TestOrgSyncWorker_NoIntegrationsLogsWarning(t *testing.T) {
	f := newFixture(t, emptyProviderHandler())
	ctx := context.Background()

	orgID := f.seedOrg(t)

	require.NoError(t, f.orgSyncWorker().Run(ctx, dispatch.SyncOrganizationArgs{OrgID: orgID}))

	assert.Empty(t, f.captured.jobs)
	event, err := f.logs.LastEvent(ctx, dispatch.TaskSyncOrganization, synctask.EventWarning)
	require.NoError(t, err)
	require.NotNil(t, event)
}

func TestPipelineWorker_RunsModulesAndUpserts(t *testing.T) {
	f := newFixture(t, accountsHandler(t))
	ctx := context.Background()

	orgID := f.seedOrg(t)
	integrationID := f.seedIntegration(t, orgID, accountingCredentials())
	f.seedToken(t, integrationID)

	require.NoError(t, f.pipelineWorker().Run(ctx, dispatch.IntegrationPipelineArgs{
		IntegrationID: integrationID,
		Since:         time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}))

	var count int64
	require.NoError(t, f.db.Model(&persistence.LedgerAccountModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	event, err := f.logs.LastEvent(ctx, dispatch.TaskIntegrationPipeline, synctask.EventSuccess)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, orgID, event.OrgID)
}

func TestPipelineWorker_MissingIntegrationIsNoOp(t *testing.T) {
	f := newFixture(t, emptyProviderHandler())

	require.NoError(t, f.pipelineWorker().Run(context.Background(), dispatch.IntegrationPipelineArgs{
		IntegrationID: 9999,
		Since:         time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}))
}

func TestHighPriorityWorker_RunsTaskToCompletion(t *testing.T) {
	f := newFixture(t, accountsHandler(t))
	ctx := context.Background()

	orgID := f.seedOrg(t)
	integrationID := f.seedIntegration(t, orgID, accountingCredentials())
	f.seedToken(t, integrationID)

	task := &synctask.HighPriorityTask{
		IntegrationID: integrationID,
		Kind:          provider.KindAccounting,
		SinceDate:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.tasks.Create(ctx, task))
	require.NoError(t, f.store.Set(ctx, statestore.ActiveTaskKey, "1", statestore.ActiveTaskTTL))

	require.NoError(t, f.highPriorityWorker().Run(ctx, dispatch.ProcessHighPriorityArgs{TaskID: task.ID}))

	done, err := f.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, done.IsDone())
	require.NotNil(t, done.ProcessedAt)

	_, exists, err := f.store.Get(ctx, statestore.ActiveTaskKey)
	require.NoError(t, err)
	assert.False(t, exists)

	var count int64
	require.NoError(t, f.db.Model(&persistence.LedgerAccountModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	event, err := f.logs.LastEvent(ctx, dispatch.TaskProcessHighPriority, synctask.EventSuccess)
	require.NoError(t, err)
	require.NotNil(t, event)
}

func TestHighPriorityWorker_SelectedModulesSubset(t *testing.T) {
	f := newFixture(t, accountsHandler(t))
	ctx := context.Background()

	orgID := f.seedOrg(t)
	integrationID := f.seedIntegration(t, orgID, accountingCredentials())
	f.seedToken(t, integrationID)

	task := &synctask.HighPriorityTask{
		IntegrationID:   integrationID,
		Kind:            provider.KindAccounting,
		SinceDate:       time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		SelectedModules: []string{"accounts", "no_such_module"},
	}
	require.NoError(t, f.tasks.Create(ctx, task))

	require.NoError(t, f.highPriorityWorker().Run(ctx, dispatch.ProcessHighPriorityArgs{TaskID: task.ID}))

	done, err := f.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, done.IsDone())

	var count int64
	require.NoError(t, f.db.Model(&persistence.LedgerAccountModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestHighPriorityWorker_MissingIntegrationFinalizesTask(t *testing.T) {
	f := newFixture(t, emptyProviderHandler())
	ctx := context.Background()

	task := &synctask.HighPriorityTask{
		IntegrationID: 424242,
		Kind:          provider.KindAccounting,
		SinceDate:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.tasks.Create(ctx, task))

	require.NoError(t, f.highPriorityWorker().Run(ctx, dispatch.ProcessHighPriorityArgs{TaskID: task.ID}))

	done, err := f.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, done.IsDone())
}

func TestHighPriorityWorker_MissingTaskClearsMarker(t *testing.T) {
	f := newFixture(t, emptyProviderHandler())
	ctx := context.Background()

	require.NoError(t, f.store.Set(ctx, statestore.ActiveTaskKey, "31337", statestore.ActiveTaskTTL))

	require.NoError(t, f.highPriorityWorker().Run(ctx, dispatch.ProcessHighPriorityArgs{TaskID: 31337}))

	_, exists, err := f.store.Get(ctx, statestore.ActiveTaskKey)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDailySyncWorker_CreatesPreviousDayTasks(t *testing.T) {
	f := newFixture(t, emptyProviderHandler())
	ctx := context.Background()

	orgID := f.seedOrg(t)
	f.seedIntegration(t, orgID, accountingCredentials())
	f.seedIntegration(t, orgID, map[string]string{}) // no credentials

	worker := workers.NewDailySyncWorker(f.integrations, f.tasks, f.registry, f.logs, f.clock, zerolog.Nop())
	require.NoError(t, worker.Run(ctx))

	missed, err := f.tasks.QueryMissed(ctx, f.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, missed, 1)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), missed[0].SinceDate.UTC())
	require.NotNil(t, missed[0].UntilDate)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), missed[0].UntilDate.UTC())
}

func TestShutdownGuard_WaitsForActiveTask(t *testing.T) {
	guard := workers.NewShutdownGuard(true)
	guard.Enter()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, guard.Wait(ctx))

	guard.Exit()
	assert.NoError(t, guard.Wait(context.Background()))
}

func TestShutdownGuard_DisabledNeverBlocks(t *testing.T) {
	guard := workers.NewShutdownGuard(false)
	guard.Enter()
	assert.NoError(t, guard.Wait(context.Background()))
	guard.Exit()
}
