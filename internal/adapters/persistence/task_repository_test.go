package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finlake/finsync/internal/adapters/persistence"
	"github.com/finlake/finsync/internal/domain/provider"
	"github.com/finlake/finsync/internal/domain/synctask"
	"github.com/finlake/finsync/test/helpers"
)

func newTask(integrationID int64, kind provider.Kind, createdAt time.Time) *synctask.HighPriorityTask {
	return &synctask.HighPriorityTask{
		IntegrationID: integrationID,
		Kind:          kind,
		SinceDate:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:     createdAt,
	}
}

func TestTaskRepository_CreateAndFind(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewTaskRepository(db)
	ctx := context.Background()

	task := newTask(7, provider.KindAccounting, time.Now().UTC())
	task.SelectedModules = []string{"invoices", "payments"}

	require.NoError(t, repo.Create(ctx, task))
	require.NotZero(t, task.ID)

	found, err := repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), found.IntegrationID)
	assert.Equal(t, provider.KindAccounting, found.Kind)
	assert.Equal(t, []string{"invoices", "payments"}, found.SelectedModules)
	assert.True(t, found.IsPending())
}

func TestTaskRepository_ListRecent_NewestFirst(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewTaskRepository(db)
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	for i := int64(0); i < 3; i++ {
		require.NoError(t, repo.Create(ctx, newTask(i+1, provider.KindAccounting, base.Add(time.Duration(i)*time.Minute))))
	}

	tasks, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, int64(3), tasks[0].IntegrationID)
	assert.Equal(t, int64(2), tasks[1].IntegrationID)
}

func TestTaskRepository_ClaimNextPending_OldestFirst(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewTaskRepository(db)
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	older := newTask(1, provider.KindERP, base)
	newer := newTask(2, provider.KindPOS, base.Add(time.Minute))
	require.NoError(t, repo.Create(ctx, newer))
	require.NoError(t, repo.Create(ctx, older))

	now := base.Add(time.Hour)
	claimed, err := repo.ClaimNextPending(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, older.ID, claimed.ID)
	assert.True(t, claimed.InProgress)
	require.NotNil(t, claimed.InProgressSince)

	// Second claim gets the newer task, third finds an empty backlog.
	claimed2, err := repo.ClaimNextPending(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed2)
	assert.Equal(t, newer.ID, claimed2.ID)

	claimed3, err := repo.ClaimNextPending(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, claimed3)
}

func TestTaskRepository_MarkInProgress_CompareAndSet(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewTaskRepository(db)
	ctx := context.Background()

	task := newTask(3, provider.KindAccounting, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, task))

	now := time.Now().UTC()
	won, err := repo.MarkInProgress(ctx, task.ID, now)
	require.NoError(t, err)
	assert.True(t, won)

	// A second claimant loses.
	won, err = repo.MarkInProgress(ctx, task.ID, now)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestTaskRepository_MarkInProgress_RefusesProcessed(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewTaskRepository(db)
	ctx := context.Background()

	task := newTask(3, provider.KindAccounting, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, task))
	require.NoError(t, repo.MarkDone(ctx, task.ID, time.Now().UTC()))

	won, err := repo.MarkInProgress(ctx, task.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, won)
}

func TestTaskRepository_MarkDone_Terminal(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewTaskRepository(db)
	ctx := context.Background()

	task := newTask(4, provider.KindERP, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, task))

	_, err := repo.MarkInProgress(ctx, task.ID, time.Now().UTC())
	require.NoError(t, err)

	done := time.Now().UTC()
	require.NoError(t, repo.MarkDone(ctx, task.ID, done))

	found, err := repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, found.IsDone())
	assert.False(t, found.InProgress)
	require.NotNil(t, found.ProcessedAt)
}

func TestTaskRepository_QueryMissed(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewTaskRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	old := newTask(1, provider.KindAccounting, now.Add(-10*time.Minute))
	fresh := newTask(2, provider.KindAccounting, now.Add(-10*time.Second))
	running := newTask(3, provider.KindAccounting, now.Add(-10*time.Minute))
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, fresh))
	require.NoError(t, repo.Create(ctx, running))
	_, err := repo.MarkInProgress(ctx, running.ID, now)
	require.NoError(t, err)

	missed, err := repo.QueryMissed(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, missed, 1)
	assert.Equal(t, old.ID, missed[0].ID)
}

func TestTaskRepository_QueryStuck(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewTaskRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	stuck := newTask(1, provider.KindPOS, now.Add(-2*time.Hour))
	healthy := newTask(2, provider.KindPOS, now.Add(-2*time.Hour))
	require.NoError(t, repo.Create(ctx, stuck))
	require.NoError(t, repo.Create(ctx, healthy))

	_, err := repo.MarkInProgress(ctx, stuck.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = repo.MarkInProgress(ctx, healthy.ID, now.Add(-time.Minute))
	require.NoError(t, err)

	found, err := repo.QueryStuck(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stuck.ID, found[0].ID)

	// Restamping in_progress_since takes the task out of the stuck set.
	require.NoError(t, repo.TouchInProgressSince(ctx, stuck.ID, now))
	found, err = repo.QueryStuck(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, found)
}
