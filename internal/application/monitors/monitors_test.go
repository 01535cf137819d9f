package monitors_test

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/finlake/finsync/internal/adapters/persistence"
	"github.com/finlake/finsync/internal/adapters/statestore"
	"github.com/finlake/finsync/internal/application/dispatch"
	"github.com/finlake/finsync/internal/application/monitors"
	"github.com/finlake/finsync/internal/domain/provider"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/domain/synctask"
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

func (q *captureQueue) taskIDs(t *testing.T) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(q.jobs))
	for _, job := range q.jobs {
		var args dispatch.ProcessHighPriorityArgs
		require.NoError(t, json.Unmarshal(job.Payload, &args))
		ids = append(ids, args.TaskID)
	}
	return ids
}

type monitorFixture struct {
	db       *gorm.DB
	store    *statestore.RedisStore
	clock    *shared.MockClock
	captured *captureQueue
	tasks    *persistence.GormTaskRepository
	logs     *persistence.GormLogRepository
	slots    *dispatch.Slots
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	db := helpers.NewTestDB(t)
	store, _ := helpers.NewTestStore(t)
	return &monitorFixture{
		db:       db,
		store:    store,
		clock:    shared.NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		captured: &captureQueue{},
		tasks:    persistence.NewTaskRepository(db),
		logs:     persistence.NewLogRepository(db),
		slots:    dispatch.NewSlots(store, 3, time.Hour, zerolog.Nop()),
	}
}

func (f *monitorFixture) seedTask(t *testing.T, createdAt time.Time) *synctask.HighPriorityTask {
	t.Helper()
	task := &synctask.HighPriorityTask{
		IntegrationID: 1,
		Kind:          provider.KindAccounting,
		SinceDate:     createdAt.AddDate(0, -1, 0),
		CreatedAt:     createdAt,
	}
	require.NoError(t, f.tasks.Create(context.Background(), task))
	return task
}

func TestMissedTaskMonitor_RedispatchesOldPending(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	monitor := monitors.NewMissedTaskMonitor(f.tasks, f.logs, f.captured, f.clock, time.Minute, zerolog.Nop())

	missed := f.seedTask(t, f.clock.Now().Add(-2*time.Minute))
	f.seedTask(t, f.clock.Now().Add(-10*time.Second)) // too fresh

	require.NoError(t, monitor.Run(ctx))

	assert.Equal(t, []int64{missed.ID}, f.captured.taskIDs(t))

	detected, err := f.logs.LastEvent(ctx, dispatch.TaskMonitorMissedTasks, synctask.EventDetected)
	require.NoError(t, err)
	require.NotNil(t, detected)
	dispatched, err := f.logs.LastEvent(ctx, dispatch.TaskMonitorMissedTasks, synctask.EventDispatched)
	require.NoError(t, err)
	require.NotNil(t, dispatched)

	// The task is still pending; only the stamp moved.
	reloaded, err := f.tasks.FindByID(ctx, missed.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.IsPending())
	require.NotNil(t, reloaded.InProgressSince)
}

func TestMissedTaskMonitor_NothingMissedIsSilent(t *testing.T) {
	f := newMonitorFixture(t)
	monitor := monitors.NewMissedTaskMonitor(f.tasks, f.logs, f.captured, f.clock, time.Minute, zerolog.Nop())

	f.seedTask(t, f.clock.Now().Add(-10*time.Second))

	require.NoError(t, monitor.Run(context.Background()))

	assert.Empty(t, f.captured.jobs)
	event, err := f.logs.LastEvent(context.Background(), dispatch.TaskMonitorMissedTasks)
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestStuckSemaphoreMonitor_ResetsIdleCeiling(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	monitor := monitors.NewStuckSemaphoreMonitor(f.slots, f.logs, f.clock, 15*time.Hour, zerolog.Nop())

	for i := 0; i < 3; i++ {
		ok, err := f.slots.Reserve(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// No sync_organization completions on record at all.
	require.NoError(t, monitor.Run(ctx))

	observed, err := f.slots.Observed(ctx)
	require.NoError(t, err)
	assert.Zero(t, observed)

	event, err := f.logs.LastEvent(ctx, dispatch.TaskMonitorStuckSemaphores, synctask.EventWarning)
	require.NoError(t, err)
	require.NotNil(t, event)
}

func TestStuckSemaphoreMonitor_RecentCompletionMeansBusy(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	monitor := monitors.NewStuckSemaphoreMonitor(f.slots, f.logs, f.clock, 15*time.Hour, zerolog.Nop())

	for i := 0; i < 3; i++ {
		ok, err := f.slots.Reserve(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, f.logs.Append(ctx, &synctask.LogEvent{
		TaskName: dispatch.TaskSyncOrganization,
		Status:   synctask.EventSuccess,
		Detail:   "dispatched 2 pipelines",
	}))

	require.NoError(t, monitor.Run(ctx))

	observed, err := f.slots.Observed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, observed)
}

func TestStuckSemaphoreMonitor_BelowCeilingIsNoOp(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	monitor := monitors.NewStuckSemaphoreMonitor(f.slots, f.logs, f.clock, 15*time.Hour, zerolog.Nop())

	ok, err := f.slots.Reserve(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, monitor.Run(ctx))

	observed, err := f.slots.Observed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, observed)
}

func TestStuckTaskMonitor_RedispatchesQuietHeartbeat(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	monitor := monitors.NewStuckTaskMonitor(f.tasks, f.logs, f.captured, f.clock, 5*time.Minute, zerolog.Nop())

	stuck := f.seedTask(t, f.clock.Now().Add(-time.Hour))
	claimed, err := f.tasks.ClaimNextPending(ctx, f.clock.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	require.Equal(t, stuck.ID, claimed.ID)

	live := f.seedTask(t, f.clock.Now().Add(-time.Hour))
	_, err = f.tasks.ClaimNextPending(ctx, f.clock.Now())
	require.NoError(t, err)

	require.NoError(t, monitor.Run(ctx))

	assert.Equal(t, []int64{stuck.ID}, f.captured.taskIDs(t))

	// The restamp keeps the next pass from dispatching it again.
	f.captured.jobs = nil
	require.NoError(t, monitor.Run(ctx))
	assert.Empty(t, f.captured.jobs)

	reloaded, err := f.tasks.FindByID(ctx, live.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.IsRunning())
}

func TestStateMonitor_ClearsMarkerForDoneTask(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	monitor := monitors.NewStateMonitor(f.store, f.tasks, f.logs, zerolog.Nop())

	task := f.seedTask(t, f.clock.Now().Add(-time.Hour))
	require.NoError(t, f.tasks.MarkDone(ctx, task.ID, f.clock.Now()))
	require.NoError(t, f.store.Set(ctx, statestore.ActiveTaskKey, strconv.FormatInt(task.ID, 10), statestore.ActiveTaskTTL))

	require.NoError(t, monitor.Run(ctx))

	_, exists, err := f.store.Get(ctx, statestore.ActiveTaskKey)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStateMonitor_ClearsMarkerForMissingTask(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	monitor := monitors.NewStateMonitor(f.store, f.tasks, f.logs, zerolog.Nop())

	require.NoError(t, f.store.Set(ctx, statestore.ActiveTaskKey, "424242", statestore.ActiveTaskTTL))

	require.NoError(t, monitor.Run(ctx))

	_, exists, err := f.store.Get(ctx, statestore.ActiveTaskKey)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStateMonitor_LeavesRunningTaskAlone(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	monitor := monitors.NewStateMonitor(f.store, f.tasks, f.logs, zerolog.Nop())

	f.seedTask(t, f.clock.Now().Add(-time.Hour))
	claimed, err := f.tasks.ClaimNextPending(ctx, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.store.Set(ctx, statestore.ActiveTaskKey, strconv.FormatInt(claimed.ID, 10), statestore.ActiveTaskTTL))

	require.NoError(t, monitor.Run(ctx))

	marker, exists, err := f.store.Get(ctx, statestore.ActiveTaskKey)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, strconv.FormatInt(claimed.ID, 10), marker)
}

func TestStateMonitor_NoMarkerIsNoOp(t *testing.T) {
	f := newMonitorFixture(t)
	monitor := monitors.NewStateMonitor(f.store, f.tasks, f.logs, zerolog.Nop())
	require.NoError(t, monitor.Run(context.Background()))
}
