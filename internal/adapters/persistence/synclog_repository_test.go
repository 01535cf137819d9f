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

func TestLogRepository_AppendAndRecent(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewLogRepository(db)
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	first := &synctask.LogEvent{
		TaskName:  "sync_organization",
		Provider:  provider.KindAccounting,
		OrgID:     1,
		Status:    synctask.EventStarted,
		Detail:    "org 1",
		Timestamp: base,
	}
	second := &synctask.LogEvent{
		TaskName:  "sync_organization",
		Provider:  provider.KindAccounting,
		OrgID:     1,
		Status:    synctask.EventSuccess,
		Detail:    "org 1 done",
		Timestamp: base.Add(time.Minute),
	}
	require.NoError(t, repo.Append(ctx, first))
	require.NoError(t, repo.Append(ctx, second))

	events, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, synctask.EventSuccess, events[0].Status)
	assert.Equal(t, synctask.EventStarted, events[1].Status)
}

func TestLogRepository_DedupsIdenticalEventsInWindow(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewLogRepository(db)
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		event := &synctask.LogEvent{
			TaskName:  "missed_task_monitor",
			Status:    synctask.EventDetected,
			Detail:    "task 42 missed",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.Append(ctx, event))
	}

	events, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	// Outside the window the same event is recorded again.
	late := &synctask.LogEvent{
		TaskName:  "missed_task_monitor",
		Status:    synctask.EventDetected,
		Detail:    "task 42 missed",
		Timestamp: base.Add(2 * time.Minute),
	}
	require.NoError(t, repo.Append(ctx, late))

	events, err = repo.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestLogRepository_LastEvent(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewLogRepository(db)
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	none, err := repo.LastEvent(ctx, "daily_previous_day_sync", synctask.EventSuccess)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, repo.Append(ctx, &synctask.LogEvent{
		TaskName:  "daily_previous_day_sync",
		Status:    synctask.EventStarted,
		Detail:    "run 1",
		Timestamp: base,
	}))
	require.NoError(t, repo.Append(ctx, &synctask.LogEvent{
		TaskName:  "daily_previous_day_sync",
		Status:    synctask.EventSuccess,
		Detail:    "run 1 done",
		Timestamp: base.Add(time.Hour),
	}))

	last, err := repo.LastEvent(ctx, "daily_previous_day_sync", synctask.EventSuccess, synctask.EventFailed)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, synctask.EventSuccess, last.Status)
	assert.Equal(t, "run 1 done", last.Detail)
}
