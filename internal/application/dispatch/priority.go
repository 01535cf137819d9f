package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/adapters/statestore"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/domain/synctask"
	"github.com/finlake/finsync/internal/queue"
)

// HighPriorityDispatcher serializes user-initiated imports: at most one
// process_high_priority job exists at a time, marked by the active-task key.
type HighPriorityDispatcher struct {
	store   statestore.Store
	tasks   synctask.TaskRepository
	logs    synctask.LogRepository
	enqueue queue.Enqueuer
	clock   shared.Clock
	logger  zerolog.Logger
}

// NewHighPriorityDispatcher creates the dispatcher.
func NewHighPriorityDispatcher(store statestore.Store, tasks synctask.TaskRepository, logs synctask.LogRepository, enqueue queue.Enqueuer, clock shared.Clock, logger zerolog.Logger) *HighPriorityDispatcher {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &HighPriorityDispatcher{
		store:   store,
		tasks:   tasks,
		logs:    logs,
		enqueue: enqueue,
		clock:   clock,
		logger:  logger.With().Str("component", "hp_dispatcher").Logger(),
	}
}

// Tick claims and dispatches at most one pending task. The active-task marker
// keeps the lane serial; only the worker's completion (or the state monitor)
// clears it.
func (d *HighPriorityDispatcher) Tick(ctx context.Context) error {
	acquired, err := d.store.Add(ctx, statestore.HighPriorityDispatcherLockKey, statestore.LockValue, statestore.DispatcherLockTTL)
	if err != nil {
		d.logger.Warn().Err(err).Msg("state store unavailable, skipping tick")
		return nil
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := d.store.Delete(context.WithoutCancel(ctx), statestore.HighPriorityDispatcherLockKey); err != nil {
			d.logger.Warn().Err(err).Msg("failed to release high-priority dispatcher lock")
		}
	}()

	_, active, err := d.store.Get(ctx, statestore.ActiveTaskKey)
	if err != nil {
		return fmt.Errorf("failed to read active task marker: %w", err)
	}
	if active {
		return nil
	}

	task, err := d.tasks.ClaimNextPending(ctx, d.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to claim pending task: %w", err)
	}
	if task == nil {
		return nil
	}

	if err := d.store.Set(ctx, statestore.ActiveTaskKey, strconv.FormatInt(task.ID, 10), statestore.ActiveTaskTTL); err != nil {
		return fmt.Errorf("failed to set active task marker: %w", err)
	}

	job, err := NewProcessHighPriorityJob(task.ID)
	if err == nil {
		err = d.enqueue.Enqueue(ctx, job)
	}
	if err != nil {
		// The claim stands; the missed-task monitors will re-dispatch. Clear
		// the marker so the lane is not blocked by a job that never existed.
		if delErr := d.store.Delete(ctx, statestore.ActiveTaskKey); delErr != nil {
			d.logger.Warn().Err(delErr).Msg("failed to clear active task marker after enqueue failure")
		}
		return fmt.Errorf("failed to enqueue high-priority task %d: %w", task.ID, err)
	}

	d.logger.Info().Int64("task_id", task.ID).Str("provider", task.Kind.String()).Msg("dispatched high-priority task")
	if err := d.logs.Append(ctx, &synctask.LogEvent{
		TaskName: TaskHighPriorityDispatcher,
		Provider: task.Kind,
		Status:   synctask.EventDispatched,
		Detail:   fmt.Sprintf("task %d", task.ID),
	}); err != nil {
		d.logger.Warn().Err(err).Msg("failed to log dispatch event")
	}
	return nil
}
