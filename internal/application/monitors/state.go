package monitors

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/adapters/statestore"
	"github.com/finlake/finsync/internal/application/dispatch"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/domain/synctask"
)

// StateMonitor reconciles the active-task marker against task store truth.
// A marker pointing at a done or deleted task blocks the serial lane until
// its three-day TTL; this monitor clears it within minutes instead.
type StateMonitor struct {
	store  statestore.Store
	tasks  synctask.TaskRepository
	logs   synctask.LogRepository
	logger zerolog.Logger
}

// NewStateMonitor creates the monitor.
func NewStateMonitor(store statestore.Store, tasks synctask.TaskRepository, logs synctask.LogRepository, logger zerolog.Logger) *StateMonitor {
	return &StateMonitor{
		store:  store,
		tasks:  tasks,
		logs:   logs,
		logger: logger.With().Str("component", "state_monitor").Logger(),
	}
}

// Run clears the marker when it no longer references a live task.
func (m *StateMonitor) Run(ctx context.Context) error {
	raw, exists, err := m.store.Get(ctx, statestore.ActiveTaskKey)
	if err != nil {
		return fmt.Errorf("failed to read active task marker: %w", err)
	}
	if !exists {
		return nil
	}

	taskID, parseErr := strconv.ParseInt(raw, 10, 64)
	if parseErr != nil {
		m.logger.Warn().Str("raw", raw).Msg("active task marker is not a task id, clearing")
		return m.clear(ctx, fmt.Sprintf("cleared corrupt marker %q", raw))
	}

	task, err := m.tasks.FindByID(ctx, taskID)
	if errors.Is(err, shared.ErrNotFound) {
		m.logger.Warn().Int64("task_id", taskID).Msg("active task marker references missing task, clearing")
		return m.clear(ctx, fmt.Sprintf("task %d missing", taskID))
	}
	if err != nil {
		return fmt.Errorf("failed to load task %d: %w", taskID, err)
	}
	if !task.IsDone() {
		return nil
	}

	m.logger.Info().Int64("task_id", taskID).Msg("active task marker references finished task, clearing")
	return m.clear(ctx, fmt.Sprintf("task %d already done", taskID))
}

func (m *StateMonitor) clear(ctx context.Context, detail string) error {
	if err := m.store.Delete(ctx, statestore.ActiveTaskKey); err != nil {
		return fmt.Errorf("failed to clear active task marker: %w", err)
	}
	event := &synctask.LogEvent{
		TaskName: dispatch.TaskComprehensiveMonitor,
		Status:   synctask.EventWarning,
		Detail:   detail,
	}
	if err := m.logs.Append(ctx, event); err != nil {
		m.logger.Warn().Err(err).Msg("failed to append monitor event")
	}
	return nil
}
