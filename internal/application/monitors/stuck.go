package monitors

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/application/dispatch"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/domain/synctask"
	"github.com/finlake/finsync/internal/queue"
)

// StuckTaskMonitor re-dispatches tasks marked in progress whose heartbeat
// stamp went quiet. A live import restamps in_progress_since between batches,
// so a stale stamp means the executing worker is gone.
type StuckTaskMonitor struct {
	tasks     synctask.TaskRepository
	logs      synctask.LogRepository
	enqueue   queue.Enqueuer
	clock     shared.Clock
	threshold time.Duration
	logger    zerolog.Logger
}

// NewStuckTaskMonitor creates the monitor. threshold is how long the stamp may
// be stale before the task counts as abandoned.
func NewStuckTaskMonitor(tasks synctask.TaskRepository, logs synctask.LogRepository, enqueue queue.Enqueuer, clock shared.Clock, threshold time.Duration, logger zerolog.Logger) *StuckTaskMonitor {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &StuckTaskMonitor{
		tasks:     tasks,
		logs:      logs,
		enqueue:   enqueue,
		clock:     clock,
		threshold: threshold,
		logger:    logger.With().Str("component", "stuck_task_monitor").Logger(),
	}
}

// Run finds and re-dispatches abandoned in-progress tasks.
func (m *StuckTaskMonitor) Run(ctx context.Context) error {
	now := m.clock.Now()
	stuck, err := m.tasks.QueryStuck(ctx, now.Add(-m.threshold))
	if err != nil {
		return fmt.Errorf("failed to query stuck tasks: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}

	m.appendEvent(ctx, synctask.EventDetected, fmt.Sprintf("%d stuck tasks", len(stuck)))

	dispatched := 0
	for i := range stuck {
		task := &stuck[i]
		// Restamp first so the next monitor pass does not double-dispatch
		// while this re-run is still queued.
		if err := m.tasks.TouchInProgressSince(ctx, task.ID, now); err != nil {
			m.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("failed to restamp stuck task")
		}
		job, err := dispatch.NewProcessHighPriorityJob(task.ID)
		if err == nil {
			err = m.enqueue.Enqueue(ctx, job)
		}
		if err != nil {
			m.logger.Error().Err(err).Int64("task_id", task.ID).Msg("failed to re-dispatch stuck task")
			continue
		}
		dispatched++
	}

	m.appendEvent(ctx, synctask.EventDispatched, fmt.Sprintf("%d re-dispatched", dispatched))
	m.logger.Warn().Int("stuck", len(stuck)).Int("dispatched", dispatched).Msg("stuck tasks re-dispatched")
	return nil
}

func (m *StuckTaskMonitor) appendEvent(ctx context.Context, status synctask.EventStatus, detail string) {
	event := &synctask.LogEvent{
		TaskName: dispatch.TaskMonitorInProgress,
		Status:   status,
		Detail:   detail,
	}
	if err := m.logs.Append(ctx, event); err != nil {
		m.logger.Warn().Err(err).Msg("failed to append monitor event")
	}
}
