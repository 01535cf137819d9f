// Package monitors holds the periodic self-healing jobs. Every monitor is
// idempotent: running one early or twice produces duplicate detection logs at
// worst, never duplicate work.
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

// MissedTaskMonitor re-dispatches pending tasks the dispatcher never picked
// up, typically because its tick died between claim and enqueue.
type MissedTaskMonitor struct {
	tasks   synctask.TaskRepository
	logs    synctask.LogRepository
	enqueue queue.Enqueuer
	clock   shared.Clock
	age     time.Duration
	logger  zerolog.Logger
}

// NewMissedTaskMonitor creates the monitor. age is how old a pending task must
// be before it counts as missed.
func NewMissedTaskMonitor(tasks synctask.TaskRepository, logs synctask.LogRepository, enqueue queue.Enqueuer, clock shared.Clock, age time.Duration, logger zerolog.Logger) *MissedTaskMonitor {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &MissedTaskMonitor{
		tasks:   tasks,
		logs:    logs,
		enqueue: enqueue,
		clock:   clock,
		age:     age,
		logger:  logger.With().Str("component", "missed_task_monitor").Logger(),
	}
}

// Run finds and re-dispatches missed tasks.
func (m *MissedTaskMonitor) Run(ctx context.Context) error {
	now := m.clock.Now()
	missed, err := m.tasks.QueryMissed(ctx, now.Add(-m.age))
	if err != nil {
		return fmt.Errorf("failed to query missed tasks: %w", err)
	}
	if len(missed) == 0 {
		return nil
	}

	m.appendEvent(ctx, synctask.EventDetected, fmt.Sprintf("%d missed tasks", len(missed)))

	dispatched := 0
	for i := range missed {
		task := &missed[i]
		if err := m.tasks.TouchInProgressSince(ctx, task.ID, now); err != nil {
			m.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("failed to restamp missed task")
		}
		job, err := dispatch.NewProcessHighPriorityJob(task.ID)
		if err == nil {
			err = m.enqueue.Enqueue(ctx, job)
		}
		if err != nil {
			m.logger.Error().Err(err).Int64("task_id", task.ID).Msg("failed to re-dispatch missed task")
			continue
		}
		dispatched++
	}

	m.appendEvent(ctx, synctask.EventDispatched, fmt.Sprintf("%d re-dispatched", dispatched))
	m.logger.Info().Int("missed", len(missed)).Int("dispatched", dispatched).Msg("missed tasks re-dispatched")
	return nil
}

func (m *MissedTaskMonitor) appendEvent(ctx context.Context, status synctask.EventStatus, detail string) {
	event := &synctask.LogEvent{
		TaskName: dispatch.TaskMonitorMissedTasks,
		Status:   status,
		Detail:   detail,
	}
	if err := m.logs.Append(ctx, event); err != nil {
		m.logger.Warn().Err(err).Msg("failed to append monitor event")
	}
}
