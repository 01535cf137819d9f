package monitors

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/application/dispatch"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/domain/synctask"
)

// StuckSemaphoreMonitor resets the dispatch counter when it sits at the
// ceiling while no organization sync has completed for a long window. That
// combination means slots leaked, usually because a worker host died between
// increment and release.
type StuckSemaphoreMonitor struct {
	slots  *dispatch.Slots
	logs   synctask.LogRepository
	clock  shared.Clock
	window time.Duration
	logger zerolog.Logger
}

// NewStuckSemaphoreMonitor creates the monitor.
func NewStuckSemaphoreMonitor(slots *dispatch.Slots, logs synctask.LogRepository, clock shared.Clock, window time.Duration, logger zerolog.Logger) *StuckSemaphoreMonitor {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &StuckSemaphoreMonitor{
		slots:  slots,
		logs:   logs,
		clock:  clock,
		window: window,
		logger: logger.With().Str("component", "stuck_semaphore_monitor").Logger(),
	}
}

// Run checks the counter and resets it when it is provably stuck.
func (m *StuckSemaphoreMonitor) Run(ctx context.Context) error {
	observed, err := m.slots.Observed(ctx)
	if err != nil {
		return fmt.Errorf("failed to read dispatch counter: %w", err)
	}
	if observed < m.slots.Max() {
		return nil
	}

	// Any sync_organization completion inside the window proves slots are
	// still cycling; the counter is just busy, not stuck.
	last, err := m.logs.LastEvent(ctx, dispatch.TaskSyncOrganization, synctask.EventSuccess, synctask.EventWarning, synctask.EventFailed)
	if err != nil {
		return fmt.Errorf("failed to read last sync event: %w", err)
	}
	if last != nil && last.Timestamp.After(m.clock.Now().Add(-m.window)) {
		return nil
	}

	if err := m.slots.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset dispatch counter: %w", err)
	}
	m.logger.Warn().Int("observed", observed).Msg("dispatch counter stuck at ceiling, reset to zero")

	event := &synctask.LogEvent{
		TaskName: dispatch.TaskMonitorStuckSemaphores,
		Status:   synctask.EventWarning,
		Detail:   fmt.Sprintf("counter stuck at %d, reset", observed),
	}
	if err := m.logs.Append(ctx, event); err != nil {
		m.logger.Warn().Err(err).Msg("failed to append monitor event")
	}
	return nil
}
