package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/adapters/statestore"
	"github.com/finlake/finsync/internal/application/dispatch"
	"github.com/finlake/finsync/internal/application/registry"
	"github.com/finlake/finsync/internal/domain/org"
	"github.com/finlake/finsync/internal/domain/provider"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/domain/synctask"
)

// HighPriorityWorker handles process_high_priority jobs: one user- or
// schedule-initiated import, run module by module. Module failures are
// recorded and skipped; the task always reaches its terminal state so the
// serial lane unblocks.
type HighPriorityWorker struct {
	tasks        synctask.TaskRepository
	integrations org.IntegrationRepository
	registry     *registry.Registry
	store        statestore.Store
	logs         synctask.LogRepository
	guard        *ShutdownGuard
	clock        shared.Clock
	logger       zerolog.Logger
}

// NewHighPriorityWorker creates the worker.
func NewHighPriorityWorker(tasks synctask.TaskRepository, integrations org.IntegrationRepository, reg *registry.Registry, store statestore.Store, logs synctask.LogRepository, guard *ShutdownGuard, clock shared.Clock, logger zerolog.Logger) *HighPriorityWorker {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	if guard == nil {
		guard = NewShutdownGuard(false)
	}
	return &HighPriorityWorker{
		tasks:        tasks,
		integrations: integrations,
		registry:     reg,
		store:        store,
		logs:         logs,
		guard:        guard,
		clock:        clock,
		logger:       logger.With().Str("component", "hp_worker").Logger(),
	}
}

// Run executes one process_high_priority job. The shutdown guard keeps a
// rolling deploy from killing the import mid-write.
func (w *HighPriorityWorker) Run(ctx context.Context, args dispatch.ProcessHighPriorityArgs) error {
	w.guard.Enter()
	defer w.guard.Exit()

	logger := w.logger.With().Int64("task_id", args.TaskID).Logger()

	task, err := w.tasks.FindByID(ctx, args.TaskID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			logger.Warn().Msg("task row missing, clearing marker")
			w.clearMarker(ctx, logger)
			return nil
		}
		// Transient store failures propagate so the job's retry policy
		// re-runs it.
		return fmt.Errorf("failed to load task %d: %w", args.TaskID, err)
	}
	if task.IsDone() {
		logger.Info().Msg("task already processed, clearing marker")
		w.clearMarker(ctx, logger)
		return nil
	}

	// The dispatcher's claim usually set in_progress already; a monitor
	// re-dispatch arrives pending. Either way the stamp is refreshed so the
	// stuck-task monitor starts its clock from now.
	if task.IsPending() {
		won, err := w.tasks.MarkInProgress(ctx, task.ID, w.clock.Now())
		if err != nil {
			return fmt.Errorf("failed to mark task %d in progress: %w", task.ID, err)
		}
		if !won {
			logger.Info().Msg("task claimed by another worker, exiting")
			return nil
		}
	} else {
		if err := w.tasks.TouchInProgressSince(ctx, task.ID, w.clock.Now()); err != nil {
			logger.Warn().Err(err).Msg("failed to restamp task")
		}
	}

	integration, err := w.integrations.FindByID(ctx, task.IntegrationID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			logger.Warn().Int64("integration_id", task.IntegrationID).Msg("integration deleted, finalizing task")
			w.finalize(ctx, logger, task, synctask.EventWarning, "integration deleted")
			return nil
		}
		return fmt.Errorf("failed to load integration %d: %w", task.IntegrationID, err)
	}

	importer, err := w.registry.Importer(*integration, task.EffectiveSince(w.clock.Now()), untilOrZero(task), w.heartbeat(task.ID))
	if err != nil {
		logger.Error().Err(err).Msg("no pipeline for task")
		w.finalize(ctx, logger, task, synctask.EventFailed, err.Error())
		return nil
	}

	modules, missing := selectModules(importer, task.SelectedModules)
	for _, name := range missing {
		logger.Warn().Str("module", name).Msg("unknown module selected, skipping")
	}

	total := 0
	failed := 0
	for _, module := range modules {
		n, err := module.Run(ctx)
		total += n
		if err != nil {
			failed++
			logger.Error().Err(err).Str("module", module.Name).Msg("module failed, continuing")
		}
	}

	status := synctask.EventSuccess
	if failed > 0 {
		status = synctask.EventFailed
	}
	w.finalize(ctx, logger, task, status, fmt.Sprintf("%d rows, %d of %d modules failed", total, failed, len(modules)))
	return nil
}

// finalize moves the task to its terminal state, clears the serial-lane
// marker and records the outcome. Runs on every path that claimed the task.
func (w *HighPriorityWorker) finalize(ctx context.Context, logger zerolog.Logger, task *synctask.HighPriorityTask, status synctask.EventStatus, detail string) {
	ctx = context.WithoutCancel(ctx)
	if err := w.tasks.MarkDone(ctx, task.ID, w.clock.Now()); err != nil {
		logger.Error().Err(err).Msg("failed to mark task done")
	}
	w.clearMarker(ctx, logger)
	event := &synctask.LogEvent{
		TaskName: dispatch.TaskProcessHighPriority,
		Provider: task.Kind,
		Status:   status,
		Detail:   detail,
	}
	if err := w.logs.Append(ctx, event); err != nil {
		logger.Warn().Err(err).Msg("failed to append sync log event")
	}
}

func (w *HighPriorityWorker) clearMarker(ctx context.Context, logger zerolog.Logger) {
	if err := w.store.Delete(context.WithoutCancel(ctx), statestore.ActiveTaskKey); err != nil {
		logger.Warn().Err(err).Msg("failed to clear active task marker")
	}
}

// heartbeat restamps in_progress_since between batches so the stuck-task
// monitor can tell a slow import from a hung one.
func (w *HighPriorityWorker) heartbeat(taskID int64) func(ctx context.Context) {
	return func(ctx context.Context) {
		if err := w.tasks.TouchInProgressSince(ctx, taskID, w.clock.Now()); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", taskID).Msg("heartbeat failed")
		}
	}
}

// selectModules resolves the task's module selection against the importer's
// table. An empty selection means the full set in declared order.
func selectModules(imp provider.Importer, selected []string) ([]provider.Module, []string) {
	if len(selected) == 0 {
		return imp.Modules(), nil
	}
	var modules []provider.Module
	var missing []string
	for _, name := range selected {
		module, ok := provider.FindModule(imp, name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		modules = append(modules, module)
	}
	return modules, missing
}

func untilOrZero(task *synctask.HighPriorityTask) time.Time {
	if task.UntilDate == nil {
		return time.Time{}
	}
	return *task.UntilDate
}
