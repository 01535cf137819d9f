// Package app wires the sync daemon: repositories, provider clients, the
// queue runtime, dispatchers, workers, monitors and the schedule table.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/finlake/finsync/internal/adapters/metrics"
	"github.com/finlake/finsync/internal/adapters/persistence"
	accountingapi "github.com/finlake/finsync/internal/adapters/providers/accounting"
	erpapi "github.com/finlake/finsync/internal/adapters/providers/erp"
	posapi "github.com/finlake/finsync/internal/adapters/providers/pos"
	"github.com/finlake/finsync/internal/adapters/statestore"
	"github.com/finlake/finsync/internal/application/dispatch"
	"github.com/finlake/finsync/internal/application/monitors"
	"github.com/finlake/finsync/internal/application/registry"
	"github.com/finlake/finsync/internal/application/tokens"
	"github.com/finlake/finsync/internal/application/workers"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/infrastructure/config"
	"github.com/finlake/finsync/internal/queue"
)

// Schedule cadences fixed by design; thresholds the monitors apply come from
// configuration.
const (
	tokenRefreshEvery   = 20 * time.Minute
	missedMonitorEvery  = 3 * time.Minute
	semaphoreEvery      = 15 * time.Hour
	stuckMonitorEvery   = 3 * time.Minute
	stateMonitorEvery   = 10 * time.Minute
	dailySyncHourUTC    = 0
	dailySyncMinuteUTC  = 5
	queueSampleInterval = 15 * time.Second
)

// App is the assembled daemon.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	broker    *queue.Broker
	handlers  *queue.HandlerRegistry
	scheduler *queue.Scheduler
	standard  *queue.Pool
	priority  *queue.Pool
	guard     *workers.ShutdownGuard
	metrics   *metrics.Metrics
}

// New wires the application from an open database and state store.
func New(cfg *config.Config, db *gorm.DB, store *statestore.RedisStore, logger zerolog.Logger) *App {
	clock := shared.NewRealClock()

	orgRepo := persistence.NewOrganizationRepository(db)
	integrationRepo := persistence.NewIntegrationRepository(db)
	tokenRepo := persistence.NewTokenRepository(db)
	taskRepo := persistence.NewTaskRepository(db)
	logRepo := persistence.NewLogRepository(db)
	warehouse := persistence.NewWarehouse(db, cfg.Warehouse)

	accountingClient := accountingapi.NewClient(cfg.Providers.Accounting, clock, logger)
	erpClient := erpapi.NewClient(cfg.Providers.ERP, clock, logger)
	posClient := posapi.NewClient(cfg.Providers.POS, clock, logger)

	tokenManager := tokens.NewManager(tokenRepo, store, clock, cfg.Workers.TokenRefreshWindow,
		registry.Authenticators(accountingClient, erpClient, posClient), logger)

	reg := registry.New(registry.Deps{
		Accounting: accountingClient,
		ERP:        erpClient,
		POS:        posClient,
		Warehouse:  warehouse,
		Tokens:     tokenManager,
		Logger:     logger,
	})

	broker := queue.NewBroker(clock)
	handlers := queue.NewHandlerRegistry()
	slots := dispatch.NewSlots(store, cfg.Dispatch.MaxConcurrentOrgSyncs, cfg.Dispatch.CounterTTL, logger)
	guard := workers.NewShutdownGuard(cfg.Workers.MaskSigtermHighPriority)

	standardDispatcher := dispatch.NewStandardDispatcher(store, slots, orgRepo, logRepo, broker, logger)
	priorityDispatcher := dispatch.NewHighPriorityDispatcher(store, taskRepo, logRepo, broker, clock, logger)

	orgSync := workers.NewOrgSyncWorker(store, slots, integrationRepo, reg, logRepo, broker, clock, logger)
	pipeline := workers.NewPipelineWorker(integrationRepo, reg, logRepo, clock, cfg.Dispatch.InterModulePause, logger)
	priorityWorker := workers.NewHighPriorityWorker(taskRepo, integrationRepo, reg, store, logRepo, guard, clock, logger)
	dailySync := workers.NewDailySyncWorker(integrationRepo, taskRepo, reg, logRepo, clock, logger)
	tokenRefresh := workers.NewTokenRefreshWorker(integrationRepo, tokenManager, logger)

	missedMonitor := monitors.NewMissedTaskMonitor(taskRepo, logRepo, broker, clock, cfg.Monitors.MissedTaskAge, logger)
	semaphoreMonitor := monitors.NewStuckSemaphoreMonitor(slots, logRepo, clock, cfg.Monitors.StuckSemaphoreWindow, logger)
	stuckMonitor := monitors.NewStuckTaskMonitor(taskRepo, logRepo, broker, clock, cfg.Monitors.StuckThreshold, logger)
	stateMonitor := monitors.NewStateMonitor(store, taskRepo, logRepo, logger)

	handlers.Register(dispatch.TaskDispatcher, bare(standardDispatcher.Tick))
	handlers.Register(dispatch.TaskHighPriorityDispatcher, bare(priorityDispatcher.Tick))
	handlers.Register(dispatch.TaskSyncOrganization, withArgs(orgSync.Run))
	handlers.Register(dispatch.TaskIntegrationPipeline, withArgs(pipeline.Run))
	handlers.Register(dispatch.TaskProcessHighPriority, withArgs(priorityWorker.Run))
	handlers.Register(dispatch.TaskDailyPreviousDaySync, bare(dailySync.Run))
	handlers.Register(dispatch.TaskRefreshProviderTokens, bare(tokenRefresh.Run))
	handlers.Register(dispatch.TaskMonitorMissedTasks, bare(missedMonitor.Run))
	handlers.Register(dispatch.TaskMonitorStuckSemaphores, bare(semaphoreMonitor.Run))
	handlers.Register(dispatch.TaskMonitorInProgress, bare(stuckMonitor.Run))
	handlers.Register(dispatch.TaskComprehensiveMonitor, bare(stateMonitor.Run))

	scheduler := queue.NewScheduler(broker, clock, ScheduleTable(cfg), logger)

	standardPool := queue.NewPool(broker, handlers, queue.RoleStandard, cfg.Workers.Standard, cfg.Workers.TaskSoftTimeout, cfg.Workers.TaskHardTimeout, logger)
	priorityPool := queue.NewPool(broker, handlers, queue.RoleHighPriority, cfg.Workers.HighPriority, cfg.Workers.TaskSoftTimeout, cfg.Workers.TaskHardTimeout, logger)

	app := &App{
		cfg:       cfg,
		logger:    logger.With().Str("component", "app").Logger(),
		broker:    broker,
		handlers:  handlers,
		scheduler: scheduler,
		standard:  standardPool,
		priority:  priorityPool,
		guard:     guard,
	}
	if cfg.Metrics.Enabled {
		app.metrics = metrics.New()
		standardPool.SetObserver(app.metrics.ObserveJob)
		priorityPool.SetObserver(app.metrics.ObserveJob)
	}
	return app
}

// ScheduleTable is the daemon's fixed clock-driven job table.
func ScheduleTable(cfg *config.Config) []queue.Entry {
	return []queue.Entry{
		{Name: dispatch.TaskDispatcher, Queue: queue.QueueDefault, Every: cfg.Dispatch.TickInterval},
		{Name: dispatch.TaskHighPriorityDispatcher, Queue: queue.QueueDefault, Every: cfg.Dispatch.TickInterval},
		{Name: dispatch.TaskRefreshProviderTokens, Queue: queue.QueueHighPriority, Priority: dispatch.MonitorPriority, Every: tokenRefreshEvery},
		{Name: dispatch.TaskMonitorMissedTasks, Queue: queue.QueueHighPriority, Priority: dispatch.MonitorPriority, Every: missedMonitorEvery},
		{Name: dispatch.TaskMonitorStuckSemaphores, Queue: queue.QueueHighPriority, Priority: dispatch.MonitorPriority, Every: semaphoreEvery},
		{Name: dispatch.TaskMonitorInProgress, Queue: queue.QueueHighPriority, Priority: dispatch.MonitorPriority, Every: stuckMonitorEvery},
		{Name: dispatch.TaskComprehensiveMonitor, Queue: queue.QueueHighPriority, Priority: dispatch.MonitorPriority, Every: stateMonitorEvery},
		{Name: dispatch.TaskDailyPreviousDaySync, Queue: queue.QueueHighPriority, Priority: dispatch.MonitorPriority, At: &queue.DailyTime{Hour: dailySyncHourUTC, Minute: dailySyncMinuteUTC}},
	}
}

// Run starts the pools and the scheduler and blocks until ctx ends, then
// shuts down: the scheduler and standard pool stop with ctx, a running
// user-initiated import gets up to ShutdownTimeout to finish, and only then
// does the high-priority pool stop.
func (a *App) Run(ctx context.Context) error {
	if a.metrics != nil {
		go func() {
			if err := a.metrics.Serve(ctx, a.cfg.Metrics.Address, a.logger); err != nil {
				a.logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
		go a.metrics.WatchQueues(ctx, a.broker, queueSampleInterval)
	}

	priorityCtx, stopPriority := context.WithCancel(context.Background())
	defer stopPriority()

	a.standard.Start(ctx)
	a.priority.Start(priorityCtx)
	a.scheduler.Start(ctx)
	a.logger.Info().
		Int("standard_workers", a.cfg.Workers.Standard).
		Int("high_priority_workers", a.cfg.Workers.HighPriority).
		Msg("daemon started")

	<-ctx.Done()
	a.logger.Info().Msg("shutting down")
	a.scheduler.Wait()

	waitCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Daemon.ShutdownTimeout)
	defer cancel()
	if err := a.guard.Wait(waitCtx); err != nil {
		a.logger.Warn().Err(err).Msg("shutdown timeout reached with an import still running")
	}
	stopPriority()
	a.broker.Close()
	a.standard.Wait()
	a.priority.Wait()
	a.logger.Info().Msg("daemon stopped")
	return nil
}

// Enqueuer exposes the broker for ad-hoc submissions, e.g. from the CLI.
func (a *App) Enqueuer() queue.Enqueuer { return a.broker }

// bare adapts a payload-less task function to the queue handler contract.
func bare(run func(ctx context.Context) error) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		return run(ctx)
	}
}

// withArgs adapts a typed task function, decoding the job payload.
func withArgs[T any](run func(ctx context.Context, args T) error) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var args T
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &args); err != nil {
				return fmt.Errorf("bad payload for %s: %w", job.Name, err)
			}
		}
		return run(ctx, args)
	}
}
