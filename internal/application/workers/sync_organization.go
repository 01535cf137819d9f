// Package workers holds the queue task implementations: the organization sync
// fan-out, the per-integration pipeline runner and the high-priority task
// executor.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/adapters/statestore"
	"github.com/finlake/finsync/internal/application/dispatch"
	"github.com/finlake/finsync/internal/application/registry"
	"github.com/finlake/finsync/internal/domain/org"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/domain/synctask"
	"github.com/finlake/finsync/internal/queue"
)

// OrgSyncWorker handles sync_organization jobs. It fans the organization's
// integrations out as per-integration pipeline jobs; it never runs import work
// itself. Its dispatch slot is released on every exit path, including a lock
// miss, because the dispatcher already counted this job.
type OrgSyncWorker struct {
	store        statestore.Store
	slots        *dispatch.Slots
	integrations org.IntegrationRepository
	registry     *registry.Registry
	logs         synctask.LogRepository
	enqueue      queue.Enqueuer
	clock        shared.Clock
	logger       zerolog.Logger
}

// NewOrgSyncWorker creates the worker.
func NewOrgSyncWorker(store statestore.Store, slots *dispatch.Slots, integrations org.IntegrationRepository, reg *registry.Registry, logs synctask.LogRepository, enqueue queue.Enqueuer, clock shared.Clock, logger zerolog.Logger) *OrgSyncWorker {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &OrgSyncWorker{
		store:        store,
		slots:        slots,
		integrations: integrations,
		registry:     reg,
		logs:         logs,
		enqueue:      enqueue,
		clock:        clock,
		logger:       logger.With().Str("component", "org_sync").Logger(),
	}
}

// Run executes one sync_organization job. Errors are absorbed into the log
// stream; a returned error would only make the queue retry a job whose slot
// has already been released.
func (w *OrgSyncWorker) Run(ctx context.Context, args dispatch.SyncOrganizationArgs) error {
	logger := w.logger.With().Int64("org_id", args.OrgID).Logger()

	defer func() {
		if err := w.slots.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("failed to release dispatch slot")
		}
	}()

	lockKey := statestore.OrgSyncLockKey(args.OrgID)
	acquired, err := w.store.Add(ctx, lockKey, statestore.OrgSyncLockValue, statestore.OrgSyncLockTTL)
	if err != nil {
		logger.Error().Err(err).Msg("state store unavailable")
		w.appendEvent(ctx, args.OrgID, synctask.EventFailed, "state store unavailable")
		return nil
	}
	if !acquired {
		logger.Warn().Msg("organization sync already running, skipping")
		w.appendEvent(ctx, args.OrgID, synctask.EventWarning, "sync already running")
		return nil
	}
	defer func() {
		if err := w.store.Delete(context.WithoutCancel(ctx), lockKey); err != nil {
			logger.Warn().Err(err).Msg("failed to release organization sync lock")
		}
	}()

	integrations, err := w.integrations.ListByOrg(ctx, args.OrgID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list integrations")
		w.appendEvent(ctx, args.OrgID, synctask.EventFailed, err.Error())
		return nil
	}

	since := midnightUTC(w.clock.Now())
	dispatched := 0
	for _, integration := range integrations {
		if !integration.HasCredentials() {
			logger.Debug().Int64("integration_id", integration.ID).Msg("integration has no credentials, skipping")
			continue
		}
		if !w.registry.Supported(integration.Kind) {
			logger.Warn().Int64("integration_id", integration.ID).Str("kind", string(integration.Kind)).Msg("unsupported provider kind, skipping")
			continue
		}

		job, err := queue.NewJob(queue.QueueOrgSync, dispatch.TaskIntegrationPipeline, dispatch.IntegrationPipelineArgs{
			IntegrationID: integration.ID,
			Since:         since,
		}, 0, 0)
		if err == nil {
			err = w.enqueue.Enqueue(ctx, job)
		}
		if err != nil {
			logger.Error().Err(err).Int64("integration_id", integration.ID).Msg("failed to enqueue pipeline")
			continue
		}
		dispatched++
	}

	if dispatched > 0 {
		w.appendEvent(ctx, args.OrgID, synctask.EventSuccess, fmt.Sprintf("dispatched %d pipelines", dispatched))
	} else {
		w.appendEvent(ctx, args.OrgID, synctask.EventWarning, "no syncable integrations")
	}
	return nil
}

func (w *OrgSyncWorker) appendEvent(ctx context.Context, orgID int64, status synctask.EventStatus, detail string) {
	event := &synctask.LogEvent{
		TaskName: dispatch.TaskSyncOrganization,
		OrgID:    orgID,
		Status:   status,
		Detail:   detail,
	}
	if err := w.logs.Append(context.WithoutCancel(ctx), event); err != nil {
		w.logger.Warn().Err(err).Msg("failed to append sync log event")
	}
}

// midnightUTC truncates to the current day's 00:00 UTC, the default lower
// bound for periodic imports.
func midnightUTC(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
