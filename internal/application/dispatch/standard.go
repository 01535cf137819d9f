package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/adapters/statestore"
	"github.com/finlake/finsync/internal/domain/org"
	"github.com/finlake/finsync/internal/domain/synctask"
	"github.com/finlake/finsync/internal/queue"
)

// StandardDispatcher keeps up to Slots.Max sync_organization jobs dispatched,
// round-robin over every organization with at least one integration.
type StandardDispatcher struct {
	store   statestore.Store
	slots   *Slots
	orgs    org.OrganizationRepository
	logs    synctask.LogRepository
	enqueue queue.Enqueuer
	logger  zerolog.Logger
}

// NewStandardDispatcher creates the dispatcher.
func NewStandardDispatcher(store statestore.Store, slots *Slots, orgs org.OrganizationRepository, logs synctask.LogRepository, enqueue queue.Enqueuer, logger zerolog.Logger) *StandardDispatcher {
	return &StandardDispatcher{
		store:   store,
		slots:   slots,
		orgs:    orgs,
		logs:    logs,
		enqueue: enqueue,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Tick runs one dispatch round. A tick that cannot acquire the dispatcher
// lock, or finds the state store down, is a no-op; the next scheduled tick
// retries.
func (d *StandardDispatcher) Tick(ctx context.Context) error {
	acquired, err := d.store.Add(ctx, statestore.DispatcherLockKey, statestore.LockValue, statestore.DispatcherLockTTL)
	if err != nil {
		d.logger.Warn().Err(err).Msg("state store unavailable, skipping tick")
		return nil
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := d.store.Delete(context.WithoutCancel(ctx), statestore.DispatcherLockKey); err != nil {
			d.logger.Warn().Err(err).Msg("failed to release dispatcher lock")
		}
	}()

	observed, err := d.slots.Observed(ctx)
	if err != nil {
		return fmt.Errorf("failed to read dispatch counter: %w", err)
	}
	free := d.slots.Max() - observed
	if free <= 0 {
		return nil
	}

	organizations, err := d.orgs.ListSyncable(ctx)
	if err != nil {
		return fmt.Errorf("failed to list organizations: %w", err)
	}
	n := len(organizations)
	if n == 0 {
		return nil
	}

	offset, err := d.readOffset(ctx, n)
	if err != nil {
		return fmt.Errorf("failed to read dispatch offset: %w", err)
	}

	dispatched := 0
	for i := 0; i < free; i++ {
		ok, err := d.slots.Reserve(ctx)
		if err != nil {
			return fmt.Errorf("failed to reserve dispatch slot: %w", err)
		}
		if !ok {
			break
		}

		target := organizations[(offset+i)%n]
		job, err := queue.NewJob(queue.QueueOrgSync, TaskSyncOrganization, SyncOrganizationArgs{OrgID: target.ID}, 0, 0)
		if err == nil {
			err = d.enqueue.Enqueue(ctx, job)
		}
		if err != nil {
			// The slot was reserved for a job that never made it onto the
			// queue; hand it back before aborting the tick.
			if releaseErr := d.slots.Release(ctx); releaseErr != nil {
				d.logger.Warn().Err(releaseErr).Msg("failed to release slot after enqueue failure")
			}
			return fmt.Errorf("failed to enqueue sync for org %d: %w", target.ID, err)
		}
		dispatched++

		d.logger.Debug().Int64("org_id", target.ID).Msg("dispatched organization sync")
	}

	if dispatched > 0 {
		newOffset := (offset + dispatched) % n
		if err := d.store.Set(ctx, statestore.OrgOffsetKey, strconv.Itoa(newOffset), 0); err != nil {
			return fmt.Errorf("failed to advance dispatch offset: %w", err)
		}
		if err := d.logs.Append(ctx, &synctask.LogEvent{
			TaskName: TaskDispatcher,
			Status:   synctask.EventDispatched,
			Detail:   fmt.Sprintf("dispatched %d organization syncs", dispatched),
		}); err != nil {
			d.logger.Warn().Err(err).Msg("failed to log dispatch event")
		}
	}
	return nil
}

// readOffset loads the round-robin cursor, defaulting to zero and modulating
// by the current organization count.
func (d *StandardDispatcher) readOffset(ctx context.Context, n int) (int, error) {
	raw, exists, err := d.store.Get(ctx, statestore.OrgOffsetKey)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	offset, parseErr := strconv.Atoi(raw)
	if parseErr != nil || offset < 0 {
		return 0, nil
	}
	return offset % n, nil
}
