package statestore

import (
	"fmt"
	"time"
)

// Key names and TTLs shared by dispatchers, workers and monitors. Keeping them
// in one place is what makes the monitors able to reconcile state the
// dispatchers wrote.
const (
	// DispatcherLockKey guards one standard dispatcher tick.
	DispatcherLockKey = "dispatcher_task_lock"

	// HighPriorityDispatcherLockKey guards one high-priority dispatcher tick.
	HighPriorityDispatcherLockKey = "high_priority_dispatcher_lock"

	// InFlightCounterKey counts dispatched (not executing) organization syncs.
	InFlightCounterKey = "in_flight_org_sync_count"

	// OrgOffsetKey is the round-robin cursor over organizations. No TTL.
	OrgOffsetKey = "dispatcher_org_offset"

	// ActiveTaskKey marks the single high-priority task currently executing.
	ActiveTaskKey = "active_high_priority_task"

	DispatcherLockTTL = 60 * time.Second
	OrgSyncLockTTL    = 600 * time.Second

	// ActiveTaskTTL is a long safety net: if every monitor dies, the marker
	// still expires after three days and the lane unblocks.
	ActiveTaskTTL = 72 * time.Hour

	// LockValue is the value written under held dispatcher locks.
	LockValue = "running"

	// OrgSyncLockValue is the value written under per-organization sync locks.
	OrgSyncLockValue = "in_progress"
)

// OrgSyncLockKey names the per-organization mutual exclusion lock.
func OrgSyncLockKey(orgID int64) string {
	return fmt.Sprintf("org_sync_lock_%d", orgID)
}

// TokenRefreshLockKey names the cross-process single-flight lock for one
// integration's token refresh.
func TokenRefreshLockKey(integrationID int64) string {
	return fmt.Sprintf("token_refresh_lock_%d", integrationID)
}
