// Package dispatch holds the two schedulers: the standard round-robin
// organization dispatcher and the serial high-priority dispatcher.
package dispatch

import (
	"time"

	"github.com/finlake/finsync/internal/queue"
)

// Task names as they appear on the queue. One registry entry per name.
const (
	TaskDispatcher             = "dispatcher"
	TaskHighPriorityDispatcher = "high_priority_dispatcher"
	TaskSyncOrganization       = "sync_organization"
	TaskIntegrationPipeline    = "sync_integration_pipeline"
	TaskProcessHighPriority    = "process_high_priority"
	TaskDailyPreviousDaySync   = "daily_previous_day_sync"
	TaskRefreshProviderTokens  = "refresh_provider_tokens"

	TaskMonitorMissedTasks     = "monitor_missed_hpts"
	TaskMonitorStuckSemaphores = "monitor_stuck_semaphores"
	TaskMonitorInProgress      = "monitor_in_progress_not_dispatched"
	TaskComprehensiveMonitor   = "comprehensive_state_monitor"
)

// MonitorPriority sorts monitor jobs below process_high_priority traffic: a
// queued user import always runs before a monitor sweep due at the same time.
const MonitorPriority = 5

// HighPriorityTaskPriority is the message priority for process_high_priority
// jobs.
const HighPriorityTaskPriority = 9

// Retry policy for process_high_priority jobs. Other tasks do not retry at the
// queue level; the monitors re-dispatch them from task state instead.
const (
	HighPriorityMaxRetries = 3
	HighPriorityRetryDelay = 300 * time.Second
)

// NewProcessHighPriorityJob builds the queue job that executes one
// high-priority task, carrying the task retry policy.
func NewProcessHighPriorityJob(taskID int64) (*queue.Job, error) {
	job, err := queue.NewJob(queue.QueueHighPriority, TaskProcessHighPriority, ProcessHighPriorityArgs{TaskID: taskID}, HighPriorityTaskPriority, 0)
	if err != nil {
		return nil, err
	}
	return job.WithRetry(HighPriorityMaxRetries, HighPriorityRetryDelay), nil
}

// SyncOrganizationArgs is the payload of a sync_organization job.
type SyncOrganizationArgs struct {
	OrgID int64 `json:"org_id"`
}

// ProcessHighPriorityArgs is the payload of a process_high_priority job.
type ProcessHighPriorityArgs struct {
	TaskID int64 `json:"task_id"`
}

// IntegrationPipelineArgs is the payload of a sync_integration_pipeline job.
// A zero Until means no upper bound.
type IntegrationPipelineArgs struct {
	IntegrationID int64     `json:"integration_id"`
	Since         time.Time `json:"since"`
	Until         time.Time `json:"until"`
}
