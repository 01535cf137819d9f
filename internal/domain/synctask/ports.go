package synctask

import (
	"context"
	"time"
)

// TaskRepository is the durable store for high-priority tasks.
type TaskRepository interface {
	Create(ctx context.Context, task *HighPriorityTask) error
	FindByID(ctx context.Context, id int64) (*HighPriorityTask, error)

	// ListRecent returns the newest tasks first, at most limit of them.
	ListRecent(ctx context.Context, limit int) ([]HighPriorityTask, error)

	// ClaimNextPending atomically selects the oldest pending task, marks it
	// in progress, stamps in_progress_since and returns it. Returns (nil, nil)
	// when no pending task exists. Row-level locking prevents two dispatchers
	// from claiming the same row.
	ClaimNextPending(ctx context.Context, now time.Time) (*HighPriorityTask, error)

	// MarkInProgress is the compare-and-set claim used by workers: it succeeds
	// only while the task is still pending.
	MarkInProgress(ctx context.Context, id int64, now time.Time) (bool, error)

	// MarkDone finalizes the task. Terminal: processed=true, in_progress=false.
	MarkDone(ctx context.Context, id int64, when time.Time) error

	// TouchInProgressSince restamps in_progress_since before a monitor
	// re-dispatches an abandoned task.
	TouchInProgressSince(ctx context.Context, id int64, when time.Time) error

	// QueryMissed returns pending tasks created before the cutoff.
	QueryMissed(ctx context.Context, createdBefore time.Time) ([]HighPriorityTask, error)

	// QueryStuck returns in-progress tasks whose in_progress_since is older
	// than the cutoff.
	QueryStuck(ctx context.Context, inProgressBefore time.Time) ([]HighPriorityTask, error)
}

// LogRepository appends and reads the sync audit stream.
type LogRepository interface {
	Append(ctx context.Context, event *LogEvent) error
	Recent(ctx context.Context, limit int) ([]LogEvent, error)

	// LastEvent returns the newest event for a task name with one of the given
	// statuses, or (nil, nil) when none exists.
	LastEvent(ctx context.Context, taskName string, statuses ...EventStatus) (*LogEvent, error)
}
