package synctask

import (
	"time"

	"github.com/finlake/finsync/internal/domain/provider"
)

// TaskState is the derived lifecycle state of a high-priority task.
//
// Tasks follow PENDING → RUNNING → DONE. A monitor may move an abandoned
// RUNNING task back through re-dispatch, but the stored flags only ever
// advance: processed is terminal.
type TaskState string

const (
	StatePending TaskState = "PENDING"
	StateRunning TaskState = "RUNNING"
	StateDone    TaskState = "DONE"
)

// HighPriorityTask is a user- or schedule-initiated import job. It is created
// by the external UI/API and mutated only by the sync core.
type HighPriorityTask struct {
	ID              int64
	IntegrationID   int64
	Kind            provider.Kind
	SinceDate       time.Time
	UntilDate       *time.Time // nil = no upper bound
	SelectedModules []string   // empty = full import
	CreatedAt       time.Time

	InProgress      bool
	InProgressSince *time.Time
	Processed       bool
	ProcessedAt     *time.Time
}

// State derives the lifecycle state from the stored flags. Processed wins over
// in_progress so an illegal flag combination still reads as terminal.
func (t *HighPriorityTask) State() TaskState {
	switch {
	case t.Processed:
		return StateDone
	case t.InProgress:
		return StateRunning
	default:
		return StatePending
	}
}

// IsPending reports whether the task is waiting to be claimed.
func (t *HighPriorityTask) IsPending() bool { return t.State() == StatePending }

// IsRunning reports whether the task has been claimed but not finished.
func (t *HighPriorityTask) IsRunning() bool { return t.State() == StateRunning }

// IsDone reports whether the task reached its terminal state.
func (t *HighPriorityTask) IsDone() bool { return t.State() == StateDone }

// EffectiveSince returns the task's lower date bound, defaulting to today at
// 00:00 UTC when unset.
func (t *HighPriorityTask) EffectiveSince(now time.Time) time.Time {
	if !t.SinceDate.IsZero() {
		return t.SinceDate
	}
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
