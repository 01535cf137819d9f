package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/finlake/finsync/internal/domain/provider"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/domain/synctask"
)

// GormTaskRepository implements synctask.TaskRepository on gorm.
type GormTaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new high-priority task repository.
func NewTaskRepository(db *gorm.DB) *GormTaskRepository {
	return &GormTaskRepository{db: db}
}

// Create persists a new pending task.
func (r *GormTaskRepository) Create(ctx context.Context, task *synctask.HighPriorityTask) error {
	model, err := taskToModel(task)
	if err != nil {
		return err
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to create high-priority task: %w", err)
	}
	task.ID = model.ID
	task.CreatedAt = model.CreatedAt
	return nil
}

// FindByID loads one task.
func (r *GormTaskRepository) FindByID(ctx context.Context, id int64) (*synctask.HighPriorityTask, error) {
	var model HighPriorityTaskModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("high-priority task %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find high-priority task %d: %w", id, err)
	}
	return taskToDomain(&model)
}

// ListRecent returns the newest tasks first, at most limit of them.
func (r *GormTaskRepository) ListRecent(ctx context.Context, limit int) ([]synctask.HighPriorityTask, error) {
	var models []HighPriorityTaskModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent tasks: %w", err)
	}
	return tasksToDomain(models)
}

// ClaimNextPending selects the oldest pending task under a row lock, marks it
// in progress and returns it. (nil, nil) when the backlog is empty. The row
// lock keeps two dispatcher processes from claiming the same task.
func (r *GormTaskRepository) ClaimNextPending(ctx context.Context, now time.Time) (*synctask.HighPriorityTask, error) {
	var claimed *HighPriorityTaskModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.
			Where("processed = ? AND in_progress = ?", false, false).
			Order("created_at ASC, id ASC")
		// sqlite has no FOR UPDATE; its single writer serializes claims anyway.
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var model HighPriorityTaskModel
		err := query.First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		stamp := now.UTC()
		err = tx.Model(&HighPriorityTaskModel{}).
			Where("id = ?", model.ID).
			Updates(map[string]interface{}{
				"in_progress":       true,
				"in_progress_since": stamp,
			}).Error
		if err != nil {
			return err
		}

		model.InProgress = true
		model.InProgressSince = &stamp
		claimed = &model
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim next pending task: %w", err)
	}
	if claimed == nil {
		return nil, nil
	}
	return taskToDomain(claimed)
}

// MarkInProgress is the worker-side compare-and-set: it flips the task to in
// progress only while it is still pending, and reports whether this caller won.
func (r *GormTaskRepository) MarkInProgress(ctx context.Context, id int64, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&HighPriorityTaskModel{}).
		Where("id = ? AND processed = ? AND in_progress = ?", id, false, false).
		Updates(map[string]interface{}{
			"in_progress":       true,
			"in_progress_since": now.UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark task %d in progress: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkDone finalizes the task: processed=true, in_progress=false. Idempotent.
func (r *GormTaskRepository) MarkDone(ctx context.Context, id int64, when time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&HighPriorityTaskModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": when.UTC(),
			"in_progress":  false,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark task %d done: %w", id, err)
	}
	return nil
}

// TouchInProgressSince restamps in_progress_since so a re-dispatched task is
// not immediately stuck again.
func (r *GormTaskRepository) TouchInProgressSince(ctx context.Context, id int64, when time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&HighPriorityTaskModel{}).
		Where("id = ?", id).
		Update("in_progress_since", when.UTC()).Error
	if err != nil {
		return fmt.Errorf("failed to touch task %d: %w", id, err)
	}
	return nil
}

// QueryMissed returns pending tasks created before the cutoff, oldest first.
func (r *GormTaskRepository) QueryMissed(ctx context.Context, createdBefore time.Time) ([]synctask.HighPriorityTask, error) {
	var models []HighPriorityTaskModel
	err := r.db.WithContext(ctx).
		Where("processed = ? AND in_progress = ? AND created_at < ?", false, false, createdBefore.UTC()).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query missed tasks: %w", err)
	}
	return tasksToDomain(models)
}

// QueryStuck returns in-progress tasks whose in_progress_since predates the
// cutoff, oldest first.
func (r *GormTaskRepository) QueryStuck(ctx context.Context, inProgressBefore time.Time) ([]synctask.HighPriorityTask, error) {
	var models []HighPriorityTaskModel
	err := r.db.WithContext(ctx).
		Where("processed = ? AND in_progress = ? AND in_progress_since < ?", false, true, inProgressBefore.UTC()).
		Order("in_progress_since ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck tasks: %w", err)
	}
	return tasksToDomain(models)
}

func tasksToDomain(models []HighPriorityTaskModel) ([]synctask.HighPriorityTask, error) {
	tasks := make([]synctask.HighPriorityTask, 0, len(models))
	for i := range models {
		task, err := taskToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, nil
}

func taskToDomain(m *HighPriorityTaskModel) (*synctask.HighPriorityTask, error) {
	var modules []string
	if m.SelectedModules != "" {
		if err := json.Unmarshal([]byte(m.SelectedModules), &modules); err != nil {
			return nil, fmt.Errorf("corrupt module list on task %d: %w", m.ID, err)
		}
	}
	return &synctask.HighPriorityTask{
		ID:              m.ID,
		IntegrationID:   m.IntegrationID,
		Kind:            provider.Kind(m.ProviderKind),
		SinceDate:       m.SinceDate,
		UntilDate:       m.UntilDate,
		SelectedModules: modules,
		CreatedAt:       m.CreatedAt,
		InProgress:      m.InProgress,
		InProgressSince: m.InProgressSince,
		Processed:       m.Processed,
		ProcessedAt:     m.ProcessedAt,
	}, nil
}

func taskToModel(t *synctask.HighPriorityTask) (*HighPriorityTaskModel, error) {
	var encoded string
	if len(t.SelectedModules) > 0 {
		raw, err := json.Marshal(t.SelectedModules)
		if err != nil {
			return nil, fmt.Errorf("failed to encode module list: %w", err)
		}
		encoded = string(raw)
	}
	return &HighPriorityTaskModel{
		ID:              t.ID,
		IntegrationID:   t.IntegrationID,
		ProviderKind:    string(t.Kind),
		SinceDate:       t.SinceDate,
		UntilDate:       t.UntilDate,
		SelectedModules: encoded,
		CreatedAt:       t.CreatedAt,
		InProgress:      t.InProgress,
		InProgressSince: t.InProgressSince,
		Processed:       t.Processed,
		ProcessedAt:     t.ProcessedAt,
	}, nil
}
