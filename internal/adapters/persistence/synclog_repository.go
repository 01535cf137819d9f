package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/finlake/finsync/internal/domain/provider"
	"github.com/finlake/finsync/internal/domain/synctask"
)

// dedupWindow suppresses identical events appended in quick succession, e.g. a
// monitor logging the same detection on every sweep.
const dedupWindow = 60 * time.Second

// GormLogRepository implements synctask.LogRepository on gorm with short-window
// deduplication of identical consecutive events.
type GormLogRepository struct {
	db *gorm.DB

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewLogRepository creates a new sync log repository.
func NewLogRepository(db *gorm.DB) *GormLogRepository {
	return &GormLogRepository{
		db:       db,
		lastSeen: make(map[string]time.Time),
	}
}

// Append writes one audit event. An event identical in task name, status and
// detail to one appended within the dedup window is dropped silently.
func (r *GormLogRepository) Append(ctx context.Context, event *synctask.LogEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	key := fmt.Sprintf("%s|%s|%s", event.TaskName, event.Status, event.Detail)
	r.mu.Lock()
	if prev, ok := r.lastSeen[key]; ok && event.Timestamp.Sub(prev) < dedupWindow {
		r.mu.Unlock()
		return nil
	}
	r.lastSeen[key] = event.Timestamp
	if len(r.lastSeen) > 1024 {
		r.evictLocked(event.Timestamp)
	}
	r.mu.Unlock()

	model := SyncLogModel{
		TaskName:     event.TaskName,
		ProviderKind: string(event.Provider),
		OrgID:        event.OrgID,
		Status:       string(event.Status),
		Detail:       event.Detail,
		Timestamp:    event.Timestamp,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("failed to append sync log event: %w", err)
	}
	event.ID = model.ID
	return nil
}

// evictLocked drops dedup entries older than the window. Caller holds mu.
func (r *GormLogRepository) evictLocked(now time.Time) {
	for key, seen := range r.lastSeen {
		if now.Sub(seen) >= dedupWindow {
			delete(r.lastSeen, key)
		}
	}
}

// Recent returns the newest events, newest first.
func (r *GormLogRepository) Recent(ctx context.Context, limit int) ([]synctask.LogEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []SyncLogModel
	err := r.db.WithContext(ctx).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read sync log: %w", err)
	}

	events := make([]synctask.LogEvent, len(models))
	for i, m := range models {
		events[i] = logEventToDomain(m)
	}
	return events, nil
}

// LastEvent returns the newest event for a task name with one of the given
// statuses, or (nil, nil) when none exists.
func (r *GormLogRepository) LastEvent(ctx context.Context, taskName string, statuses ...synctask.EventStatus) (*synctask.LogEvent, error) {
	query := r.db.WithContext(ctx).Where("task_name = ?", taskName)
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, s := range statuses {
			values[i] = string(s)
		}
		query = query.Where("status IN ?", values)
	}

	var model SyncLogModel
	err := query.Order("timestamp DESC, id DESC").First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last event for %s: %w", taskName, err)
	}
	event := logEventToDomain(model)
	return &event, nil
}

func logEventToDomain(m SyncLogModel) synctask.LogEvent {
	return synctask.LogEvent{
		ID:        m.ID,
		TaskName:  m.TaskName,
		Provider:  provider.Kind(m.ProviderKind),
		OrgID:     m.OrgID,
		Status:    synctask.EventStatus(m.Status),
		Detail:    m.Detail,
		Timestamp: m.Timestamp,
	}
}
