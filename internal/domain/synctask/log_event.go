package synctask

import (
	"time"

	"github.com/finlake/finsync/internal/domain/provider"
)

// EventStatus classifies a sync log event.
type EventStatus string

const (
	EventStarted    EventStatus = "started"
	EventSuccess    EventStatus = "success"
	EventWarning    EventStatus = "warning"
	EventFailed     EventStatus = "failed"
	EventDispatched EventStatus = "dispatched"
	EventDetected   EventStatus = "detected"
)

// LogEvent is one append-only audit record. User-visible failure is confined
// to this stream plus the task row's processed_at timestamp.
type LogEvent struct {
	ID        int64
	TaskName  string
	Provider  provider.Kind
	OrgID     int64
	Status    EventStatus
	Detail    string
	Timestamp time.Time
}
