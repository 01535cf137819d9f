package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/domain/shared"
)

// Entry is one row of the schedule table: a task enqueued on a fixed
// interval, or daily at a fixed UTC wall-clock time when At is set.
type Entry struct {
	Name     string
	Queue    string
	Priority int
	Every    time.Duration
	At       *DailyTime
}

// DailyTime is a UTC wall-clock time for daily entries.
type DailyTime struct {
	Hour   int
	Minute int
}

// Scheduler enqueues the schedule table's entries. The table is fixed at
// construction; operators change cadence through configuration and a
// restart, never at runtime.
type Scheduler struct {
	broker  *Broker
	clock   shared.Clock
	entries []Entry
	logger  zerolog.Logger

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler over a fixed entry table.
func NewScheduler(broker *Broker, clock shared.Clock, entries []Entry, logger zerolog.Logger) *Scheduler {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &Scheduler{
		broker:  broker,
		clock:   clock,
		entries: entries,
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start launches one goroutine per entry. Interval entries fire immediately
// and then on the interval; daily entries wait for their wall-clock time.
func (s *Scheduler) Start(ctx context.Context) {
	for _, entry := range s.entries {
		s.wg.Add(1)
		go func(entry Entry) {
			defer s.wg.Done()
			if entry.At != nil {
				s.runDaily(ctx, entry)
				return
			}
			s.runInterval(ctx, entry)
		}(entry)
	}
}

// Wait blocks until all schedule goroutines have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runInterval(ctx context.Context, entry Entry) {
	ticker := time.NewTicker(entry.Every)
	defer ticker.Stop()

	s.fire(ctx, entry)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, entry)
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context, entry Entry) {
	for {
		now := s.clock.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), entry.At.Hour, entry.At.Minute, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(ctx, entry)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, entry Entry) {
	job, err := NewJob(entry.Queue, entry.Name, nil, entry.Priority, 0)
	if err != nil {
		s.logger.Error().Err(err).Str("task", entry.Name).Msg("failed to build scheduled job")
		return
	}
	if err := s.broker.Enqueue(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("task", entry.Name).Msg("failed to enqueue scheduled job")
	}
}
