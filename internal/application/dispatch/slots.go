package dispatch

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/adapters/statestore"
)

// Slots is the dispatch-permit counter. It counts organizations handed to the
// queue, not pipelines executing: sync_organization releases its slot as soon
// as it has fanned out its per-integration work.
type Slots struct {
	store  statestore.Store
	max    int
	ttl    time.Duration
	logger zerolog.Logger
}

// NewSlots creates the counter wrapper. max is the dispatch ceiling; ttl is
// the counter's self-expiry.
func NewSlots(store statestore.Store, max int, ttl time.Duration, logger zerolog.Logger) *Slots {
	return &Slots{
		store:  store,
		max:    max,
		ttl:    ttl,
		logger: logger.With().Str("component", "dispatch_slots").Logger(),
	}
}

// Max returns the dispatch ceiling.
func (s *Slots) Max() int { return s.max }

// Observed reads the counter, repairing missing, non-numeric and negative
// values to zero, and refreshes its TTL.
func (s *Slots) Observed(ctx context.Context) (int, error) {
	raw, exists, err := s.store.Get(ctx, statestore.InFlightCounterKey)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	value, parseErr := strconv.Atoi(raw)
	if parseErr != nil || value < 0 {
		s.logger.Warn().Str("raw", raw).Msg("repairing corrupt dispatch counter")
		if err := s.store.Set(ctx, statestore.InFlightCounterKey, "0", s.ttl); err != nil {
			return 0, err
		}
		return 0, nil
	}

	if err := s.store.Touch(ctx, statestore.InFlightCounterKey, s.ttl); err != nil {
		return 0, err
	}
	return value, nil
}

// Reserve takes one dispatch slot. Returns false when the ceiling is reached.
// The re-read before the increment plus the dispatcher lock's single-writer
// discipline prevent overshoot.
func (s *Slots) Reserve(ctx context.Context) (bool, error) {
	observed, err := s.Observed(ctx)
	if err != nil {
		return false, err
	}
	if observed >= s.max {
		return false, nil
	}

	value, err := s.store.Incr(ctx, statestore.InFlightCounterKey)
	if err != nil {
		return false, err
	}
	if value > int64(s.max) {
		// Lost a race against another writer; hand the slot back.
		if _, err := s.store.Decr(ctx, statestore.InFlightCounterKey); err != nil {
			return false, err
		}
		return false, nil
	}
	if err := s.store.Touch(ctx, statestore.InFlightCounterKey, s.ttl); err != nil {
		return false, err
	}
	return true, nil
}

// Release returns one slot, repairing a negative result to zero. Runs on
// every sync_organization exit path.
func (s *Slots) Release(ctx context.Context) error {
	value, err := s.store.Decr(ctx, statestore.InFlightCounterKey)
	if err != nil {
		return err
	}
	if value < 0 {
		s.logger.Warn().Int64("value", value).Msg("dispatch counter went negative, repairing")
		return s.store.Set(ctx, statestore.InFlightCounterKey, "0", s.ttl)
	}
	return s.store.Touch(ctx, statestore.InFlightCounterKey, s.ttl)
}

// Reset forces the counter to zero. Used by the stuck-semaphore monitor.
func (s *Slots) Reset(ctx context.Context) error {
	return s.store.Set(ctx, statestore.InFlightCounterKey, "0", s.ttl)
}
