// Package queue is the in-process task queue runtime: named queues with
// message priority and delayed delivery, single-delivery worker pools, and a
// fixed schedule table for periodic jobs.
package queue

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finlake/finsync/internal/domain/shared"
)

// Queue names. Dispatch order for a worker bound to several queues follows
// this precedence.
const (
	QueueHighPriority = "high_priority"
	QueueOrgSync      = "org_sync"
	QueueDefault      = "default"
)

// Job is one queued task invocation. Delay is the countdown before delivery;
// RunAt is resolved from it at enqueue time. A job with MaxRetries set is
// re-enqueued after RetryDelay when its handler errors, until Attempt reaches
// MaxRetries.
type Job struct {
	ID         string
	Queue      string
	Name       string
	Payload    []byte
	Priority   int
	Delay      time.Duration
	RunAt      time.Time
	EnqueuedAt time.Time

	MaxRetries int
	RetryDelay time.Duration
	Attempt    int
}

// NewJob creates a job with a JSON-encoded payload. countdown delays
// delivery.
func NewJob(queue, name string, payload interface{}, priority int, countdown time.Duration) (*Job, error) {
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload for %s: %w", name, err)
		}
	}
	return &Job{
		Queue:    queue,
		Name:     name,
		Payload:  raw,
		Priority: priority,
		Delay:    countdown,
	}, nil
}

// WithRetry sets the job's retry policy and returns it for chaining.
func (j *Job) WithRetry(maxRetries int, delay time.Duration) *Job {
	j.MaxRetries = maxRetries
	j.RetryDelay = delay
	return j
}

// Enqueuer is the narrow producer contract used by dispatchers and monitors.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *Job) error
}

// jobHeap orders jobs by (RunAt, -Priority, seq).
type jobItem struct {
	job *Job
	seq uint64
}

type jobHeap []jobItem

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(a, b int) bool {
	ja, jb := h[a].job, h[b].job
	if !ja.RunAt.Equal(jb.RunAt) {
		return ja.RunAt.Before(jb.RunAt)
	}
	if ja.Priority != jb.Priority {
		return ja.Priority > jb.Priority
	}
	return h[a].seq < h[b].seq
}
func (h jobHeap) Swap(a, b int)       { h[a], h[b] = h[b], h[a] }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(jobItem)) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Broker is the in-process queue backend. Delivery is at-most-once to exactly
// one worker; there is no redelivery on crash, which the monitors compensate
// for at the task-state level.
type Broker struct {
	clock shared.Clock

	mu     sync.Mutex
	queues map[string]*jobHeap
	seq    uint64
	notify chan struct{}
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker(clock shared.Clock) *Broker {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &Broker{
		clock:  clock,
		queues: make(map[string]*jobHeap),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue adds a job, resolving its delivery time from Delay.
func (b *Broker) Enqueue(ctx context.Context, job *Job) error {
	if job.Queue == "" {
		job.Queue = QueueDefault
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := b.clock.Now()
	job.EnqueuedAt = now
	if job.RunAt.IsZero() {
		job.RunAt = now.Add(job.Delay)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("broker closed")
	}
	h, ok := b.queues[job.Queue]
	if !ok {
		h = &jobHeap{}
		b.queues[job.Queue] = h
	}
	b.seq++
	heap.Push(h, jobItem{job: job, seq: b.seq})
	b.mu.Unlock()

	b.wake()
	return nil
}

func (b *Broker) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Dequeue blocks until a job from one of the given queues is due, honoring
// queue precedence in slice order, then message priority. Returns an error
// only when the context ends or the broker closes.
func (b *Broker) Dequeue(ctx context.Context, queues ...string) (*Job, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, fmt.Errorf("broker closed")
		}
		now := b.clock.Now()
		var nextDue time.Time
		for _, name := range queues {
			h, ok := b.queues[name]
			if !ok || h.Len() == 0 {
				continue
			}
			head := (*h)[0].job
			if !head.RunAt.After(now) {
				item := heap.Pop(h).(jobItem)
				b.mu.Unlock()
				return item.job, nil
			}
			if nextDue.IsZero() || head.RunAt.Before(nextDue) {
				nextDue = head.RunAt
			}
		}
		b.mu.Unlock()

		wait := 250 * time.Millisecond
		if !nextDue.IsZero() {
			if d := nextDue.Sub(now); d < wait {
				wait = d
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-b.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Len reports how many jobs are waiting on a queue, due or not.
func (b *Broker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.queues[queue]; ok {
		return h.Len()
	}
	return 0
}

// Close stops delivery. Blocked Dequeue calls return an error.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wake()
}
