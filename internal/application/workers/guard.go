package workers

import (
	"context"
	"sync"
)

// ShutdownGuard keeps graceful shutdown from killing a running user-initiated
// import. High-priority task execution is bracketed by Enter/Exit; the daemon's
// shutdown sequence calls Wait before tearing the process down. When disabled,
// Wait returns immediately and imports are cancelled like any other task.
type ShutdownGuard struct {
	enabled bool

	mu     sync.Mutex
	active int
	idle   chan struct{}
}

// NewShutdownGuard creates the guard. enabled=false makes it a no-op.
func NewShutdownGuard(enabled bool) *ShutdownGuard {
	return &ShutdownGuard{enabled: enabled}
}

// Enter marks one protected task as running.
func (g *ShutdownGuard) Enter() {
	if !g.enabled {
		return
	}
	g.mu.Lock()
	g.active++
	g.mu.Unlock()
}

// Exit marks one protected task as finished.
func (g *ShutdownGuard) Exit() {
	if !g.enabled {
		return
	}
	g.mu.Lock()
	g.active--
	if g.active == 0 && g.idle != nil {
		close(g.idle)
		g.idle = nil
	}
	g.mu.Unlock()
}

// Wait blocks until no protected task is running or ctx expires. The caller's
// ctx bounds how long shutdown will hold for a runaway import.
func (g *ShutdownGuard) Wait(ctx context.Context) error {
	if !g.enabled {
		return nil
	}
	g.mu.Lock()
	if g.active == 0 {
		g.mu.Unlock()
		return nil
	}
	if g.idle == nil {
		g.idle = make(chan struct{})
	}
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
