package executor

import (
	"context"
	"sync"
)

// pauseGate suspends the execution loop between suspension points. Pausing
// never interrupts an in-flight operation; the executor calls Wait at its
// yield points and blocks there until resumed or the context ends. Resume of
// a gate that is not paused is a no-op.
type pauseGate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func newPauseGate() *pauseGate {
	return &pauseGate{}
}

// Pause requests suspension at the next yield point. Returns false if the
// gate was already paused.
func (g *pauseGate) Pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return false
	}
	g.paused = true
	g.resume = make(chan struct{})
	return true
}

// Resume releases all goroutines blocked in Wait. Returns false if the gate
// was not paused.
func (g *pauseGate) Resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return false
	}
	g.paused = false
	close(g.resume)
	g.resume = nil
	return true
}

// Paused reports the current pause state
func (g *pauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait blocks while the gate is paused. It returns ctx.Err() if the context
// ends during the wait, nil otherwise.
func (g *pauseGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return ctx.Err()
	}
	resume := g.resume
	g.mu.Unlock()

	select {
	case <-resume:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
