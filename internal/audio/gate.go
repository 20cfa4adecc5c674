package audio

import "sync"

// PauseGate suspends the capture goroutine between frames. Pause and
// Resume may be called from any goroutine; WaitWhilePaused is called only
// by the capture goroutine.
//
// A single mutex guards both the paused flag and the condition variable,
// so a Resume that lands between the paused check and the wait is still
// observed.
type PauseGate struct {
	mu       sync.Mutex
	cond     *sync.Cond
	paused   bool
	released bool
}

// NewPauseGate returns an unpaused gate.
func NewPauseGate() *PauseGate {
	g := &PauseGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Pause marks the gate paused. It never blocks.
func (g *PauseGate) Pause() {
	g.mu.Lock()
	g.paused = true
	g.mu.Unlock()
}

// Resume clears the paused flag and wakes every waiter.
func (g *PauseGate) Resume() {
	g.mu.Lock()
	g.paused = false
	g.cond.Broadcast()
	g.mu.Unlock()
}

// Paused reports whether the gate is currently paused.
func (g *PauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// WaitWhilePaused blocks until the gate is resumed or released. It returns
// immediately when the gate is not paused.
func (g *PauseGate) WaitWhilePaused() {
	g.mu.Lock()
	for g.paused && !g.released {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

// release lets a paused waiter exit without clearing the paused flag, so
// a stop issued while paused does not deadlock the join.
func (g *PauseGate) release() {
	g.mu.Lock()
	g.released = true
	g.cond.Broadcast()
	g.mu.Unlock()
}

// rearm resets the gate for a new session.
func (g *PauseGate) rearm() {
	g.mu.Lock()
	g.released = false
	g.paused = false
	g.mu.Unlock()
}
