package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func waitReturns(g *PauseGate) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		g.WaitWhilePaused()
		close(done)
	}()
	return done
}

func TestPauseGate_UnpausedDoesNotBlock(t *testing.T) {
	g := NewPauseGate()

	select {
	case <-waitReturns(g):
	case <-time.After(time.Second):
		t.Fatal("WaitWhilePaused blocked on an unpaused gate")
	}
}

func TestPauseGate_ResumeWakesWaiter(t *testing.T) {
	g := NewPauseGate()
	g.Pause()
	assert.True(t, g.Paused())

	done := waitReturns(g)
	select {
	case <-done:
		t.Fatal("WaitWhilePaused returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	g.Resume()
	assert.False(t, g.Paused())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Resume did not wake the waiter")
	}
}

func TestPauseGate_Idempotent(t *testing.T) {
	g := NewPauseGate()

	g.Pause()
	g.Pause()
	assert.True(t, g.Paused())

	g.Resume()
	g.Resume()
	assert.False(t, g.Paused())
}

func TestPauseGate_ResumeBeforeWait(t *testing.T) {
	g := NewPauseGate()
	g.Pause()
	g.Resume()

	select {
	case <-waitReturns(g):
	case <-time.After(time.Second):
		t.Fatal("a resume issued before the wait was lost")
	}
}

func TestPauseGate_ReleaseUnblocksAndKeepsPaused(t *testing.T) {
	g := NewPauseGate()
	g.Pause()
	done := waitReturns(g)

	g.release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("release did not unblock the waiter")
	}
	assert.True(t, g.Paused())

	g.rearm()
	assert.False(t, g.Paused())
}
