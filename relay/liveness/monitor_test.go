package liveness

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeTarget struct {
	id string

	mu         sync.Mutex
	pings      int
	terminated int
	closed     bool
}

func (f *fakeTarget) ID() string { return f.id }

func (f *fakeTarget) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeTarget) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated++
	f.closed = true
	return nil
}

func (f *fakeTarget) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTarget) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings, f.terminated
}

func TestTickPingsResponsiveTargets(t *testing.T) {
	m := NewMonitor(time.Minute)
	target := &fakeTarget{id: "a"}
	m.Track(target)

	m.tick()
	m.Pong(target)
	m.tick()
	m.Pong(target)
	m.tick()

	pings, terminated := target.counts()
	assert.Equal(t, 3, pings)
	assert.Equal(t, 0, terminated)
	assert.Equal(t, 1, m.Len())
}

func TestTickTerminatesSilentTargets(t *testing.T) {
	m := NewMonitor(time.Minute)
	target := &fakeTarget{id: "a"}

	var dropped []Target
	m.OnTerminate = func(tg Target) { dropped = append(dropped, tg) }
	m.Track(target)

	m.tick()
	m.tick()

	pings, terminated := target.counts()
	assert.Equal(t, 1, pings)
	assert.Equal(t, 1, terminated)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, []Target{target}, dropped)

	m.tick()
	_, terminated = target.counts()
	assert.Equal(t, 1, terminated, "a terminated target is not terminated twice")
}

func TestTickForgetsClosedTargets(t *testing.T) {
	m := NewMonitor(time.Minute)
	target := &fakeTarget{id: "a", closed: true}
	m.Track(target)

	m.tick()

	pings, terminated := target.counts()
	assert.Equal(t, 0, pings)
	assert.Equal(t, 0, terminated)
	assert.Equal(t, 0, m.Len())
}

func TestPongForUntrackedTargetIsIgnored(t *testing.T) {
	m := NewMonitor(time.Minute)
	target := &fakeTarget{id: "a"}

	m.Pong(target)
	assert.Equal(t, 0, m.Len())

	m.Track(target)
	m.Untrack(target)
	m.Pong(target)
	assert.Equal(t, 0, m.Len())
}

func TestRunStopsWithContext(t *testing.T) {
	m := NewMonitor(5 * time.Millisecond)
	target := &fakeTarget{id: "a"}
	m.Track(target)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, terminated := target.counts()
		return terminated == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewMonitorDefaultInterval(t *testing.T) {
	assert.Equal(t, DefaultInterval, NewMonitor(0).interval)
}
