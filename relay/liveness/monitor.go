package liveness

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const DefaultInterval = 15 * time.Second

// Target is a socket the monitor keeps an eye on
type Target interface {
	ID() string
	// Ping sends a heartbeat; the pong must be reported through Monitor.Pong.
	Ping() error
	// Terminate drops the transport without a close handshake.
	Terminate() error
	// Closed reports whether the socket is already closing or closed.
	Closed() bool
}

// Monitor terminates targets that did not answer the previous ping
type Monitor struct {
	interval time.Duration

	mu      sync.Mutex
	targets map[Target]bool

	// OnTerminate, when set, is called for every target dropped for silence.
	OnTerminate func(Target)
}

// NewMonitor creates a monitor ticking every interval. A non-positive interval uses
// DefaultInterval.
func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		interval: interval,
		targets:  make(map[Target]bool),
	}
}

// Track starts watching t. A fresh target counts as alive until the first tick.
func (m *Monitor) Track(t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[t] = true
}

// Untrack stops watching t
func (m *Monitor) Untrack(t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.targets, t)
}

// Pong records a heartbeat answer from t
func (m *Monitor) Pong(t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[t]; ok {
		m.targets[t] = true
	}
}

func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.targets)
}

// Run ticks until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.tick()
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) tick() {
	var silent, alive []Target

	m.mu.Lock()
	for t, awake := range m.targets {
		if t.Closed() {
			delete(m.targets, t)
			continue
		}
		if !awake {
			delete(m.targets, t)
			silent = append(silent, t)
			continue
		}
		m.targets[t] = false
		alive = append(alive, t)
	}
	m.mu.Unlock()

	for _, t := range silent {
		log.WithField("conn_id", t.ID()).Info("no pong since last heartbeat, terminating")
		if err := t.Terminate(); err != nil {
			log.WithField("conn_id", t.ID()).Debugf("terminate: %s", err)
		}
		if m.OnTerminate != nil {
			m.OnTerminate(t)
		}
	}

	for _, t := range alive {
		if err := t.Ping(); err != nil {
			log.WithField("conn_id", t.ID()).Debugf("ping failed: %s", err)
		}
	}
}
