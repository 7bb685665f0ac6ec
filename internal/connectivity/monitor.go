// Package connectivity observes the host's view of the network and reports
// online/offline transitions to subscribers.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Prober answers whether the remote side is currently reachable. Implemented
// by the remote client's health check in production.
type Prober func(ctx context.Context) bool

// Monitor polls a Prober and emits at most one event per actual transition.
// Status is derived live: Online runs the probe at call time rather than
// serving a stale cached answer.
type Monitor struct {
	probe        Prober
	pollInterval time.Duration
	probeTimeout time.Duration

	mu      sync.Mutex
	online  bool
	known   bool
	subs    map[int]func(bool)
	nextSub int
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewMonitor(probe Prober, pollInterval, probeTimeout time.Duration) *Monitor {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Monitor{
		probe:        probe,
		pollInterval: pollInterval,
		probeTimeout: probeTimeout,
		subs:         make(map[int]func(bool)),
	}
}

// Online probes the host platform now and returns the result. A transition
// observed here is also delivered to subscribers.
func (m *Monitor) Online(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	online := m.probe(probeCtx)
	m.record(online)
	return online
}

// Subscribe registers a transition listener and returns its unsubscribe
// func. Listeners receive the new online state, once per transition.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Start begins the polling loop. Returns an error if already running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("connectivity monitor is already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.runLoop(ctx)

	slog.InfoContext(ctx, "Connectivity monitor started", "poll_interval", m.pollInterval)
	return nil
}

// Stop halts the polling loop and waits for it to finish.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	close(m.stopCh)
	select {
	case <-m.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	return nil
}

func (m *Monitor) runLoop(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	// Probe immediately so subscribers learn the initial state quickly.
	m.Online(ctx)

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Online(ctx)
		}
	}
}

// record updates the last known state and notifies subscribers on change.
func (m *Monitor) record(online bool) {
	m.mu.Lock()
	if m.known && m.online == online {
		m.mu.Unlock()
		return
	}
	firstObservation := !m.known
	m.known = true
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	// The very first probe establishes a baseline; only report it when the
	// host turns out to be offline, so a healthy start stays quiet.
	if firstObservation && online {
		return
	}
	for _, fn := range subs {
		fn(online)
	}
}
