// Package connectivity observes whether the marketplace backend is reachable
// and emits edge-triggered online/offline transitions.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Monitor probes a backend endpoint on an interval and tracks the online
// state. Callbacks fire once per transition, not on every check.
type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger

	mu        sync.RWMutex
	online    bool
	onOnline  []func()
	onOffline []func()

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewMonitor creates a monitor probing probeURL every interval.
func NewMonitor(probeURL string, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		probeURL: probeURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger.With("component", "connectivity"),
		stopCh:   make(chan struct{}),
	}
}

// Start performs an initial probe to seed the state, then begins the probe
// loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("connectivity monitor already running")
	}
	m.running = true
	m.online = m.probe(ctx)
	online := m.online
	m.mu.Unlock()

	m.logger.Info("connectivity monitor started", "online", online, "interval", m.interval)

	m.wg.Add(1)
	go m.loop(ctx)
	return nil
}

// Stop halts the probe loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("connectivity monitor stopped")
}

// Online returns the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// OnOnline registers a callback fired on each offline-to-online transition.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	m.onOnline = append(m.onOnline, fn)
	m.mu.Unlock()
}

// OnOffline registers a callback fired on each online-to-offline transition.
func (m *Monitor) OnOffline(fn func()) {
	m.mu.Lock()
	m.onOffline = append(m.onOffline, fn)
	m.mu.Unlock()
}

// Check probes immediately and applies any transition. Returns the new state.
func (m *Monitor) Check(ctx context.Context) bool {
	return m.setState(m.probe(ctx))
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.setState(m.probe(ctx))
		}
	}
}

// probe reports whether the backend answered at all. Any HTTP response means
// the network path is up; only transport errors count as offline.
func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		m.logger.Warn("bad probe URL", "url", m.probeURL, "error", err)
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// setState applies a probe result, firing transition callbacks outside the
// lock. Returns the new state.
func (m *Monitor) setState(online bool) bool {
	m.mu.Lock()
	if online == m.online {
		m.mu.Unlock()
		return online
	}
	m.online = online

	var fns []func()
	if online {
		fns = append(fns, m.onOnline...)
	} else {
		fns = append(fns, m.onOffline...)
	}
	m.mu.Unlock()

	if online {
		m.logger.Info("connectivity restored")
	} else {
		m.logger.Info("connectivity lost")
	}

	for _, fn := range fns {
		fn()
	}
	return online
}
