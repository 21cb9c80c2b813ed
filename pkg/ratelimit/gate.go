// Package ratelimit provides keyed "last seen at" gates used for alert
// cooldown suppression, event deduplication, and per-cell API throttling.
//
// All three uses share the same semantics: no eviction policy, entries
// expire by TTL, and every read-check-update is a single atomic
// test-and-set so two concurrent callers can never both pass for the
// same key inside one window.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultCooldown suppresses repeats of the same alert type per SIM.
	DefaultCooldown = 5 * time.Second
	// DefaultDedupWindow drops identical events from noisy sources.
	DefaultDedupWindow = 10 * time.Second
	// DefaultThrottleWindow gates outbound provider lookups per cell.
	// The conservative of the two historic values (5s vs 30s).
	DefaultThrottleWindow = 30 * time.Second

	janitorInterval = time.Minute
)

// Gate is a keyed test-and-set time gate with a fixed window.
type Gate struct {
	mu     sync.Mutex
	last   map[string]time.Time
	window time.Duration

	done    chan struct{}
	stopped atomic.Bool

	allowed    uint64
	suppressed uint64
}

// NewGate creates a gate with the given suppression window and starts a
// janitor that sweeps entries whose window has long passed, keeping the
// map bounded in practice.
func NewGate(window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	g := &Gate{
		last:   make(map[string]time.Time),
		window: window,
		done:   make(chan struct{}),
	}
	go g.janitor()
	return g
}

// Window returns the configured suppression window.
func (g *Gate) Window() time.Duration { return g.window }

// Allow returns true and records now if more than the window has
// elapsed since the last allowed call for key. Otherwise it suppresses.
func (g *Gate) Allow(key string) bool {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.last[key]; ok && now.Sub(last) < g.window {
		atomic.AddUint64(&g.suppressed, 1)
		return false
	}
	g.last[key] = now
	atomic.AddUint64(&g.allowed, 1)
	return true
}

// Peek reports whether key would currently be allowed, without
// recording anything.
func (g *Gate) Peek(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.last[key]
	return !ok || time.Since(last) >= g.window
}

// Reset forgets a key, re-arming it immediately.
func (g *Gate) Reset(key string) {
	g.mu.Lock()
	delete(g.last, key)
	g.mu.Unlock()
}

// Stop terminates the janitor goroutine.
func (g *Gate) Stop() {
	if g.stopped.Swap(true) {
		return
	}
	close(g.done)
}

// Stats returns gate counters.
func (g *Gate) Stats() map[string]interface{} {
	g.mu.Lock()
	size := len(g.last)
	g.mu.Unlock()
	return map[string]interface{}{
		"keys":       size,
		"allowed":    atomic.LoadUint64(&g.allowed),
		"suppressed": atomic.LoadUint64(&g.suppressed),
	}
}

func (g *Gate) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * g.window)
			g.mu.Lock()
			for k, t := range g.last {
				if t.Before(cutoff) {
					delete(g.last, k)
				}
			}
			g.mu.Unlock()
		case <-g.done:
			return
		}
	}
}

// CooldownKey builds the alert-cooldown key for an alert type and SIM.
func CooldownKey(alertType string, simSlot int) string {
	if simSlot == 1 {
		return alertType + "_SIM1"
	}
	return alertType + "_SIM0"
}
