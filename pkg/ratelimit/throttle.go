package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ThrottleGate gates per-cell provider lookups. The local gate is always
// consulted first; when a Redis client is configured it acts as a shared
// arbiter across processes via SET NX with the window as expiry. Redis
// being absent or failing degrades to local-only throttling.
type ThrottleGate struct {
	local  *Gate
	redis  *redis.Client
	prefix string
	window time.Duration
}

// NewThrottleGate creates a throttle with the given window. redisClient
// may be nil.
func NewThrottleGate(window time.Duration, redisClient *redis.Client) *ThrottleGate {
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	return &ThrottleGate{
		local:  NewGate(window),
		redis:  redisClient,
		prefix: "cellsentry:throttle:",
		window: window,
	}
}

// CanQuery returns true if a provider lookup for cellID is allowed now,
// recording the attempt. A false result means the caller must skip all
// network calls for this cell.
func (t *ThrottleGate) CanQuery(ctx context.Context, cellID string) bool {
	if !t.local.Allow(cellID) {
		return false
	}
	if t.redis == nil {
		return true
	}

	ok, err := t.redis.SetNX(ctx, t.prefix+cellID, time.Now().UnixMilli(), t.window).Result()
	if err != nil {
		// Shared tier unavailable; the local gate already admitted us.
		log.Printf("[throttle] redis error for cell %s: %v", cellID, err)
		return true
	}
	if !ok {
		// Another process queried this cell inside the window. Re-arm the
		// local gate so a retry after the window is not double-penalized.
		t.local.Reset(cellID)
		return false
	}
	return true
}

// Window returns the configured throttle window.
func (t *ThrottleGate) Window() time.Duration { return t.window }

// Stop releases the local gate's janitor.
func (t *ThrottleGate) Stop() { t.local.Stop() }

// Stats returns throttle counters.
func (t *ThrottleGate) Stats() map[string]interface{} {
	s := t.local.Stats()
	s["redis"] = t.redis != nil
	return s
}
