package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestGateCooldownIdempotence(t *testing.T) {
	g := NewGate(50 * time.Millisecond)
	defer g.Stop()

	key := CooldownKey("CIPHERING_OFF", 0)

	if !g.Allow(key) {
		t.Fatal("First alert must pass")
	}
	if g.Allow(key) {
		t.Error("Second alert inside the window must be suppressed")
	}

	time.Sleep(60 * time.Millisecond)
	if !g.Allow(key) {
		t.Error("Alert after the window must pass again")
	}
}

func TestGateHonorsConfiguredWindow(t *testing.T) {
	short := NewGate(20 * time.Millisecond)
	defer short.Stop()
	long := NewGate(time.Minute)
	defer long.Stop()

	short.Allow("k")
	long.Allow("k")

	time.Sleep(40 * time.Millisecond)
	if !short.Allow("k") {
		t.Error("Short-window gate must re-admit after its window")
	}
	if long.Allow("k") {
		t.Error("Long-window gate must still suppress")
	}
}

func TestGateKeysAreIndependent(t *testing.T) {
	g := NewGate(time.Minute)
	defer g.Stop()

	if !g.Allow(CooldownKey("SILENT_SMS", 0)) {
		t.Error("SIM 0 key must pass")
	}
	if !g.Allow(CooldownKey("SILENT_SMS", 1)) {
		t.Error("SIM 1 key must pass independently")
	}
	if !g.Allow(CooldownKey("CELL_DOWNGRADE", 0)) {
		t.Error("Different alert type must pass independently")
	}
}

func TestGateConcurrentSingleWinner(t *testing.T) {
	g := NewGate(time.Minute)
	defer g.Stop()

	const goroutines = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	passed := 0

	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if g.Allow("cell-1234") {
				mu.Lock()
				passed++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if passed != 1 {
		t.Errorf("Expected exactly one concurrent caller to pass, got %d", passed)
	}
}

func TestGateStats(t *testing.T) {
	g := NewGate(time.Minute)
	defer g.Stop()

	g.Allow("a")
	g.Allow("a")
	g.Allow("b")

	s := g.Stats()
	if s["allowed"].(uint64) != 2 {
		t.Errorf("Expected 2 allowed, got %v", s["allowed"])
	}
	if s["suppressed"].(uint64) != 1 {
		t.Errorf("Expected 1 suppressed, got %v", s["suppressed"])
	}
	if s["keys"].(int) != 2 {
		t.Errorf("Expected 2 keys, got %v", s["keys"])
	}
}

func TestGatePeekDoesNotRecord(t *testing.T) {
	g := NewGate(time.Minute)
	defer g.Stop()

	if !g.Peek("cell-x") {
		t.Fatal("Unseen key must peek as allowed")
	}
	if !g.Allow("cell-x") {
		t.Fatal("Peek must not have consumed the window")
	}
	if g.Peek("cell-x") {
		t.Error("Key inside the window must peek as suppressed")
	}
}

func TestGateReset(t *testing.T) {
	g := NewGate(time.Minute)
	defer g.Stop()

	g.Allow("cell-x")
	if g.Allow("cell-x") {
		t.Fatal("Expected suppression before reset")
	}
	g.Reset("cell-x")
	if !g.Allow("cell-x") {
		t.Error("Expected pass after reset")
	}
}

func TestThrottleGateLocalOnly(t *testing.T) {
	tg := NewThrottleGate(50*time.Millisecond, nil)
	defer tg.Stop()

	ctxDone := testContext(t)
	if !tg.CanQuery(ctxDone, "260f1") {
		t.Fatal("First query must be allowed")
	}
	if tg.CanQuery(ctxDone, "260f1") {
		t.Error("Query inside the window must be throttled")
	}
	if !tg.CanQuery(ctxDone, "ffff0") {
		t.Error("Different cell must not be throttled")
	}

	time.Sleep(70 * time.Millisecond)
	if !tg.CanQuery(ctxDone, "260f1") {
		t.Error("Query after the window must be allowed")
	}
}
