package patterns

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestMatchBasic(t *testing.T) {
	c := New()
	defer c.Close()

	if !c.Match(`A5/0`, "RR: Ciphering Mode A5/0 selected") {
		t.Error("Expected literal match")
	}
	if c.Match(`A5/0`, "RR: Ciphering Mode A5/3 selected") {
		t.Error("Expected no match")
	}
	if !c.Match(`(?i)ciphering:?\s*(OFF|0|NONE)`, "CIPHERING: off") {
		t.Error("Expected case-insensitive match")
	}
}

func TestExtractGroup(t *testing.T) {
	c := New()
	defer c.Close()

	v, ok := c.Extract(`(?i)sinr[:=]\s*(-?\d+)`, "lte stats sinr: -7 rsrq: -12", 1)
	if !ok || v != "-7" {
		t.Errorf("Expected -7, got %q (ok=%v)", v, ok)
	}

	if _, ok := c.Extract(`(?i)sinr[:=]\s*(-?\d+)`, "no signal fields here", 1); ok {
		t.Error("Expected extraction failure on non-matching input")
	}

	// Group out of range
	if _, ok := c.Extract(`(\d+)`, "cell 42", 5); ok {
		t.Error("Expected failure for non-existent group")
	}
}

func TestInvalidPatternIsNoMatch(t *testing.T) {
	c := New()
	defer c.Close()

	if c.Match(`([unclosed`, "anything") {
		t.Error("Invalid pattern must report no match")
	}
	// Second call hits the negative cache entry, still no match.
	if c.Match(`([unclosed`, "anything") {
		t.Error("Cached invalid pattern must report no match")
	}
	if _, ok := c.Extract(`([unclosed`, "anything", 1); ok {
		t.Error("Invalid pattern must report no extraction")
	}
}

func TestMatchRespectsBudget(t *testing.T) {
	c := New()
	defer c.Close()

	// A pattern with heavy alternation over a large input. RE2 cannot
	// backtrack catastrophically, so make the work proportional to input
	// size and give it a tight budget.
	input := strings.Repeat("ab", 2_000_000)
	pattern := `(a|b)+c$`

	start := time.Now()
	got := c.MatchTimeout(pattern, input, time.Millisecond)
	elapsed := time.Since(start)

	if got {
		t.Error("Expected no match")
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Match took %v, expected it bounded near the budget", elapsed)
	}
}

func TestCacheHitCounting(t *testing.T) {
	c := New()
	defer c.Close()

	c.Match(`cell`, "cell 1")
	c.Match(`cell`, "cell 2")
	c.Match(`cell`, "cell 3")

	stats := c.Stats()
	if stats["misses"].(uint64) != 1 {
		t.Errorf("Expected 1 miss, got %v", stats["misses"])
	}
	if stats["hits"].(uint64) != 2 {
		t.Errorf("Expected 2 hits, got %v", stats["hits"])
	}
	if stats["compilations"].(uint64) != 1 {
		t.Errorf("Expected 1 compilation, got %v", stats["compilations"])
	}
}

func TestTTLExpiryRecompiles(t *testing.T) {
	c := NewWith(10, 20*time.Millisecond, 2)
	defer c.Close()

	c.Match(`expired`, "expired input")
	time.Sleep(40 * time.Millisecond)
	c.Match(`expired`, "expired input")

	stats := c.Stats()
	if stats["compilations"].(uint64) != 2 {
		t.Errorf("Expected recompilation after TTL, got %v compilations", stats["compilations"])
	}
}

func TestEvictionOnOverflow(t *testing.T) {
	c := NewWith(20, time.Minute, 2)
	defer c.Close()

	for i := 0; i < 25; i++ {
		c.Match(fmt.Sprintf(`pattern%d`, i), "input")
	}

	stats := c.Stats()
	if stats["size"].(int) > 20 {
		t.Errorf("Cache size %v exceeds capacity", stats["size"])
	}
	if stats["evictions"].(uint64) == 0 {
		t.Error("Expected evictions to be recorded")
	}
}

func TestEvictionRemovesOldestFirst(t *testing.T) {
	c := NewWith(10, time.Minute, 2)
	defer c.Close()

	c.Match(`oldest`, "x")
	time.Sleep(2 * time.Millisecond)
	for i := 0; i < 9; i++ {
		c.Match(fmt.Sprintf(`filler%d`, i), "x")
	}
	// Overflow evicts the bottom tenth, ranked by insertion age first.
	c.Match(`overflow`, "x")

	before := c.Stats()["compilations"].(uint64)
	c.Match(`oldest`, "x")
	after := c.Stats()["compilations"].(uint64)
	if after != before+1 {
		t.Error("Oldest entry should have been evicted and recompiled")
	}

	before = after
	c.Match(`filler8`, "x")
	after = c.Stats()["compilations"].(uint64)
	if after != before {
		t.Error("Recently inserted entry should have survived eviction")
	}
}
