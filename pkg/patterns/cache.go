// Package patterns provides a compiled-regex cache with TTL and hybrid
// age/frequency eviction, and bounded-time match execution so untrusted
// log text can never stall the pipeline.
//
// Go's regexp engine is RE2 and runs in linear time, so catastrophic
// backtracking is impossible by construction. The wall-clock budget still
// matters: very long inputs are O(len(input)*len(pattern)), and a match
// that misses its deadline is reported as "no match" and discarded.
package patterns

import (
	"log"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// DefaultTimeout is the per-match wall-clock budget.
	DefaultTimeout = 100 * time.Millisecond
	// MaxTimeout caps caller-supplied budgets.
	MaxTimeout = 5 * time.Second

	// DefaultCapacity bounds the number of cached compiled patterns.
	DefaultCapacity = 500
	// DefaultTTL expires compiled patterns that have not been recompiled.
	DefaultTTL = 5 * time.Minute

	// evictFraction is the share of entries removed on overflow.
	evictFraction = 10 // one tenth

	defaultWorkers = 4
	jobQueueSize   = 64
)

var (
	metricHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellsentry", Subsystem: "patterns",
		Name: "cache_hits_total", Help: "Pattern cache hits.",
	})
	metricMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellsentry", Subsystem: "patterns",
		Name: "cache_misses_total", Help: "Pattern cache misses.",
	})
	metricCompilations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellsentry", Subsystem: "patterns",
		Name: "compilations_total", Help: "Regex compilations performed.",
	})
	metricTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellsentry", Subsystem: "patterns",
		Name: "match_timeouts_total", Help: "Matches abandoned at their deadline.",
	})
)

type entry struct {
	re          *regexp.Regexp // nil means the pattern failed to compile
	insertedAt  time.Time
	lastAccess  time.Time
	accessCount uint64
}

type job struct {
	run func() interface{}
	res chan interface{}
}

// Cache compiles patterns once, keyed by source text, and executes
// matches on a bounded worker pool under a hard deadline.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	capacity int
	ttl      time.Duration

	jobs chan job
	done chan struct{}
	wg   sync.WaitGroup

	// Stats
	hits         uint64
	misses       uint64
	compilations uint64
	compileFails uint64
	timeouts     uint64
	evictions    uint64
}

// New creates a cache with the default capacity, TTL, and worker count.
func New() *Cache {
	return NewWith(DefaultCapacity, DefaultTTL, defaultWorkers)
}

// NewWith creates a cache with explicit bounds.
func NewWith(capacity int, ttl time.Duration, workers int) *Cache {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if workers < 1 {
		workers = defaultWorkers
	}
	c := &Cache{
		entries:  make(map[string]*entry),
		capacity: capacity,
		ttl:      ttl,
		jobs:     make(chan job, jobQueueSize),
		done:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

func (c *Cache) worker() {
	defer c.wg.Done()
	for {
		select {
		case j := <-c.jobs:
			v := j.run()
			// Buffered; if the caller already gave up the result is dropped.
			select {
			case j.res <- v:
			default:
			}
		case <-c.done:
			return
		}
	}
}

// Close stops the worker pool. In-flight matches finish; queued ones are
// abandoned.
func (c *Cache) Close() {
	close(c.done)
	c.wg.Wait()
}

// Match reports whether the pattern finds a match in input under the
// default budget. Compile failures and timeouts report no match.
func (c *Cache) Match(src, input string) bool {
	return c.MatchTimeout(src, input, DefaultTimeout)
}

// MatchTimeout is Match with an explicit budget, clamped to [1ms, MaxTimeout].
func (c *Cache) MatchTimeout(src, input string, timeout time.Duration) bool {
	re := c.compiled(src)
	if re == nil {
		return false
	}
	v, ok := c.execute(func() interface{} { return re.MatchString(input) }, timeout)
	if !ok {
		return false
	}
	return v.(bool)
}

// Extract returns the given capture group of the first match under the
// default budget. The second return is false when there is no match, the
// group does not exist, the pattern is invalid, or the budget elapsed.
func (c *Cache) Extract(src, input string, group int) (string, bool) {
	return c.ExtractTimeout(src, input, group, DefaultTimeout)
}

// ExtractTimeout is Extract with an explicit budget.
func (c *Cache) ExtractTimeout(src, input string, group int, timeout time.Duration) (string, bool) {
	re := c.compiled(src)
	if re == nil || group < 0 {
		return "", false
	}
	v, ok := c.execute(func() interface{} { return re.FindStringSubmatch(input) }, timeout)
	if !ok {
		return "", false
	}
	m, _ := v.([]string)
	if m == nil || group >= len(m) {
		return "", false
	}
	return m[group], true
}

// ExtractAll returns the given capture group from every match of the
// pattern in input, under the default budget. Snapshot parsing uses this
// to keep the last non-sentinel occurrence of a field.
func (c *Cache) ExtractAll(src, input string, group int) []string {
	return c.ExtractAllTimeout(src, input, group, DefaultTimeout)
}

// ExtractAllTimeout is ExtractAll with an explicit budget.
func (c *Cache) ExtractAllTimeout(src, input string, group int, timeout time.Duration) []string {
	re := c.compiled(src)
	if re == nil || group < 0 {
		return nil
	}
	v, ok := c.execute(func() interface{} { return re.FindAllStringSubmatch(input, -1) }, timeout)
	if !ok {
		return nil
	}
	matches, _ := v.([][]string)
	var out []string
	for _, m := range matches {
		if group < len(m) {
			out = append(out, m[group])
		}
	}
	return out
}

func (c *Cache) execute(run func() interface{}, timeout time.Duration) (interface{}, bool) {
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	res := make(chan interface{}, 1)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case c.jobs <- job{run: run, res: res}:
	case <-deadline.C:
		atomic.AddUint64(&c.timeouts, 1)
		metricTimeouts.Inc()
		return nil, false
	}

	select {
	case v := <-res:
		return v, true
	case <-deadline.C:
		atomic.AddUint64(&c.timeouts, 1)
		metricTimeouts.Inc()
		return nil, false
	}
}

// compiled returns the compiled pattern for src, compiling and caching it
// on a miss. Returns nil for patterns that do not compile.
func (c *Cache) compiled(src string) *regexp.Regexp {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[src]; ok {
		if now.Sub(e.insertedAt) < c.ttl {
			e.accessCount++
			e.lastAccess = now
			atomic.AddUint64(&c.hits, 1)
			metricHits.Inc()
			return e.re
		}
		delete(c.entries, src)
	}

	atomic.AddUint64(&c.misses, 1)
	metricMisses.Inc()
	atomic.AddUint64(&c.compilations, 1)
	metricCompilations.Inc()

	re, err := regexp.Compile(src)
	if err != nil {
		atomic.AddUint64(&c.compileFails, 1)
		log.Printf("[patterns] invalid pattern %.50q: %v", src, err)
		re = nil // cached negatively so we warn once per TTL
	}

	if len(c.entries) >= c.capacity {
		c.evictLocked(now)
	}
	c.entries[src] = &entry{re: re, insertedAt: now, lastAccess: now, accessCount: 1}
	return re
}

// evictLocked removes the bottom tenth of entries ranked by insertion
// age, then access count, then last access. Caller holds c.mu.
func (c *Cache) evictLocked(now time.Time) {
	type ranked struct {
		key string
		e   *entry
	}
	all := make([]ranked, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, ranked{k, e})
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].e, all[j].e
		if !a.insertedAt.Equal(b.insertedAt) {
			return a.insertedAt.Before(b.insertedAt)
		}
		if a.accessCount != b.accessCount {
			return a.accessCount < b.accessCount
		}
		return a.lastAccess.Before(b.lastAccess)
	})

	n := c.capacity / evictFraction
	if n < 1 {
		n = 1
	}
	if n > len(all) {
		n = len(all)
	}
	for _, r := range all[:n] {
		delete(c.entries, r.key)
	}
	atomic.AddUint64(&c.evictions, uint64(n))
}

// Stats returns cache counters for observability.
func (c *Cache) Stats() map[string]interface{} {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()

	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses) * 100
	}
	return map[string]interface{}{
		"size":          size,
		"capacity":      c.capacity,
		"hits":          hits,
		"misses":        misses,
		"hit_rate_pct":  hitRate,
		"compilations":  atomic.LoadUint64(&c.compilations),
		"compile_fails": atomic.LoadUint64(&c.compileFails),
		"timeouts":      atomic.LoadUint64(&c.timeouts),
		"evictions":     atomic.LoadUint64(&c.evictions),
	}
}
