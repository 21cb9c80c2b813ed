package ingest

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cellsentry/cell-sentry/pkg/lookup"
	"github.com/cellsentry/cell-sentry/pkg/models"
	"github.com/cellsentry/cell-sentry/pkg/ratelimit"
)

var (
	ingestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellsentry", Subsystem: "ingest", Name: "events_total",
		Help: "Events accepted and persisted.",
	})
	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cellsentry", Subsystem: "ingest", Name: "rejected_total",
		Help: "Events rejected, by reason.",
	}, []string{"reason"})
	notificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellsentry", Subsystem: "ingest", Name: "notifications_total",
		Help: "High-severity notifications raised.",
	})
	lookupsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellsentry", Subsystem: "ingest", Name: "lookups_forwarded_total",
		Help: "Cell sightings handed to the verification pipeline.",
	})
)

const (
	// NotifySeverity is the floor above which an event raises a
	// notification.
	NotifySeverity = 7

	defaultLookupWorkers = 4
	lookupQueueSize      = 1000

	// DefaultRetention is how long routine metrics events are kept.
	DefaultRetention     = 24 * time.Hour
	defaultPruneInterval = time.Hour
)

// Notifier receives high-severity alerts exactly once per accepted
// event.
type Notifier interface {
	Raise(ev models.ForensicEvent)
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

func (LogNotifier) Raise(ev models.ForensicEvent) {
	log.Printf("[ALERT] severity=%d type=%s sim=%d: %s", ev.Severity, ev.Type, ev.SimSlot, ev.Description)
}

// Verifier is the tower verification entry point.
type Verifier interface {
	Lookup(ctx context.Context, req lookup.Request) models.LookupResult
}

// Ingestor is the single write path for forensic events: validate,
// dedup, persist, notify, and forward cell sightings for verification.
type Ingestor struct {
	store    EventStore
	dedup    *ratelimit.Gate
	notifier Notifier
	verifier Verifier

	retention     time.Duration
	pruneInterval time.Duration
	workers       int

	requests chan lookup.Request
	done     chan struct{}
	wg       sync.WaitGroup
	running  atomic.Bool

	accepted       uint64
	rejected       uint64
	duplicates     uint64
	notified       uint64
	forwarded      uint64
	forwardDropped uint64
}

// NewIngestor wires the write path. verifier may be nil when the
// pipeline is disabled.
func NewIngestor(store EventStore, dedup *ratelimit.Gate, notifier Notifier, verifier Verifier) *Ingestor {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Ingestor{
		store:         store,
		dedup:         dedup,
		notifier:      notifier,
		verifier:      verifier,
		retention:     DefaultRetention,
		pruneInterval: defaultPruneInterval,
		workers:       defaultLookupWorkers,
		requests:      make(chan lookup.Request, lookupQueueSize),
		done:          make(chan struct{}),
	}
}

// SetVerifier installs the verification pipeline. Must be called before
// Start; the pipeline's event sink usually points back at this ingestor,
// so the two are constructed first and wired after.
func (i *Ingestor) SetVerifier(v Verifier) {
	i.verifier = v
}

// SetWorkers overrides the lookup worker count. Must be called before
// Start.
func (i *Ingestor) SetWorkers(n int) {
	if n > 0 {
		i.workers = n
	}
}

// SetRetention overrides the metrics retention horizon.
func (i *Ingestor) SetRetention(retention time.Duration) {
	if retention > 0 {
		i.retention = retention
	}
}

// Start launches the lookup workers and the pruner.
func (i *Ingestor) Start() {
	if i.running.Swap(true) {
		return
	}
	workers := i.workers
	if i.verifier == nil {
		workers = 0
	}
	for n := 0; n < workers; n++ {
		i.wg.Add(1)
		go i.lookupWorker()
	}
	i.wg.Add(1)
	go i.pruneLoop()
	log.Printf("[ingest] started (%d lookup workers, retention %v)", workers, i.retention)
}

// Stop drains the workers. Pending lookup requests are abandoned.
func (i *Ingestor) Stop() {
	if !i.running.Swap(false) {
		return
	}
	close(i.done)
	i.wg.Wait()
	log.Printf("[ingest] stopped (accepted=%d, rejected=%d, duplicates=%d)",
		atomic.LoadUint64(&i.accepted), atomic.LoadUint64(&i.rejected),
		atomic.LoadUint64(&i.duplicates))
}

// Ingest runs the write path for one event. The returned error is
// always an *IngestError when non-nil.
func (i *Ingestor) Ingest(ev models.ForensicEvent) error {
	if field := models.ValidateEvent(ev); field != "" {
		atomic.AddUint64(&i.rejected, 1)
		rejectedTotal.WithLabelValues("invalid").Inc()
		return &IngestError{Kind: KindInvalid, Field: field}
	}

	if !i.dedup.Allow(ev.DedupKey()) {
		atomic.AddUint64(&i.duplicates, 1)
		rejectedTotal.WithLabelValues("duplicate").Inc()
		return &IngestError{Kind: KindDuplicate}
	}

	if err := i.store.Enqueue(ev); err != nil {
		atomic.AddUint64(&i.rejected, 1)
		rejectedTotal.WithLabelValues("queue_full").Inc()
		return err
	}
	atomic.AddUint64(&i.accepted, 1)
	ingestedTotal.Inc()

	if ev.Severity >= NotifySeverity {
		atomic.AddUint64(&i.notified, 1)
		notificationsTotal.Inc()
		i.notifier.Raise(ev)
	}

	i.forward(ev)
	return nil
}

// Submit satisfies the verification pipeline's event sink.
func (i *Ingestor) Submit(ev models.ForensicEvent) error { return i.Ingest(ev) }

// forward hands a cell sighting to the lookup pool. Never blocks the
// ingest path; a full pool drops the request.
func (i *Ingestor) forward(ev models.ForensicEvent) {
	if i.verifier == nil || ev.CellID == "" || ev.MCC == "" || ev.MNC == "" {
		return
	}
	req := lookup.Request{
		CellID:    ev.CellID,
		MCC:       ev.MCC,
		MNC:       ev.MNC,
		RAT:       ev.NetworkType,
		SimSlot:   ev.SimSlot,
		PCI:       ev.PCI,
		TA:        ev.TimingAdvance,
		SignalDBM: ev.SignalDBM,
	}
	if ev.LAC != nil {
		req.LAC = *ev.LAC
	} else if ev.TAC != nil {
		req.LAC = *ev.TAC
	}

	select {
	case i.requests <- req:
		atomic.AddUint64(&i.forwarded, 1)
		lookupsForwarded.Inc()
	default:
		atomic.AddUint64(&i.forwardDropped, 1)
	}
}

// Stats returns ingest counters.
func (i *Ingestor) Stats() map[string]interface{} {
	return map[string]interface{}{
		"accepted":        atomic.LoadUint64(&i.accepted),
		"rejected":        atomic.LoadUint64(&i.rejected),
		"duplicates":      atomic.LoadUint64(&i.duplicates),
		"notified":        atomic.LoadUint64(&i.notified),
		"forwarded":       atomic.LoadUint64(&i.forwarded),
		"forward_dropped": atomic.LoadUint64(&i.forwardDropped),
		"lookup_queue":    len(i.requests),
	}
}

func (i *Ingestor) lookupWorker() {
	defer i.wg.Done()
	for {
		select {
		case req := <-i.requests:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			i.verifier.Lookup(ctx, req)
			cancel()
		case <-i.done:
			return
		}
	}
}

func (i *Ingestor) pruneLoop() {
	defer i.wg.Done()
	ticker := time.NewTicker(i.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-i.retention)
			n, err := i.store.DeleteMetricsOlderThan(cutoff)
			if err != nil {
				log.Printf("[ingest] prune failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[ingest] pruned %d metrics events older than %v", n, i.retention)
			}
		case <-i.done:
			return
		}
	}
}
