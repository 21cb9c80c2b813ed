package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cellsentry/cell-sentry/pkg/lookup"
	"github.com/cellsentry/cell-sentry/pkg/models"
	"github.com/cellsentry/cell-sentry/pkg/ratelimit"
)

type stubNotifier struct {
	mu     sync.Mutex
	events []models.ForensicEvent
}

func (n *stubNotifier) Raise(ev models.ForensicEvent) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *stubNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type stubVerifier struct {
	requests chan lookup.Request
}

func (v *stubVerifier) Lookup(ctx context.Context, req lookup.Request) models.LookupResult {
	v.requests <- req
	return models.LookupResult{}
}

func newTestIngestor(t *testing.T, store EventStore, notifier Notifier, verifier Verifier) *Ingestor {
	t.Helper()
	gate := ratelimit.NewGate(ratelimit.DefaultDedupWindow)
	t.Cleanup(gate.Stop)
	return NewIngestor(store, gate, notifier, verifier)
}

func TestIngestAcceptsValidEvent(t *testing.T) {
	store := NewMemoryStore()
	ing := newTestIngestor(t, store, nil, nil)

	ev := models.NewEvent(models.EventSignalAnomaly, 7, "SUSPICIOUS: test signal", 0)
	if err := ing.Ingest(ev); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if got := store.Events(); len(got) != 1 || got[0].ID != ev.ID {
		t.Errorf("Expected the event persisted, got %d events", len(got))
	}
}

func TestIngestRejectsMalformedEvent(t *testing.T) {
	store := NewMemoryStore()
	ing := newTestIngestor(t, store, nil, nil)

	ev := models.NewEvent(models.EventSignalAnomaly, 7, "desc", 0)
	ev.Severity = 0
	err := ing.Ingest(ev)
	if !IsKind(err, KindInvalid) {
		t.Fatalf("Expected an invalid-kind error, got %v", err)
	}
	if ie := err.(*IngestError); ie.Field != "severity" {
		t.Errorf("Expected the severity field named, got %q", ie.Field)
	}
	if len(store.Events()) != 0 {
		t.Error("Rejected events must not be persisted")
	}
}

func TestIngestDeduplicates(t *testing.T) {
	store := NewMemoryStore()
	ing := newTestIngestor(t, store, nil, nil)

	first := models.NewEvent(models.EventCipheringOff, 10, "CRITICAL ALERT: same thing", 0)
	second := models.NewEvent(models.EventCipheringOff, 10, "CRITICAL ALERT: same thing", 0)

	if err := ing.Ingest(first); err != nil {
		t.Fatalf("First ingest failed: %v", err)
	}
	err := ing.Ingest(second)
	if !IsKind(err, KindDuplicate) {
		t.Fatalf("Expected a duplicate-kind error, got %v", err)
	}
	if len(store.Events()) != 1 {
		t.Errorf("Expected 1 persisted event, got %d", len(store.Events()))
	}

	// Same content on the other SIM is a distinct signature.
	other := models.NewEvent(models.EventCipheringOff, 10, "CRITICAL ALERT: same thing", 1)
	if err := ing.Ingest(other); err != nil {
		t.Errorf("Different slot must not dedup: %v", err)
	}
}

func TestNotifyOnlyAboveThreshold(t *testing.T) {
	notifier := &stubNotifier{}
	ing := newTestIngestor(t, NewMemoryStore(), notifier, nil)

	ing.Ingest(models.NewEvent(models.EventInterferenceDetected, 6, "WARNING: low", 0))
	if notifier.count() != 0 {
		t.Error("Severity 6 must not notify")
	}

	ing.Ingest(models.NewEvent(models.EventCipheringOff, 10, "CRITICAL: high", 0))
	if notifier.count() != 1 {
		t.Errorf("Expected exactly 1 notification, got %d", notifier.count())
	}
}

func TestForwardsCellSightings(t *testing.T) {
	verifier := &stubVerifier{requests: make(chan lookup.Request, 1)}
	ing := newTestIngestor(t, NewMemoryStore(), nil, verifier)
	ing.Start()
	defer ing.Stop()

	ev := models.NewEvent(models.EventRadioMetricsUpdate, 1, "Radio metrics update on SIM 1", 1)
	ev.CellID = "123456"
	ev.MCC = "262"
	ev.MNC = "2"
	ev.LAC = models.IntPtr(4711)
	ev.NetworkType = "LTE"
	if err := ing.Ingest(ev); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	select {
	case req := <-verifier.requests:
		if req.CellID != "123456" || req.MCC != "262" || req.LAC != 4711 {
			t.Errorf("Unexpected lookup request: %+v", req)
		}
		if req.SimSlot != 1 {
			t.Errorf("Request must carry the event's SIM slot, got %d", req.SimSlot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the lookup request")
	}
}

func TestNoForwardWithoutIdentity(t *testing.T) {
	verifier := &stubVerifier{requests: make(chan lookup.Request, 1)}
	ing := newTestIngestor(t, NewMemoryStore(), nil, verifier)
	ing.Start()
	defer ing.Stop()

	// Cell id but no PLMN: not enough for a provider query.
	ev := models.NewEvent(models.EventRadioMetricsUpdate, 1, "Radio metrics update on SIM 0", 0)
	ev.CellID = "123456"
	ing.Ingest(ev)

	select {
	case req := <-verifier.requests:
		t.Fatalf("Unexpected lookup request: %+v", req)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryStorePruneSparesAlerts(t *testing.T) {
	store := NewMemoryStore()
	old := time.Now().Add(-48 * time.Hour)

	staleMetric := models.NewEvent(models.EventRadioMetricsUpdate, 1, "old metric", 0)
	staleMetric.Timestamp = old
	staleAlert := models.NewEvent(models.EventCipheringOff, 10, "old alert", 0)
	staleAlert.Timestamp = old
	freshMetric := models.NewEvent(models.EventRadioMetricsUpdate, 1, "fresh metric", 0)

	store.Enqueue(staleMetric)
	store.Enqueue(staleAlert)
	store.Enqueue(freshMetric)

	deleted, err := store.DeleteMetricsOlderThan(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deletion, got %d", deleted)
	}
	for _, ev := range store.Events() {
		if ev.ID == staleMetric.ID {
			t.Error("Stale metric should be gone")
		}
	}
	if len(store.Events()) != 2 {
		t.Errorf("Expected 2 surviving events, got %d", len(store.Events()))
	}
}
