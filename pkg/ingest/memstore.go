package ingest

import (
	"sync"
	"time"

	"github.com/cellsentry/cell-sentry/pkg/models"
)

// MemoryStore keeps events in memory for database-less deployments and
// tests. The cap is a safety valve for long unattended runs.
type MemoryStore struct {
	mu     sync.Mutex
	events []models.ForensicEvent
	cap    int
}

const defaultMemoryCap = 100000

// NewMemoryStore creates a store with the default cap.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cap: defaultMemoryCap}
}

func (s *MemoryStore) Enqueue(ev models.ForensicEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) > s.cap {
		s.events = s.events[len(s.events)-s.cap:]
	}
	return nil
}

func (s *MemoryStore) DeleteMetricsOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	deleted := 0
	for _, ev := range s.events {
		if ev.Type == models.EventRadioMetricsUpdate && ev.Severity < 7 && ev.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return deleted, nil
}

// Events returns a copy of the stored events.
func (s *MemoryStore) Events() []models.ForensicEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ForensicEvent, len(s.events))
	copy(out, s.events)
	return out
}
