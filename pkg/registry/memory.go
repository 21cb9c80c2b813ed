package registry

import (
	"sync"
	"time"

	"github.com/cellsentry/cell-sentry/pkg/models"
)

// MemoryRegistry is the in-process TowerRegistry used when no database
// is configured and in tests.
type MemoryRegistry struct {
	mu     sync.RWMutex
	towers map[string]models.TowerRecord
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{towers: make(map[string]models.TowerRecord)}
}

func (r *MemoryRegistry) Get(cellID string) (models.TowerRecord, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.towers[cellID]
	return rec, ok, nil
}

func (r *MemoryRegistry) Upsert(record models.TowerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if record.FirstSeen.IsZero() {
		record.FirstSeen = now
	}
	if record.LastSeen.IsZero() {
		record.LastSeen = now
	}

	if existing, ok := r.towers[record.CellID]; ok {
		record = merge(existing, record)
	}
	r.towers[record.CellID] = record
	return nil
}

func (r *MemoryRegistry) Refresh(cellID string, at time.Time, obs Observed) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.towers[cellID]
	if !ok {
		return nil
	}
	rec.LastSeen = at
	if obs.PCI != nil {
		rec.PCI = obs.PCI
	}
	if obs.TA != nil {
		rec.TA = obs.TA
	}
	if obs.DBM != nil {
		rec.DBM = obs.DBM
	}
	r.towers[cellID] = rec
	return nil
}

func (r *MemoryRegistry) SetBlocked(cellID string, blocked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.towers[cellID]
	if !ok {
		rec = models.TowerRecord{CellID: cellID, FirstSeen: time.Now(), LastSeen: time.Now()}
	}
	rec.IsBlocked = blocked
	r.towers[cellID] = rec
	return nil
}

func (r *MemoryRegistry) Demote(cellID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.towers[cellID]; ok {
		rec.IsVerified = false
		r.towers[cellID] = rec
	}
	return nil
}

func (r *MemoryRegistry) Blocked() ([]models.TowerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.TowerRecord
	for _, rec := range r.towers {
		if rec.IsBlocked {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *MemoryRegistry) InArea(box models.BoundingBox) ([]models.TowerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.TowerRecord
	for _, rec := range r.towers {
		if rec.Latitude == nil || rec.Longitude == nil {
			continue
		}
		if box.Contains(*rec.Latitude, *rec.Longitude) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *MemoryRegistry) DeleteOlderThan(cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for id, rec := range r.towers {
		if rec.IsVerified || rec.IsBlocked {
			continue
		}
		if rec.LastSeen.Before(cutoff) {
			delete(r.towers, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of records, for stats reporting.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.towers)
}
