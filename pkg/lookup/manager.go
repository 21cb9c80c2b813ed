package lookup

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/cellsentry/cell-sentry/pkg/models"
	"github.com/cellsentry/cell-sentry/pkg/ratelimit"
	"github.com/cellsentry/cell-sentry/pkg/registry"
)

const (
	// AnomalyThresholdKm is the distance above which a provider-reported
	// tower position contradicts the local fix.
	AnomalyThresholdKm = 50.0

	// fixMaxAge bounds how stale a GPS fix can be for the cross-check.
	fixMaxAge = 10 * time.Minute
)

// ScanTrigger requests a secondary hybrid scan. Fire and forget.
type ScanTrigger interface {
	Request(reason string)
}

// EventSink receives events produced by the verification pipeline
// itself, such as the location anomaly alert.
type EventSink interface {
	Submit(ev models.ForensicEvent) error
}

// Manager runs the verification pipeline for one cell sighting: registry
// check, throttle, provider chain, GPS cross-check, registry update.
type Manager struct {
	providers []Provider
	reg       registry.TowerRegistry
	throttle  *ratelimit.ThrottleGate
	location  LocationSource
	scans     ScanTrigger
	sink      EventSink

	lookups   uint64
	throttled uint64
	hits      uint64
	misses    uint64
	anomalies uint64
	refreshes uint64
}

// NewManager wires the pipeline. providers are tried in order. scans and
// sink may be nil.
func NewManager(providers []Provider, reg registry.TowerRegistry, throttle *ratelimit.ThrottleGate,
	location LocationSource, scans ScanTrigger, sink EventSink) *Manager {
	return &Manager{
		providers: providers,
		reg:       reg,
		throttle:  throttle,
		location:  location,
		scans:     scans,
		sink:      sink,
	}
}

// Stats returns pipeline counters.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"lookups":   atomic.LoadUint64(&m.lookups),
		"throttled": atomic.LoadUint64(&m.throttled),
		"hits":      atomic.LoadUint64(&m.hits),
		"misses":    atomic.LoadUint64(&m.misses),
		"anomalies": atomic.LoadUint64(&m.anomalies),
		"refreshes": atomic.LoadUint64(&m.refreshes),
	}
}

// Lookup verifies one cell sighting. Returns the provider result when
// the chain answered, or a zero result when the cell was already
// verified, throttled, or unknown everywhere.
func (m *Manager) Lookup(ctx context.Context, req Request) models.LookupResult {
	atomic.AddUint64(&m.lookups, 1)

	// A tower verified with coordinates only gets its sighting state
	// refreshed. No network traffic, and verification never regresses.
	existing, known, err := m.reg.Get(req.CellID)
	if err != nil {
		log.Printf("[lookup] registry get failed for cell %s: %v", req.CellID, err)
	}
	if known && existing.IsVerified && existing.Latitude != nil {
		atomic.AddUint64(&m.refreshes, 1)
		if err := m.reg.Refresh(req.CellID, time.Now(), registry.Observed{
			PCI: req.PCI, TA: req.TA, DBM: req.SignalDBM,
		}); err != nil {
			log.Printf("[lookup] refresh failed for cell %s: %v", req.CellID, err)
		}
		return models.LookupResult{}
	}

	if !m.throttle.CanQuery(ctx, req.CellID) {
		atomic.AddUint64(&m.throttled, 1)
		// No network inside the window; answer from whatever the
		// registry already holds.
		if known && existing.Latitude != nil && existing.Longitude != nil {
			return models.LookupResult{
				Found:  true,
				Lat:    *existing.Latitude,
				Lon:    *existing.Longitude,
				Range:  existing.Range,
				Source: existing.Source,
			}
		}
		return models.LookupResult{}
	}

	result := m.queryChain(ctx, req)
	if result.Found {
		atomic.AddUint64(&m.hits, 1)
		m.handleHit(req, result)
		return result
	}

	atomic.AddUint64(&m.misses, 1)
	m.handleMiss(req, known)
	return result
}

// queryChain tries each provider in priority order, stopping at the
// first that knows the cell. Failures and misses both fall through.
func (m *Manager) queryChain(ctx context.Context, req Request) models.LookupResult {
	for _, p := range m.providers {
		result := p.Lookup(ctx, req)
		if result.Err != "" {
			log.Printf("[lookup] provider %s failed for cell %s: %s", p.Name(), req.CellID, result.Err)
			continue
		}
		if result.Found {
			if !models.ValidCoordinates(result.Lat, result.Lon) {
				log.Printf("[lookup] provider %s returned invalid coordinates for cell %s: %f,%f",
					p.Name(), req.CellID, result.Lat, result.Lon)
				continue
			}
			return result
		}
	}
	return models.LookupResult{}
}

func (m *Manager) handleHit(req Request, result models.LookupResult) {
	record := models.TowerRecord{
		CellID:     req.CellID,
		MCC:        req.MCC,
		MNC:        req.MNC,
		LAC:        req.LAC,
		RAT:        req.RAT,
		LastSeen:   time.Now(),
		Latitude:   models.FloatPtr(result.Lat),
		Longitude:  models.FloatPtr(result.Lon),
		Range:      result.Range,
		Samples:    result.Samples,
		Changeable: result.Changeable,
		PCI:        req.PCI,
		TA:         req.TA,
		DBM:        req.SignalDBM,
		IsVerified: true,
		Source:     result.Source,
	}
	if err := m.reg.Upsert(record); err != nil {
		log.Printf("[lookup] upsert failed for cell %s: %v", req.CellID, err)
	}

	fix, ok := m.lastFreshFix()
	if !ok {
		return
	}
	distance := HaversineKm(fix.Latitude, fix.Longitude, result.Lat, result.Lon)
	if distance <= AnomalyThresholdKm {
		return
	}

	atomic.AddUint64(&m.anomalies, 1)
	log.Printf("[lookup] LOCATION ANOMALY: cell %s reported %.1f km away (source %s)",
		req.CellID, distance, result.Source)

	if m.sink != nil {
		ev := models.NewEvent(models.EventIMSICatcherAlert, 10,
			fmt.Sprintf("CRITICAL: Tower %s is %.1f km from its registered position (%s)",
				req.CellID, distance, result.Source), req.SimSlot)
		ev.CellID = req.CellID
		ev.MCC = req.MCC
		ev.MNC = req.MNC
		if err := m.sink.Submit(ev); err != nil {
			log.Printf("[lookup] anomaly event rejected: %v", err)
		}
	}
	if m.scans != nil {
		m.scans.Request(fmt.Sprintf("Location anomaly for cell %s", req.CellID))
	}
}

// handleMiss records an unknown-everywhere cell. With a fresh local fix
// the cell gets a provisional record anchored at the device position; a
// known cell just has its sighting refreshed.
func (m *Manager) handleMiss(req Request, known bool) {
	if known {
		if err := m.reg.Refresh(req.CellID, time.Now(), registry.Observed{
			PCI: req.PCI, TA: req.TA, DBM: req.SignalDBM,
		}); err != nil {
			log.Printf("[lookup] refresh failed for cell %s: %v", req.CellID, err)
		}
		return
	}

	fix, ok := m.lastFreshFix()
	if !ok {
		return
	}

	record := models.TowerRecord{
		CellID:        req.CellID,
		MCC:           req.MCC,
		MNC:           req.MNC,
		LAC:           req.LAC,
		RAT:           req.RAT,
		LastSeen:      time.Now(),
		Latitude:      models.FloatPtr(fix.Latitude),
		Longitude:     models.FloatPtr(fix.Longitude),
		PCI:           req.PCI,
		TA:            req.TA,
		DBM:           req.SignalDBM,
		IsMissingInDb: true,
		Source:        "Local GPS",
	}
	if err := m.reg.Upsert(record); err != nil {
		log.Printf("[lookup] provisional upsert failed for cell %s: %v", req.CellID, err)
	}
	log.Printf("[lookup] cell %s unknown to all providers, recorded provisionally", req.CellID)

	if m.scans != nil {
		m.scans.Request(fmt.Sprintf("Unknown Cell (%s)", req.CellID))
	}
}

func (m *Manager) lastFreshFix() (models.Fix, bool) {
	if m.location == nil {
		return models.Fix{}, false
	}
	fix, ok := m.location.LastKnown()
	if !ok || !fix.Fresh(fixMaxAge) {
		return models.Fix{}, false
	}
	return fix, true
}
