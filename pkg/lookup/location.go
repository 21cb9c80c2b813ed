package lookup

import (
	"math"
	"sync"
	"time"

	"github.com/cellsentry/cell-sentry/pkg/models"
)

// LocationSource supplies the device's last known GPS fix for the
// plausibility cross-check.
type LocationSource interface {
	LastKnown() (models.Fix, bool)
}

// StaticLocation is a fixed or externally-updated fix, for stationary
// monitoring posts and tests.
type StaticLocation struct {
	mu  sync.RWMutex
	fix models.Fix
	set bool
}

// NewStaticLocation creates a source with no fix yet.
func NewStaticLocation() *StaticLocation { return &StaticLocation{} }

// Set updates the fix with the current time.
func (s *StaticLocation) Set(lat, lon float64) {
	s.mu.Lock()
	s.fix = models.Fix{Latitude: lat, Longitude: lon, Time: time.Now()}
	s.set = true
	s.mu.Unlock()
}

func (s *StaticLocation) LastKnown() (models.Fix, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fix, s.set
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
