package models

import "time"

// TowerRecord is the persistent trust and verification state for one cell,
// keyed by CellID. Created on first sighting, updated on every re-sighting
// or successful verification.
//
// Invariant: IsVerified implies Latitude and Longitude are non-nil.
// IsBlocked is user-controlled and never cleared automatically.
type TowerRecord struct {
	CellID    string
	MCC       string
	MNC       string
	LAC       int
	RAT       string
	FirstSeen time.Time
	LastSeen  time.Time

	Latitude   *float64
	Longitude  *float64
	Range      *float64
	Samples    *int
	Changeable *bool

	PCI *int
	TA  *int
	DBM *int

	IsVerified    bool
	IsMissingInDb bool
	IsBlocked     bool
	Source        string // provider name, or "Local GPS"
}

// LookupResult is the outcome of a tower verification query against the
// provider chain.
type LookupResult struct {
	Found      bool
	Lat        float64
	Lon        float64
	Range      *float64
	Samples    *int
	Changeable *bool
	Source     string
	Err        string
}

// BoundingBox is a latitude/longitude rectangle for area queries.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Contains reports whether the point lies inside the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}
