// Package registry persists the per-tower trust state. A tower record
// is created on first sighting and carries verification coordinates,
// observation history, and the user-controlled block flag.
package registry

import (
	"time"

	"github.com/cellsentry/cell-sentry/pkg/models"
)

// Observed carries the mutable per-sighting fields applied by Refresh.
type Observed struct {
	PCI *int
	TA  *int
	DBM *int
}

// TowerRegistry is the storage interface for tower trust records.
//
// Merge rules: Upsert is last-writer-wins per field, except isVerified
// which sticks at true once set (only Demote clears it) and isBlocked
// which only SetBlocked changes. FirstSeen is set once.
type TowerRegistry interface {
	// Get returns the record for a cell, or found=false.
	Get(cellID string) (models.TowerRecord, bool, error)

	// Upsert creates or merges a record.
	Upsert(record models.TowerRecord) error

	// Refresh bumps lastSeen and the observed radio fields without
	// touching verification state. Unknown cells are a no-op.
	Refresh(cellID string, at time.Time, obs Observed) error

	// SetBlocked sets the user block flag.
	SetBlocked(cellID string, blocked bool) error

	// Demote clears the verified flag. Not used by the refresh or
	// lookup paths; exists for operator correction.
	Demote(cellID string) error

	// Blocked returns all records with the block flag set.
	Blocked() ([]models.TowerRecord, error)

	// InArea returns records whose coordinates fall inside the box.
	InArea(box models.BoundingBox) ([]models.TowerRecord, error)

	// DeleteOlderThan removes unverified, unblocked records not seen
	// since the cutoff. Returns the number deleted.
	DeleteOlderThan(cutoff time.Time) (int, error)
}

// merge applies the Upsert rules onto an existing record.
func merge(existing, incoming models.TowerRecord) models.TowerRecord {
	out := incoming

	out.FirstSeen = existing.FirstSeen
	if out.LastSeen.IsZero() {
		out.LastSeen = existing.LastSeen
	}

	// Sticky verification: once verified, stays verified.
	if existing.IsVerified {
		out.IsVerified = true
	}
	// The block flag belongs to SetBlocked alone.
	out.IsBlocked = existing.IsBlocked

	if out.Latitude == nil {
		out.Latitude = existing.Latitude
	}
	if out.Longitude == nil {
		out.Longitude = existing.Longitude
	}
	if out.Range == nil {
		out.Range = existing.Range
	}
	if out.Samples == nil {
		out.Samples = existing.Samples
	}
	if out.Changeable == nil {
		out.Changeable = existing.Changeable
	}
	if out.PCI == nil {
		out.PCI = existing.PCI
	}
	if out.TA == nil {
		out.TA = existing.TA
	}
	if out.DBM == nil {
		out.DBM = existing.DBM
	}
	if out.MCC == "" {
		out.MCC = existing.MCC
	}
	if out.MNC == "" {
		out.MNC = existing.MNC
	}
	if out.LAC == 0 {
		out.LAC = existing.LAC
	}
	if out.RAT == "" {
		out.RAT = existing.RAT
	}
	if out.Source == "" {
		out.Source = existing.Source
	}
	return out
}
