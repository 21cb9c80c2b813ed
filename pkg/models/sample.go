package models

import "time"

// RadioSample is a per-SIM snapshot extracted from one diagnostic line or
// one structured register dump. Samples are ephemeral: produced by the
// stream parser and consumed immediately by rule evaluation.
type RadioSample struct {
	Timestamp time.Time
	SimSlot   int

	CellID string // opaque, hex or decimal
	MCC    string
	MNC    string
	LAC    *int
	TAC    *int
	PCI    *int
	EARFCN *int

	SignalDBM     *int
	SINR          *int
	TimingAdvance *int
	NeighborCount *int

	NetworkType string // GSM, WCDMA/HSPA, LTE, NR (5G), Type-N
	RRCState    string

	RawLine string
}

// AreaCode returns the location or tracking area code, preferring LAC.
func (s RadioSample) AreaCode() *int {
	if s.LAC != nil {
		return s.LAC
	}
	return s.TAC
}

// Fix is a device GPS position with the time it was obtained.
type Fix struct {
	Latitude  float64
	Longitude float64
	Time      time.Time
}

// Fresh reports whether the fix is younger than maxAge.
func (f Fix) Fresh(maxAge time.Duration) bool {
	return time.Since(f.Time) <= maxAge
}

// IntPtr returns a pointer to v. Convenience for optional sample fields.
func IntPtr(v int) *int { return &v }

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }
