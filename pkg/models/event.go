// Package models defines data structures for radio samples, forensic
// events, and cell tower records.
package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a forensic event.
type EventType string

// Event types, ordered roughly by how often they fire.
const (
	EventRadioMetricsUpdate    EventType = "RADIO_METRICS_UPDATE"
	EventRRCStateChange        EventType = "RRC_STATE_CHANGE"
	EventRRCAnomaly            EventType = "RRC_ANOMALY"
	EventSignalAnomaly         EventType = "SIGNAL_ANOMALY"
	EventInterferenceDetected  EventType = "INTERFERENCE_DETECTED"
	EventHandoverAnomaly       EventType = "HANDOVER_ANOMALY"
	EventHandoverPingPong      EventType = "HANDOVER_PINGPONG"
	EventCellDowngrade         EventType = "CELL_DOWNGRADE"
	EventNetworkDegradation    EventType = "NETWORK_DEGRADATION"
	EventSilentSMS             EventType = "SILENT_SMS"
	EventCipheringOff          EventType = "CIPHERING_OFF"
	EventIMSICatcherAlert      EventType = "IMSI_CATCHER_ALERT"
	EventLocationAnomaly       EventType = "LOCATION_ANOMALY"
	EventBasebandFingerprint   EventType = "BASEBAND_FINGERPRINT"
	EventVulnerableBaseband    EventType = "VULNERABLE_BASEBAND"
	EventTimingAdvanceAnomaly  EventType = "TIMING_ADVANCE_ANOMALY"
)

// knownEventTypes is the set of valid event types for boundary checks.
var knownEventTypes = map[EventType]bool{
	EventRadioMetricsUpdate:   true,
	EventRRCStateChange:       true,
	EventRRCAnomaly:           true,
	EventSignalAnomaly:        true,
	EventInterferenceDetected: true,
	EventHandoverAnomaly:      true,
	EventHandoverPingPong:     true,
	EventCellDowngrade:        true,
	EventNetworkDegradation:   true,
	EventSilentSMS:            true,
	EventCipheringOff:         true,
	EventIMSICatcherAlert:     true,
	EventLocationAnomaly:      true,
	EventBasebandFingerprint:  true,
	EventVulnerableBaseband:   true,
	EventTimingAdvanceAnomaly: true,
}

// KnownEventType reports whether t is one of the defined event types.
func KnownEventType(t EventType) bool {
	return knownEventTypes[t]
}

// ForensicEvent is an immutable record of a detected anomaly or a radio
// metrics snapshot. Events are created by the detection engine or the
// tower verification pipeline and never mutated afterwards.
type ForensicEvent struct {
	ID          string
	Timestamp   time.Time
	Type        EventType
	Severity    int // 1..10
	Description string

	CellID      string
	MCC         string
	MNC         string
	LAC         *int
	TAC         *int
	PCI         *int
	EARFCN      *int
	NetworkType string

	SignalDBM     *int
	NeighborCount *int
	TimingAdvance *int
	Baseband      string

	SimSlot int
	RawData string
}

// NewEvent creates an event with a fresh ID and timestamp. Field
// validation happens at the ingestion boundary, not here.
func NewEvent(t EventType, severity int, description string, simSlot int) ForensicEvent {
	return ForensicEvent{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Type:        t,
		Severity:    severity,
		Description: description,
		SimSlot:     simSlot,
	}
}

// DedupKey identifies events that describe the same observation. Events
// with equal keys inside the dedup window are dropped.
func (e ForensicEvent) DedupKey() string {
	return string(e.Type) + "|" + e.Description + "|" + e.CellID + "|" + strconv.Itoa(e.SimSlot)
}
