package detector

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cellsentry/cell-sentry/pkg/diagstream"
	"github.com/cellsentry/cell-sentry/pkg/models"
	"github.com/cellsentry/cell-sentry/pkg/patterns"
	"github.com/cellsentry/cell-sentry/pkg/ratelimit"
)

// Enforcement carries the collaborator-owned blocking configuration. The
// engine only changes severities and descriptions based on these flags
// and records what would have been blocked; actual enforcement is the
// collaborator's job.
type Enforcement struct {
	BlockGSM  bool
	RejectA50 bool
}

// BlockingEvent is a journal entry for an enforcement action.
type BlockingEvent struct {
	Timestamp   time.Time
	BlockType   string
	Description string
	SimSlot     int
	Severity    int
}

type simState struct {
	rrcState           string
	rrcChangedAt       time.Time
	lastLAC            *int
	lastCellID         string
	lastHandoverCellID string
}

// Engine evaluates the detection rules over parsed samples and raw
// lines, emitting cooldown-gated events to its channel. It is stateful
// per SIM: RRC transitions, last area codes, and the handover ring
// buffer live for the process lifetime; the first sample after a restart
// establishes a fresh baseline.
type Engine struct {
	cache    *patterns.Cache
	parser   *diagstream.Parser
	cooldown *ratelimit.Gate
	events   chan<- models.ForensicEvent

	mu          sync.Mutex
	enforcement Enforcement
	sims        [2]simState
	handovers   []handoverRecord
	journal     []BlockingEvent

	linesProcessed   uint64
	samplesProcessed uint64
	eventsEmitted    uint64
	eventsSuppressed uint64
}

type handoverRecord struct {
	at      time.Time
	source  string
	target  string
	simSlot int
}

// NewEngine creates a detection engine writing to events. The cooldown
// gate and pattern cache are injected so tests control time windows and
// budgets.
func NewEngine(cache *patterns.Cache, parser *diagstream.Parser, cooldown *ratelimit.Gate, events chan<- models.ForensicEvent) *Engine {
	return &Engine{
		cache:    cache,
		parser:   parser,
		cooldown: cooldown,
		events:   events,
	}
}

// SetEnforcement updates the blocking configuration at runtime.
func (e *Engine) SetEnforcement(cfg Enforcement) {
	e.mu.Lock()
	e.enforcement = cfg
	e.mu.Unlock()
	log.Printf("[engine] enforcement updated: blockGsm=%v rejectA50=%v", cfg.BlockGSM, cfg.RejectA50)
}

func (e *Engine) enforcementNow() Enforcement {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enforcement
}

// BlockingEvents returns a copy of the enforcement journal.
func (e *Engine) BlockingEvents() []BlockingEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]BlockingEvent, len(e.journal))
	copy(out, e.journal)
	return out
}

// Stats returns engine counters.
func (e *Engine) Stats() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]interface{}{
		"lines_processed":   e.linesProcessed,
		"samples_processed": e.samplesProcessed,
		"events_emitted":    e.eventsEmitted,
		"events_suppressed": e.eventsSuppressed,
		"handover_history":  len(e.handovers),
	}
}

// ProcessLine runs every line-based rule against one diagnostic line.
// Rules are independent: a single line can produce several events.
func (e *Engine) ProcessLine(line string) {
	e.mu.Lock()
	e.linesProcessed++
	e.mu.Unlock()

	sample, _ := e.parser.ParseLine(line)
	slot := sample.SimSlot
	now := sample.Timestamp

	if sample.SignalDBM != nil {
		e.emitMetrics(sample)
		e.checkSignal(sample)
	}

	if e.cache.Match(CipheringOffPattern, line) {
		e.checkCiphering(line, slot)
	}

	if e.cache.Match(SilentSMSPattern, line) {
		e.alert(models.EventIMSICatcherAlert, "SILENT_SMS", 9,
			fmt.Sprintf("SUSPICIOUS: Silent SMS (Type-0) detected on SIM %d", slot), line, slot)
	}

	if e.cache.Match(RejectPattern, line) {
		cause := "Unknown"
		if v, ok := e.cache.Extract(RejectCausePattern, line, 1); ok && v != "" {
			cause = v
		}
		e.alert(models.EventIMSICatcherAlert, "NETWORK_REJECT", 8,
			fmt.Sprintf("NETWORK REJECT: Location Update Rejected (Cause #%s) on SIM %d", cause, slot), line, slot)
	}

	if e.cache.Match(DowngradePattern, line) {
		e.checkDowngrade(line, slot)
	}

	if strings.Contains(line, "RRC_STATE") && sample.RRCState != "" {
		e.trackRRC(sample.RRCState, slot, now)
	}

	if strings.Contains(line, "handover") && sample.CellID != "" {
		e.trackHandover(sample.CellID, slot, now)
	}

	if strings.Contains(line, "baseband") || strings.Contains(line, "modem") {
		e.checkBaseband(line, slot)
	}

	if strings.Contains(line, "capability") {
		e.checkCapabilities(line, slot)
	}
}

// ProcessSample runs the sample-based rules against one per-SIM register
// snapshot. Emits a metrics event and evaluates plausibility plus the
// LAC-without-cell-change escalation.
func (e *Engine) ProcessSample(sample models.RadioSample) {
	e.mu.Lock()
	e.samplesProcessed++
	e.mu.Unlock()

	if !models.ValidSimSlot(sample.SimSlot) {
		return
	}

	escalated := e.checkAreaRelocation(sample)
	if !escalated {
		e.emitMetrics(sample)
	}
	e.checkSignal(sample)
	e.checkTimingAdvance(sample)
}

// emitMetrics forwards a severity-1 RADIO_METRICS_UPDATE. Metrics are
// data, not alerts: they bypass the cooldown gate.
func (e *Engine) emitMetrics(sample models.RadioSample) {
	ev := models.NewEvent(models.EventRadioMetricsUpdate, 1,
		fmt.Sprintf("Radio metrics update on SIM %d", sample.SimSlot), sample.SimSlot)
	fillFromSample(&ev, sample)
	e.send(ev)
}

func (e *Engine) checkSignal(sample models.RadioSample) {
	slot := sample.SimSlot
	if sample.SignalDBM != nil && *sample.SignalDBM > MaxPlausibleDBM {
		e.alert(models.EventSignalAnomaly, "SIGNAL_ANOMALY", 7,
			fmt.Sprintf("SUSPICIOUS: Signal strength unrealistic (%ddBm) on SIM %d", *sample.SignalDBM, slot),
			sample.RawLine, slot)
	}
	if sample.SINR != nil && *sample.SINR < MinPlausibleSINR {
		e.alert(models.EventInterferenceDetected, "INTERFERENCE_DETECTED", 6,
			fmt.Sprintf("WARNING: High interference detected (SINR=%ddB) on SIM %d", *sample.SINR, slot),
			sample.RawLine, slot)
	}
}

// checkTimingAdvance flags TA=0 paired with very strong signal: the
// serving transmitter is implausibly close.
func (e *Engine) checkTimingAdvance(sample models.RadioSample) {
	if sample.TimingAdvance == nil || sample.SignalDBM == nil {
		return
	}
	if *sample.TimingAdvance == 0 && *sample.SignalDBM > CloseTADBm {
		e.alert(models.EventTimingAdvanceAnomaly, "TIMING_ADVANCE_ANOMALY", 7,
			fmt.Sprintf("SUSPICIOUS: TA=0 with %ddBm on SIM %d, transmitter implausibly close",
				*sample.SignalDBM, sample.SimSlot),
			sample.RawLine, sample.SimSlot)
	}
}

func (e *Engine) checkCiphering(line string, slot int) {
	cfg := e.enforcementNow()
	status := "CRITICAL ALERT"
	if cfg.RejectA50 {
		status = "BLOCKED & ALERT"
	}
	emitted := e.alert(models.EventCipheringOff, "CIPHERING_OFF", 10,
		fmt.Sprintf("%s: Encryption disabled (A5/0) on SIM %d!", status, slot), line, slot)
	if emitted && cfg.RejectA50 {
		e.recordBlocking("A5_0_CIPHER",
			fmt.Sprintf("A5/0 unencrypted connection blocked on SIM %d", slot), 10, slot)
	}
}

func (e *Engine) checkDowngrade(line string, slot int) {
	cfg := e.enforcementNow()
	severity := 7
	status := "WARNING"
	if cfg.BlockGSM {
		severity = 9
		status = "BLOCKED"
	}
	emitted := e.alert(models.EventCellDowngrade, "CELL_DOWNGRADE", severity,
		fmt.Sprintf("%s: Sudden network downgrade to GSM on SIM %d", status, slot), line, slot)
	if emitted && cfg.BlockGSM {
		e.recordBlocking("GSM_DOWNGRADE",
			fmt.Sprintf("GSM downgrade attempt blocked on SIM %d", slot), severity, slot)
	}
}

// trackRRC maintains the per-SIM RRC state machine. The first observed
// state establishes the baseline without an event.
func (e *Engine) trackRRC(state string, slot int, now time.Time) {
	e.mu.Lock()
	prev := e.sims[slot].rrcState
	prevAt := e.sims[slot].rrcChangedAt
	e.sims[slot].rrcState = state
	e.sims[slot].rrcChangedAt = now
	e.mu.Unlock()

	if prev == "" || prev == state {
		return
	}
	sinceMs := now.Sub(prevAt).Milliseconds()
	if sinceMs < RapidRRCChangeMs {
		e.alert(models.EventRRCStateChange, "RRC_STATE_CHANGE", 5,
			fmt.Sprintf("NOTICE: Rapid RRC state changes detected on SIM %d (%s -> %s)", slot, prev, state),
			"", slot)
	}
	if prev == "CONNECTED" && state == "IDLE" && sinceMs < RapidRRCDropMs {
		e.alert(models.EventRRCAnomaly, "RRC_ANOMALY", 6,
			fmt.Sprintf("SUSPICIOUS: Unusual RRC state transition timing on SIM %d", slot), "", slot)
	}
}

// checkBaseband extracts a firmware version token and flags membership
// in the known-vulnerable set. A successful extraction also emits a
// low-severity fingerprint event for the forensic timeline.
func (e *Engine) checkBaseband(line string, slot int) {
	var version string
	for _, src := range BasebandVersionPatterns {
		if v, ok := e.cache.Extract(src, line, 1); ok && v != "" {
			version = v
			break
		}
	}
	if version == "" {
		return
	}

	if IsVulnerableBaseband(version) {
		ev := e.alertEvent(models.EventVulnerableBaseband, "VULNERABLE_BASEBAND", 8,
			fmt.Sprintf("CRITICAL: Device runs vulnerable baseband (%s) on SIM %d", version, slot), line, slot)
		if ev != nil {
			ev.Baseband = version
			e.send(*ev)
		}
		return
	}

	ev := e.alertEvent(models.EventBasebandFingerprint, "BASEBAND_FINGERPRINT", 2,
		fmt.Sprintf("Baseband fingerprint %s on SIM %d", version, slot), line, slot)
	if ev != nil {
		ev.Baseband = version
		e.send(*ev)
	}
}

// checkCapabilities flags a capability advert that pairs modern-RAT
// markers with legacy 2G/3G ones while omitting an explicit LTE or NR
// token: the advertised set baits the device into camping on legacy.
func (e *Engine) checkCapabilities(line string, slot int) {
	upper := strings.ToUpper(line)
	hasModern := strings.Contains(upper, "5G") || strings.Contains(upper, "4G") ||
		strings.Contains(upper, "LTE")
	hasLegacy := strings.Contains(upper, "GSM") || strings.Contains(upper, "WCDMA") ||
		strings.Contains(upper, "2G") || strings.Contains(upper, "3G")
	explicit := strings.Contains(upper, "LTE") || strings.Contains(upper, "NR")

	if hasModern && hasLegacy && !explicit {
		e.alert(models.EventNetworkDegradation, "NETWORK_DEGRADATION", 9,
			fmt.Sprintf("CRITICAL: Network capability degradation detected on SIM %d", slot), line, slot)
	}
}

// checkAreaRelocation escalates when the area code changes while the
// cell identity stays the same: a physical cell claiming a new area is
// classic forced-relocation behavior. Returns true when the escalated
// event replaced the plain metrics update.
func (e *Engine) checkAreaRelocation(sample models.RadioSample) bool {
	area := sample.AreaCode()
	slot := sample.SimSlot

	e.mu.Lock()
	lastLAC := e.sims[slot].lastLAC
	lastCell := e.sims[slot].lastCellID
	if area != nil {
		v := *area
		e.sims[slot].lastLAC = &v
	}
	if sample.CellID != "" {
		e.sims[slot].lastCellID = sample.CellID
	}
	e.mu.Unlock()

	if area == nil || lastLAC == nil || *area == *lastLAC {
		return false
	}
	if sample.CellID == "" || sample.CellID != lastCell {
		return false
	}

	ev := models.NewEvent(models.EventIMSICatcherAlert, 9,
		fmt.Sprintf("CRITICAL: LAC changed for SAME Cell ID (%d -> %d) on SIM %d", *lastLAC, *area, slot), slot)
	fillFromSample(&ev, sample)
	e.send(ev)
	return true
}

// alert emits a cooldown-gated event without sample fields. Returns
// whether the event was forwarded (false means suppressed).
func (e *Engine) alert(t models.EventType, gateKey string, severity int, description, rawLine string, slot int) bool {
	ev := e.alertEvent(t, gateKey, severity, description, rawLine, slot)
	if ev == nil {
		return false
	}
	e.send(*ev)
	return true
}

// alertEvent builds a cooldown-gated event, or nil when suppressed, for
// callers that decorate the event before sending.
func (e *Engine) alertEvent(t models.EventType, gateKey string, severity int, description, rawLine string, slot int) *models.ForensicEvent {
	if !e.cooldown.Allow(ratelimit.CooldownKey(gateKey, slot)) {
		e.mu.Lock()
		e.eventsSuppressed++
		e.mu.Unlock()
		log.Printf("[engine] alert suppressed (cooldown): %s on SIM %d", gateKey, slot)
		return nil
	}
	ev := models.NewEvent(t, severity, description, slot)
	ev.RawData = rawLine
	return &ev
}

func (e *Engine) send(ev models.ForensicEvent) {
	e.events <- ev
	e.mu.Lock()
	e.eventsEmitted++
	e.mu.Unlock()
}

func (e *Engine) recordBlocking(blockType, description string, severity, slot int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.journal = append(e.journal, BlockingEvent{
		Timestamp:   time.Now(),
		BlockType:   blockType,
		Description: description,
		SimSlot:     slot,
		Severity:    severity,
	})
	if len(e.journal) > MaxBlockingEvents {
		e.journal = e.journal[len(e.journal)-MaxBlockingEvents:]
	}
	log.Printf("[engine] blocking event recorded: %s on SIM %d", blockType, slot)
}

func fillFromSample(ev *models.ForensicEvent, s models.RadioSample) {
	ev.CellID = s.CellID
	ev.MCC = s.MCC
	ev.MNC = s.MNC
	ev.LAC = s.LAC
	ev.TAC = s.TAC
	ev.PCI = s.PCI
	ev.EARFCN = s.EARFCN
	ev.NetworkType = s.NetworkType
	ev.SignalDBM = s.SignalDBM
	ev.NeighborCount = s.NeighborCount
	ev.TimingAdvance = s.TimingAdvance
	ev.RawData = s.RawLine
}
