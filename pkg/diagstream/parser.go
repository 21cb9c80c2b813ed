// Package diagstream acquires the raw diagnostic feed (line stream and
// periodic register snapshots) and parses it into typed radio samples.
package diagstream

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cellsentry/cell-sentry/pkg/models"
	"github.com/cellsentry/cell-sentry/pkg/patterns"
)

// Pattern sources shared by the line parser and the detection engine.
// All matching goes through the pattern cache's bounded-time execution.
const (
	SignalPattern   = `(?i)(?:rsrp|dbm|rssi)[:=]\s*(-?\d+)`
	SINRPattern     = `(?i)sinr[:=]\s*(-?\d+)`
	CellIDPattern   = `(?i)cell[_id]*\s*[:=]\s*([0-9a-fA-F]+)`
	RRCStatePattern = `(?i)RRC_STATE[:\s]*([A-Z_]+)`
	TAPattern       = `(?i)(?:timing_advance|\bta\b)[:=]\s*(\d+)`
)

// Sentinel values meaning "field absent" in vendor dumps.
var sentinels = map[string]bool{
	"2147483647":          true, // Integer.MAX_VALUE
	"65535":               true,
	"4095":                true,
	"-1":                  true,
	"9223372036854775807": true, // Long.MAX_VALUE, seen on mNci
}

// Parser turns raw lines and register snapshots into RadioSamples.
type Parser struct {
	cache *patterns.Cache
}

// NewParser creates a parser backed by the given pattern cache.
func NewParser(cache *patterns.Cache) *Parser {
	return &Parser{cache: cache}
}

// ClassifySlot determines which SIM a line belongs to from embedded
// subscription markers. Lines without a marker default to slot 0.
func ClassifySlot(line string) int {
	if strings.Contains(line, "sub=1") || strings.Contains(line, "simId=1") || strings.Contains(line, "[1]") {
		return 1
	}
	return 0
}

// NormalizeDBM decodes a raw coded signal reading. Raw values 0..31 use
// the GSM TS 27.007 encoding (-113 + 2*raw); anything else is taken as
// already-dBm. The second return is false for readings outside the
// plausible -140..-30 dBm range, which are discarded as noise.
func NormalizeDBM(raw int) (int, bool) {
	dbm := raw
	if raw >= 0 && raw <= 31 {
		dbm = -113 + 2*raw
	}
	if dbm < -140 || dbm > -30 {
		return 0, false
	}
	return dbm, true
}

// NetworkTypeName maps a vendor network-type integer code onto a radio
// access technology label.
func NetworkTypeName(code int) string {
	switch code {
	case 13:
		return "LTE"
	case 20:
		return "NR (5G)"
	case 1, 2, 16:
		return "GSM"
	case 3, 8, 9, 10, 15:
		return "WCDMA/HSPA"
	default:
		return fmt.Sprintf("Type-%d", code)
	}
}

// ParseLine extracts per-SIM fields from one diagnostic line. The second
// return is false when the line carries nothing the engine cares about.
func (p *Parser) ParseLine(line string) (models.RadioSample, bool) {
	sample := models.RadioSample{
		Timestamp: time.Now(),
		SimSlot:   ClassifySlot(line),
		RawLine:   line,
	}
	interesting := false

	if v, ok := p.cache.Extract(SignalPattern, line, 1); ok {
		if raw, err := strconv.Atoi(v); err == nil {
			if dbm, ok := NormalizeDBM(raw); ok {
				sample.SignalDBM = models.IntPtr(dbm)
				interesting = true
			}
		}
	}

	if v, ok := p.cache.Extract(SINRPattern, line, 1); ok {
		if sinr, err := strconv.Atoi(v); err == nil {
			sample.SINR = models.IntPtr(sinr)
			interesting = true
		}
	}

	if v, ok := p.cache.Extract(CellIDPattern, line, 1); ok && models.ValidCellID(v) {
		sample.CellID = v
		interesting = true
	}

	if v, ok := p.cache.Extract(RRCStatePattern, line, 1); ok {
		sample.RRCState = strings.ToUpper(v)
		interesting = true
	}

	if v, ok := p.cache.Extract(TAPattern, line, 1); ok {
		if ta, err := strconv.Atoi(v); err == nil && ta >= 0 {
			sample.TimingAdvance = models.IntPtr(ta)
		}
	}

	return sample, interesting
}
