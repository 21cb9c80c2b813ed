package models

import (
	"math"
	"regexp"
	"strconv"
)

// Compiled once; prevents per-call recompilation on the hot path.
var cellIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{1,19}$`)

// MaxDescriptionLen bounds event descriptions at the ingestion boundary.
const MaxDescriptionLen = 2000

// ValidSeverity reports whether s is in the 1..10 range.
func ValidSeverity(s int) bool {
	return s >= 1 && s <= 10
}

// ValidSimSlot accepts dual-SIM slots 0 and 1 only.
func ValidSimSlot(slot int) bool {
	return slot == 0 || slot == 1
}

// ValidMCC accepts empty (field absent) or a numeric code in 100..999.
func ValidMCC(mcc string) bool {
	if mcc == "" {
		return true
	}
	n, err := strconv.Atoi(mcc)
	return err == nil && n >= 100 && n <= 999
}

// ValidMNC accepts empty (field absent) or a numeric code in 0..999.
func ValidMNC(mnc string) bool {
	if mnc == "" {
		return true
	}
	n, err := strconv.Atoi(mnc)
	return err == nil && n >= 0 && n <= 999
}

// ValidCellID accepts empty or an opaque hex/decimal identity up to 19
// characters, matching what baseband logs emit for mCi/mNci/mCid.
func ValidCellID(cellID string) bool {
	if cellID == "" {
		return true
	}
	return cellIDPattern.MatchString(cellID)
}

// ValidLAC accepts nil or a 16-bit location area code.
func ValidLAC(lac *int) bool {
	return lac == nil || (*lac >= 0 && *lac <= 65535)
}

// ValidTAC accepts nil or a 24-bit tracking area code.
func ValidTAC(tac *int) bool {
	return tac == nil || (*tac >= 0 && *tac <= 16777215)
}

// ValidPCI accepts nil or a physical cell identity in 0..1023.
func ValidPCI(pci *int) bool {
	return pci == nil || (*pci >= 0 && *pci <= 1023)
}

// ValidDBM accepts nil or a plausible received power in -150..-30 dBm.
func ValidDBM(dbm *int) bool {
	return dbm == nil || (*dbm >= -150 && *dbm <= -30)
}

// ValidCoordinates rejects NaN, infinities, and out-of-range values.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// ValidDescription enforces the length bound and rejects control
// characters other than newline and tab.
func ValidDescription(desc string) bool {
	if len(desc) > MaxDescriptionLen {
		return false
	}
	for _, r := range desc {
		if r < 0x20 && r != '\n' && r != '\t' {
			return false
		}
		if r == 0x7f {
			return false
		}
	}
	return true
}

// ValidateEvent checks every boundary invariant on an event. It returns
// the first violated field name, or "" if the event is well-formed.
func ValidateEvent(e ForensicEvent) string {
	switch {
	case !KnownEventType(e.Type):
		return "type"
	case !ValidSeverity(e.Severity):
		return "severity"
	case !ValidDescription(e.Description):
		return "description"
	case !ValidSimSlot(e.SimSlot):
		return "simSlot"
	case !ValidCellID(e.CellID):
		return "cellId"
	case !ValidMCC(e.MCC):
		return "mcc"
	case !ValidMNC(e.MNC):
		return "mnc"
	case !ValidLAC(e.LAC):
		return "lac"
	case !ValidTAC(e.TAC):
		return "tac"
	case !ValidPCI(e.PCI):
		return "pci"
	case !ValidDBM(e.SignalDBM):
		return "signalDbm"
	}
	return ""
}
