// Package detector provides the stateful anomaly detection rules that
// turn parsed radio samples and raw diagnostic lines into forensic events.
package detector

import "strings"

// Marker patterns for the line-based rules. Matching always goes through
// the pattern cache's bounded-time execution, so hostile log text cannot
// stall the stream reader.
const (
	// SilentSMSPattern marks Type-0 / status-report SMS activity that is
	// invisible to the user but reveals presence probing.
	SilentSMSPattern = `(?i)RIL_UNSOL_RESPONSE_NEW_SMS|SMS_ON_CH|SMS_ACK|tp-pid:?\s*0`

	// CipheringOffPattern marks the A5/0 null cipher and its textual
	// variants.
	CipheringOffPattern = `(?i)Ciphering:?\s*(OFF|0|NONE)|A5/0|encryption:?\s*false`

	// RejectPattern marks location updating rejects; RejectCausePattern
	// extracts the numeric cause when present.
	RejectPattern      = `(?i)Location Updating Reject|Cause\s*#?\s*(\d+)`
	RejectCausePattern = `(?i)Cause\s*#?\s*(\d+)`

	// DowngradePattern marks RAT changes toward GSM.
	DowngradePattern = `(?i)RAT changed|NetworkType changed|Handover to GSM`
)

// BasebandVersionPatterns is the ordered list of label patterns used to
// extract a firmware/baseband version token from a line.
var BasebandVersionPatterns = []string{
	`(?i)baseband_version\s*=\s*([\w\-\.]+)`,
	`(?i)modem_version\s*=\s*([\w\-\.]+)`,
	`(?i)radio_version\s*=\s*([\w\-\.]+)`,
	`(?i)firmware\s*version\s*=\s*([\w\-\.]+)`,
}

// VulnerableBasebands contains chipset tokens with known exploitable
// baseband firmware, matched case-insensitively as substrings of the
// extracted version token.
var VulnerableBasebands = []string{
	"SDM845",
	"SDM855",
	"MDM9650",
}

// Detection thresholds.
const (
	// MaxPlausibleDBM: stronger than this is non-physical for a
	// legitimate distant tower.
	MaxPlausibleDBM = -30

	// MinPlausibleSINR: below this the carrier is being drowned out.
	MinPlausibleSINR = -5

	// RapidRRCChangeMs flags state churn; RapidRRCDropMs flags a
	// CONNECTED->IDLE bounce.
	RapidRRCChangeMs = 1000
	RapidRRCDropMs   = 500

	// Handover analysis: ring buffer size and trailing window.
	MaxHandoverHistory    = 100
	HandoverWindowSeconds = 60
	MaxHandoversPerWindow = 10

	// CloseTADBm: timing advance zero together with signal above this
	// implies an implausibly close transmitter.
	CloseTADBm = -60

	// MaxBlockingEvents bounds the enforcement journal.
	MaxBlockingEvents = 500
)

// IsVulnerableBaseband reports whether the version token belongs to the
// known-vulnerable set.
func IsVulnerableBaseband(version string) bool {
	if version == "" {
		return false
	}
	lower := strings.ToLower(version)
	for _, v := range VulnerableBasebands {
		if strings.Contains(lower, strings.ToLower(v)) {
			return true
		}
	}
	return false
}
