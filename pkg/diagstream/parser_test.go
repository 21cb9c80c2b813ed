package diagstream

import (
	"testing"

	"github.com/cellsentry/cell-sentry/pkg/patterns"
)

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	cache := patterns.New()
	t.Cleanup(cache.Close)
	return NewParser(cache)
}

func TestClassifySlot(t *testing.T) {
	tests := []struct {
		line     string
		expected int
	}{
		{"05-12 10:00:01.123 RIL sub=1 signal rsrp=-95", 1},
		{"RILJ simId=1 RRC_STATE: CONNECTED", 1},
		{"GsmSST [1] handover cell_id: 1a2b", 1},
		{"05-12 10:00:01.123 RIL sub=0 signal rsrp=-95", 0},
		{"no marker at all dbm=-80", 0},
	}
	for _, tt := range tests {
		if got := ClassifySlot(tt.line); got != tt.expected {
			t.Errorf("ClassifySlot(%q) = %d, want %d", tt.line, got, tt.expected)
		}
	}
}

func TestNormalizeDBM(t *testing.T) {
	// Coded range: dBm = -113 + 2*raw, always within [-113, -51].
	for raw := 0; raw <= 31; raw++ {
		dbm, ok := NormalizeDBM(raw)
		if !ok {
			t.Fatalf("NormalizeDBM(%d) rejected a valid coded value", raw)
		}
		if want := -113 + 2*raw; dbm != want {
			t.Errorf("NormalizeDBM(%d) = %d, want %d", raw, dbm, want)
		}
		if dbm < -113 || dbm > -51 {
			t.Errorf("NormalizeDBM(%d) = %d outside [-113,-51]", raw, dbm)
		}
	}

	// Already-dBm values pass through when plausible.
	if dbm, ok := NormalizeDBM(-95); !ok || dbm != -95 {
		t.Errorf("NormalizeDBM(-95) = %d, %v; want -95, true", dbm, ok)
	}

	// Out-of-range readings are noise.
	if _, ok := NormalizeDBM(-20); ok {
		t.Error("NormalizeDBM(-20) should be rejected")
	}
	if _, ok := NormalizeDBM(-141); ok {
		t.Error("NormalizeDBM(-141) should be rejected")
	}
	if _, ok := NormalizeDBM(100); ok {
		t.Error("NormalizeDBM(100) should be rejected")
	}
}

func TestNetworkTypeName(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{13, "LTE"},
		{20, "NR (5G)"},
		{1, "GSM"},
		{2, "GSM"},
		{16, "GSM"},
		{3, "WCDMA/HSPA"},
		{10, "WCDMA/HSPA"},
		{15, "WCDMA/HSPA"},
		{99, "Type-99"},
	}
	for _, tt := range tests {
		if got := NetworkTypeName(tt.code); got != tt.expected {
			t.Errorf("NetworkTypeName(%d) = %q, want %q", tt.code, got, tt.expected)
		}
	}
}

func TestParseLineSignal(t *testing.T) {
	p := newTestParser(t)

	sample, ok := p.ParseLine("05-12 RIL sub=1 LteSignal rsrp=-101 sinr=-7")
	if !ok {
		t.Fatal("Expected an interesting line")
	}
	if sample.SimSlot != 1 {
		t.Errorf("Expected slot 1, got %d", sample.SimSlot)
	}
	if sample.SignalDBM == nil || *sample.SignalDBM != -101 {
		t.Errorf("Expected dBm -101, got %v", sample.SignalDBM)
	}
	if sample.SINR == nil || *sample.SINR != -7 {
		t.Errorf("Expected SINR -7, got %v", sample.SINR)
	}
}

func TestParseLineCodedSignal(t *testing.T) {
	p := newTestParser(t)

	// rssi=20 is a coded value: -113 + 2*20 = -73 dBm.
	sample, ok := p.ParseLine("GsmSignal rssi=20")
	if !ok || sample.SignalDBM == nil || *sample.SignalDBM != -73 {
		t.Fatalf("Expected decoded -73 dBm, got %+v (ok=%v)", sample.SignalDBM, ok)
	}
}

func TestParseLineRejectsImplausibleSignal(t *testing.T) {
	p := newTestParser(t)

	sample, _ := p.ParseLine("weird rsrp=-10")
	if sample.SignalDBM != nil {
		t.Errorf("Implausible reading must be discarded, got %v", *sample.SignalDBM)
	}
}

func TestParseLineCellAndRRC(t *testing.T) {
	p := newTestParser(t)

	sample, ok := p.ParseLine("RRCMgr RRC_STATE: CONNECTED cell_id: 1a2b3c")
	if !ok {
		t.Fatal("Expected an interesting line")
	}
	if sample.RRCState != "CONNECTED" {
		t.Errorf("Expected RRC state CONNECTED, got %q", sample.RRCState)
	}
	if sample.CellID != "1a2b3c" {
		t.Errorf("Expected cell id 1a2b3c, got %q", sample.CellID)
	}
}

func TestParseLineNothingInteresting(t *testing.T) {
	p := newTestParser(t)
	if _, ok := p.ParseLine("dalvikvm GC_CONCURRENT freed 1024K"); ok {
		t.Error("Unrelated line should not be interesting")
	}
}

const snapshotFixture = `
mPhoneId=0
mCi[0]=123456 mTac[0]=2147483647 mLac[0]=4711
mMcc[0]=262 mMnc[0]=2
mPci[0]=287 mEarfcn[0]=6300
rsrp[0]=-98 rssi[0]=2147483647
mDataNetworkType[0]=13
mPhoneId=1
mNci[1]=9223372036854775807 mCi[1]=654321
mTac[1]=33033
mMcc[1]=262 mMnc[1]=7
mPci[1]=65535
rsrp[1]=-120
mDataNetworkType[1]=20
`

func TestParseSnapshotBothSlots(t *testing.T) {
	p := newTestParser(t)

	samples := p.ParseSnapshot(snapshotFixture)
	if len(samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(samples))
	}

	s0 := samples[0]
	if s0.SimSlot != 0 || s0.CellID != "123456" {
		t.Errorf("Slot 0: unexpected identity %+v", s0)
	}
	if s0.MCC != "262" || s0.MNC != "2" {
		t.Errorf("Slot 0: expected PLMN 262/2, got %s/%s", s0.MCC, s0.MNC)
	}
	// mTac is the Integer.MAX_VALUE sentinel, so the LAC fallback applies.
	if s0.TAC != nil {
		t.Errorf("Slot 0: sentinel TAC should be absent, got %v", *s0.TAC)
	}
	if s0.LAC == nil || *s0.LAC != 4711 {
		t.Errorf("Slot 0: expected LAC 4711, got %v", s0.LAC)
	}
	if s0.PCI == nil || *s0.PCI != 287 {
		t.Errorf("Slot 0: expected PCI 287, got %v", s0.PCI)
	}
	if s0.EARFCN == nil || *s0.EARFCN != 6300 {
		t.Errorf("Slot 0: expected EARFCN 6300, got %v", s0.EARFCN)
	}
	if s0.SignalDBM == nil || *s0.SignalDBM != -98 {
		t.Errorf("Slot 0: expected -98 dBm, got %v", s0.SignalDBM)
	}
	if s0.NetworkType != "LTE" {
		t.Errorf("Slot 0: expected LTE, got %q", s0.NetworkType)
	}

	s1 := samples[1]
	// mNci is the Long.MAX_VALUE sentinel; mCi wins.
	if s1.SimSlot != 1 || s1.CellID != "654321" {
		t.Errorf("Slot 1: unexpected identity %+v", s1)
	}
	if s1.TAC == nil || *s1.TAC != 33033 {
		t.Errorf("Slot 1: expected TAC 33033, got %v", s1.TAC)
	}
	if s1.PCI != nil {
		t.Errorf("Slot 1: sentinel PCI should be absent, got %v", *s1.PCI)
	}
	if s1.SignalDBM == nil || *s1.SignalDBM != -120 {
		t.Errorf("Slot 1: expected -120 dBm, got %v", s1.SignalDBM)
	}
	if s1.NetworkType != "NR (5G)" {
		t.Errorf("Slot 1: expected NR (5G), got %q", s1.NetworkType)
	}
}

func TestParseSnapshotNoCellID(t *testing.T) {
	p := newTestParser(t)
	if samples := p.ParseSnapshot("mMcc[0]=262 mMnc[0]=2 rsrp[0]=-90"); len(samples) != 0 {
		t.Errorf("Expected no samples without a cell identity, got %d", len(samples))
	}
}
