package detector

import (
	"fmt"
	"time"

	"github.com/cellsentry/cell-sentry/pkg/models"
)

// trackHandover appends a handover to the per-process ring buffer and
// evaluates the frequency and ping-pong rules. The source cell is the
// last cell observed on the slot; a handover to the same cell is
// ignored.
func (e *Engine) trackHandover(targetCell string, slot int, now time.Time) {
	e.mu.Lock()
	source := e.sims[slot].lastHandoverCellID
	if source == targetCell {
		e.mu.Unlock()
		return
	}
	e.sims[slot].lastHandoverCellID = targetCell

	e.handovers = append(e.handovers, handoverRecord{
		at:      now,
		source:  source,
		target:  targetCell,
		simSlot: slot,
	})
	if len(e.handovers) > MaxHandoverHistory {
		e.handovers = e.handovers[len(e.handovers)-MaxHandoverHistory:]
	}

	recent := 0
	cutoff := now.Add(-time.Duration(HandoverWindowSeconds) * time.Second)
	for _, h := range e.handovers {
		if h.simSlot == slot && !h.at.Before(cutoff) {
			recent++
		}
	}

	// Ping-pong: the previous handover on this slot went the exact
	// opposite way (A->B followed by B->A).
	pingPong := false
	for i := len(e.handovers) - 2; i >= 0; i-- {
		h := e.handovers[i]
		if h.simSlot != slot {
			continue
		}
		if h.source == targetCell && h.target == source && source != "" {
			pingPong = true
		}
		break
	}
	e.mu.Unlock()

	if recent > MaxHandoversPerWindow {
		e.alert(models.EventHandoverAnomaly, "HANDOVER_ANOMALY", 6,
			fmt.Sprintf("SUSPICIOUS: Excessive handovers (%d in %ds) on SIM %d",
				recent, HandoverWindowSeconds, slot), "", slot)
	}
	if pingPong {
		e.alert(models.EventHandoverPingPong, "HANDOVER_PINGPONG", 7,
			fmt.Sprintf("SUSPICIOUS: Handover ping-pong between cells %s and %s on SIM %d",
				source, targetCell, slot), "", slot)
	}
}
