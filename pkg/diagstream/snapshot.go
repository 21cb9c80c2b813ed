package diagstream

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/cellsentry/cell-sentry/pkg/models"
)

const (
	// DefaultPollInterval is how often the register snapshot is sampled.
	DefaultPollInterval = 2 * time.Second
	// DefaultSnapshotTimeout bounds one snapshot acquisition.
	DefaultSnapshotTimeout = 5 * time.Second
)

// SnapshotSource produces one point-in-time per-SIM register dump.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (string, error)
}

// FileSnapshotSource re-reads a file on every poll. Useful when an
// external collaborator writes the dump to a known path.
type FileSnapshotSource struct {
	Path string
}

func (s FileSnapshotSource) Snapshot(ctx context.Context) (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", fmt.Errorf("read snapshot file: %w", err)
	}
	return string(data), nil
}

// CommandSnapshotSource executes a command under the context deadline and
// returns its stdout. The command is the collaborator's concern; only the
// timeout discipline is enforced here.
type CommandSnapshotSource struct {
	Name string
	Args []string
}

func (s CommandSnapshotSource) Snapshot(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, s.Name, s.Args...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("snapshot command: %w", err)
	}
	return string(out), nil
}

// Poller samples a SnapshotSource on a fixed interval, parses the dump,
// and delivers per-SIM RadioSamples. Acquisition failures are logged and
// skipped; they never stop the poller.
type Poller struct {
	source   SnapshotSource
	parser   *Parser
	interval time.Duration
	timeout  time.Duration

	samples chan models.RadioSample
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex

	polls    uint64
	failures uint64
}

// NewPoller creates a poller. interval and timeout fall back to defaults
// when non-positive.
func NewPoller(source SnapshotSource, parser *Parser, interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultSnapshotTimeout
	}
	return &Poller{
		source:   source,
		parser:   parser,
		interval: interval,
		timeout:  timeout,
		samples:  make(chan models.RadioSample, 64),
		done:     make(chan struct{}),
	}
}

// Samples returns the channel of parsed per-SIM samples.
func (p *Poller) Samples() <-chan models.RadioSample { return p.samples }

// Start begins polling in a goroutine.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop()
	log.Printf("[poller] started (interval=%v)", p.interval)
}

// Stop terminates the poller and closes the samples channel.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
	close(p.samples)
	log.Printf("[poller] stopped (polls=%d, failures=%d)", p.polls, p.failures)
}

func (p *Poller) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce()
	for {
		select {
		case <-ticker.C:
			p.pollOnce()
		case <-p.done:
			return
		}
	}
}

func (p *Poller) pollOnce() {
	p.polls++
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	blob, err := p.source.Snapshot(ctx)
	if err != nil {
		p.failures++
		log.Printf("[poller] snapshot failed: %v", err)
		return
	}

	for _, sample := range p.parser.ParseSnapshot(blob) {
		select {
		case p.samples <- sample:
		case <-p.done:
			return
		}
	}
}

// ParseSnapshot extracts one RadioSample per SIM slot from a structured
// register dump. Slots whose cell identity cannot be determined are
// skipped entirely.
func (p *Parser) ParseSnapshot(blob string) []models.RadioSample {
	var out []models.RadioSample
	for slot := 0; slot <= 1; slot++ {
		sample, ok := p.parseSnapshotSlot(blob, slot)
		if ok {
			out = append(out, sample)
		}
	}
	return out
}

func (p *Parser) parseSnapshotSlot(blob string, slot int) (models.RadioSample, bool) {
	cellID := p.snapshotCellID(blob, slot)
	if cellID == "" {
		return models.RadioSample{}, false
	}

	sample := models.RadioSample{
		Timestamp: time.Now(),
		SimSlot:   slot,
		CellID:    cellID,
	}

	sample.MCC = p.snapshotValue(blob, "Mcc", slot)
	sample.MNC = p.snapshotValue(blob, "Mnc", slot)

	if v := p.snapshotInt(blob, "Tac", slot); v != nil {
		sample.TAC = v
	} else if v := p.snapshotInt(blob, "Lac", slot); v != nil {
		sample.LAC = v
	}
	sample.PCI = p.snapshotInt(blob, "Pci", slot)
	if v := p.snapshotInt(blob, "Earfcn", slot); v != nil {
		sample.EARFCN = v
	} else {
		sample.EARFCN = p.snapshotInt(blob, "NrArfcn", slot)
	}

	sample.SignalDBM = p.snapshotSignal(blob, slot)
	sample.NetworkType = p.snapshotNetworkType(blob, slot)

	return sample, true
}

// snapshotValue finds the last non-sentinel value for a key, preferring
// the slot-indexed form (key[slot]=v) and accepting the bare form
// (key=v). An optional leading "m" covers vendor mKey spellings.
func (p *Parser) snapshotValue(blob, key string, slot int) string {
	src := fmt.Sprintf(`(?i)m?%s(?:\[%d\])?=(-?\d+)`, key, slot)
	var found string
	for _, v := range p.cache.ExtractAll(src, blob, 1) {
		if !sentinels[v] {
			found = v
		}
	}
	return found
}

func (p *Parser) snapshotInt(blob, key string, slot int) *int {
	v := p.snapshotValue(blob, key, slot)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

// snapshotCellID tries the NR, LTE, and legacy cell identity keys.
func (p *Parser) snapshotCellID(blob string, slot int) string {
	for _, key := range []string{"Nci", "Ci", "Cid"} {
		if v := p.snapshotValue(blob, key, slot); v != "" {
			return v
		}
	}
	return ""
}

// snapshotSignal returns the first plausible reading among the known
// signal field spellings.
func (p *Parser) snapshotSignal(blob string, slot int) *int {
	for _, key := range []string{"rsrp", "rssi", "dbm", "SignalStrength"} {
		if v := p.snapshotInt(blob, key, slot); v != nil && *v >= -140 && *v <= -30 {
			return v
		}
	}
	return nil
}

func (p *Parser) snapshotNetworkType(blob string, slot int) string {
	for _, key := range []string{"DataNetworkType", "NetworkType"} {
		if v := p.snapshotValue(blob, key, slot); v != "" {
			if code, err := strconv.Atoi(v); err == nil {
				return NetworkTypeName(code)
			}
		}
	}
	return ""
}
