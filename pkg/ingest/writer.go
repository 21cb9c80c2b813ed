package ingest

import (
	"database/sql"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cellsentry/cell-sentry/pkg/models"
	_ "github.com/lib/pq"
)

const (
	batchSize     = 50
	batchInterval = 2 * time.Second
	queueSize     = 10000

	// enqueueRetryTimeout bounds the blocking retry when the queue is
	// full. After this the event is reported lost, not silently dropped.
	enqueueRetryTimeout = 500 * time.Millisecond
)

// EventStore persists forensic events. The writer is append-only; the
// dedup gate upstream owns duplicate suppression.
type EventStore interface {
	Enqueue(ev models.ForensicEvent) error
	DeleteMetricsOlderThan(cutoff time.Time) (int, error)
}

// PostgresWriter batches forensic events into a forensic_events table.
type PostgresWriter struct {
	db    *sql.DB
	queue chan models.ForensicEvent
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	running bool

	eventsWritten  uint64
	eventsLost     uint64
	batchesWritten uint64
}

const eventsSchema = `
CREATE TABLE IF NOT EXISTS forensic_events (
	id          TEXT PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	event_type  TEXT NOT NULL,
	severity    INTEGER NOT NULL,
	description TEXT NOT NULL,
	cell_id     TEXT,
	mcc         TEXT,
	mnc         TEXT,
	lac         INTEGER,
	tac         INTEGER,
	pci         INTEGER,
	earfcn      INTEGER,
	network_type TEXT,
	signal_dbm  INTEGER,
	neighbor_count INTEGER,
	timing_advance INTEGER,
	baseband    TEXT,
	sim_slot    INTEGER NOT NULL,
	raw_data    TEXT
);
CREATE INDEX IF NOT EXISTS idx_forensic_events_time ON forensic_events (occurred_at);
CREATE INDEX IF NOT EXISTS idx_forensic_events_type ON forensic_events (event_type, occurred_at);
`

// NewPostgresWriter connects and ensures the schema exists.
func NewPostgresWriter(databaseURL string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(eventsSchema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[writer] connected to PostgreSQL")
	return &PostgresWriter{
		db:    db,
		queue: make(chan models.ForensicEvent, queueSize),
		done:  make(chan struct{}),
	}, nil
}

// Start begins the background writer goroutine.
func (w *PostgresWriter) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.writerLoop()
	log.Printf("[writer] started")
}

// Stop shuts down the writer, flushing everything still queued.
func (w *PostgresWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	w.db.Close()
	log.Printf("[writer] stopped (written=%d, lost=%d, batches=%d)",
		atomic.LoadUint64(&w.eventsWritten), atomic.LoadUint64(&w.eventsLost),
		atomic.LoadUint64(&w.batchesWritten))
}

// Enqueue queues an event. A full queue gets one blocking retry with a
// timeout before the event is declared lost.
func (w *PostgresWriter) Enqueue(ev models.ForensicEvent) error {
	select {
	case w.queue <- ev:
		return nil
	default:
	}
	select {
	case w.queue <- ev:
		return nil
	case <-time.After(enqueueRetryTimeout):
		atomic.AddUint64(&w.eventsLost, 1)
		return &IngestError{Kind: KindQueueFull}
	}
}

// DeleteMetricsOlderThan prunes routine metrics rows past the retention
// horizon. Alert rows are never touched.
func (w *PostgresWriter) DeleteMetricsOlderThan(cutoff time.Time) (int, error) {
	res, err := w.db.Exec(`
		DELETE FROM forensic_events
		WHERE event_type = $1 AND severity < 7 AND occurred_at < $2
	`, string(models.EventRadioMetricsUpdate), cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Stats returns writer counters.
func (w *PostgresWriter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"events_written":  atomic.LoadUint64(&w.eventsWritten),
		"events_lost":     atomic.LoadUint64(&w.eventsLost),
		"batches_written": atomic.LoadUint64(&w.batchesWritten),
		"queue_len":       len(w.queue),
		"queue_cap":       cap(w.queue),
	}
}

func (w *PostgresWriter) writerLoop() {
	defer w.wg.Done()

	batch := make([]models.ForensicEvent, 0, batchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-w.queue:
			batch = append(batch, ev)
			if len(batch) >= batchSize {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-w.done:
			// Drain whatever made it into the queue before shutdown.
			for {
				select {
				case ev := <-w.queue:
					batch = append(batch, ev)
					if len(batch) >= batchSize {
						w.writeBatch(batch)
						batch = batch[:0]
					}
					continue
				default:
				}
				break
			}
			if len(batch) > 0 {
				w.writeBatch(batch)
			}
			return
		}
	}
}

func (w *PostgresWriter) writeBatch(batch []models.ForensicEvent) {
	tx, err := w.db.Begin()
	if err != nil {
		log.Printf("[writer] failed to begin transaction: %v", err)
		return
	}
	defer tx.Rollback()

	written := 0
	for _, ev := range batch {
		if w.writeEvent(tx, ev) {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[writer] failed to commit batch: %v", err)
		return
	}

	atomic.AddUint64(&w.eventsWritten, uint64(written))
	atomic.AddUint64(&w.batchesWritten, 1)
}

func (w *PostgresWriter) writeEvent(tx *sql.Tx, ev models.ForensicEvent) bool {
	_, err := tx.Exec(`
		INSERT INTO forensic_events (
			id, occurred_at, event_type, severity, description,
			cell_id, mcc, mnc, lac, tac, pci, earfcn,
			network_type, signal_dbm, neighbor_count, timing_advance,
			baseband, sim_slot, raw_data
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (id) DO NOTHING
	`,
		ev.ID, ev.Timestamp, string(ev.Type), ev.Severity, ev.Description,
		ev.CellID, ev.MCC, ev.MNC, ev.LAC, ev.TAC, ev.PCI, ev.EARFCN,
		ev.NetworkType, ev.SignalDBM, ev.NeighborCount, ev.TimingAdvance,
		ev.Baseband, ev.SimSlot, ev.RawData,
	)
	if err != nil {
		log.Printf("[writer] failed to insert event %s: %v", ev.ID, err)
		return false
	}
	return true
}
