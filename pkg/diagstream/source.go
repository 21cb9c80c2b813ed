package diagstream

import (
	"bufio"
	"io"
	"log"
	"sync"
	"sync/atomic"
)

const lineBufferSize = 100000

// maxLineBytes guards against pathological single-line blobs in the feed.
const maxLineBytes = 1 << 20

// LineSource delivers raw diagnostic lines. Implementations must close
// the Lines channel when Stop is called or the underlying feed ends.
type LineSource interface {
	Start()
	Stop()
	Lines() <-chan string
	Stats() map[string]interface{}
}

// ReaderSource tails a line-delimited io.Reader (file, pipe, stdin).
// When the reader ends or fails the source logs and exits; restarting is
// an external concern.
type ReaderSource struct {
	name   string
	reader io.ReadCloser
	lines  chan string
	done   chan struct{}
	wg     sync.WaitGroup

	running atomic.Bool

	linesRead    uint64
	linesDropped uint64
}

// NewReaderSource wraps an already-open reader. name is used in logs.
func NewReaderSource(name string, r io.ReadCloser) *ReaderSource {
	return &ReaderSource{
		name:   name,
		reader: r,
		lines:  make(chan string, lineBufferSize),
		done:   make(chan struct{}),
	}
}

// Lines returns the channel of raw lines.
func (s *ReaderSource) Lines() <-chan string { return s.lines }

// Start begins reading in a goroutine.
func (s *ReaderSource) Start() {
	if s.running.Swap(true) {
		return
	}
	s.wg.Add(1)
	go s.readLoop()
	log.Printf("[%s] source started", s.name)
}

// Stop closes the reader, unblocking the read loop, and waits for it.
func (s *ReaderSource) Stop() {
	if !s.running.Swap(false) {
		return
	}
	close(s.done)
	s.reader.Close()
	s.wg.Wait()
	log.Printf("[%s] source stopped (lines=%d, dropped=%d)",
		s.name, atomic.LoadUint64(&s.linesRead), atomic.LoadUint64(&s.linesDropped))
}

// Stats returns source counters.
func (s *ReaderSource) Stats() map[string]interface{} {
	return map[string]interface{}{
		"source":        s.name,
		"lines_read":    atomic.LoadUint64(&s.linesRead),
		"lines_dropped": atomic.LoadUint64(&s.linesDropped),
		"channel_len":   len(s.lines),
		"channel_cap":   cap(s.lines),
	}
}

func (s *ReaderSource) readLoop() {
	defer s.wg.Done()
	defer close(s.lines)

	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		atomic.AddUint64(&s.linesRead, 1)
		select {
		case s.lines <- scanner.Text():
		case <-s.done:
			return
		default:
			// Channel full; drop rather than block the feed.
			atomic.AddUint64(&s.linesDropped, 1)
			if atomic.LoadUint64(&s.linesDropped)%10000 == 0 {
				log.Printf("[%s] line channel full, dropped %d lines", s.name, atomic.LoadUint64(&s.linesDropped))
			}
		}
	}
	if err := scanner.Err(); err != nil && s.running.Load() {
		// Stream-source loss terminates this worker only; the rest of
		// the process keeps running.
		log.Printf("[%s] stream ended: %v", s.name, err)
	}
}
