package diagstream

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	initialReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 5 * time.Minute
	reconnectBackoff      = 2.0
	pingInterval          = 30 * time.Second
	connectionTimeout     = 60 * time.Second
	writeTimeout          = 10 * time.Second
)

// WebsocketSource consumes a line-oriented diagnostic feed over a
// websocket with automatic reconnection. Each text message may carry one
// or more newline-delimited lines.
type WebsocketSource struct {
	url   string
	lines chan string
	done  chan struct{}
	wg    sync.WaitGroup

	running   atomic.Bool
	connected atomic.Bool

	messagesReceived uint64
	linesRead        uint64
	linesDropped     uint64
	errors           uint64
	reconnects       uint64
}

// NewWebsocketSource creates a source for a ws:// or wss:// feed URL.
func NewWebsocketSource(url string) *WebsocketSource {
	return &WebsocketSource{
		url:   url,
		lines: make(chan string, lineBufferSize),
		done:  make(chan struct{}),
	}
}

// Lines returns the channel of raw lines.
func (s *WebsocketSource) Lines() <-chan string { return s.lines }

// Start begins the websocket connection in a goroutine.
func (s *WebsocketSource) Start() {
	if s.running.Swap(true) {
		log.Printf("[wsfeed] already running")
		return
	}
	s.wg.Add(1)
	go s.runLoop()
	log.Printf("[wsfeed] started for %s", s.url)
}

// Stop gracefully shuts down the source and closes the lines channel.
func (s *WebsocketSource) Stop() {
	if !s.running.Swap(false) {
		return
	}
	close(s.done)
	s.wg.Wait()
	close(s.lines)
	log.Printf("[wsfeed] stopped")
}

// Stats returns current statistics.
func (s *WebsocketSource) Stats() map[string]interface{} {
	return map[string]interface{}{
		"source":            "wsfeed",
		"connected":         s.connected.Load(),
		"messages_received": atomic.LoadUint64(&s.messagesReceived),
		"lines_read":        atomic.LoadUint64(&s.linesRead),
		"lines_dropped":     atomic.LoadUint64(&s.linesDropped),
		"errors":            atomic.LoadUint64(&s.errors),
		"reconnects":        atomic.LoadUint64(&s.reconnects),
	}
}

func (s *WebsocketSource) runLoop() {
	defer s.wg.Done()

	reconnectDelay := initialReconnectDelay

	for s.running.Load() {
		err := s.connectAndStream()
		if err != nil {
			atomic.AddUint64(&s.errors, 1)
			atomic.AddUint64(&s.reconnects, 1)
			log.Printf("[wsfeed] connection error: %v, reconnecting in %v", err, reconnectDelay)
		}

		select {
		case <-s.done:
			return
		case <-time.After(reconnectDelay):
			// Exponential backoff
			reconnectDelay = time.Duration(float64(reconnectDelay) * reconnectBackoff)
			if reconnectDelay > maxReconnectDelay {
				reconnectDelay = maxReconnectDelay
			}
		}
	}
}

func (s *WebsocketSource) connectAndStream() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: connectionTimeout,
	}

	log.Printf("[wsfeed] connecting...")
	conn, _, err := dialer.Dial(s.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	s.connected.Store(true)
	log.Printf("[wsfeed] connected")

	conn.SetPongHandler(func(string) error {
		return nil
	})

	// Ping goroutine keeps idle feeds alive and unblocks reads on Stop.
	pingDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-s.done:
				conn.Close()
				return
			}
		}
	}()
	defer close(pingDone)

	for s.running.Load() {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.connected.Store(false)
				return nil
			}
			s.connected.Store(false)
			return fmt.Errorf("read failed: %w", err)
		}

		if messageType != websocket.TextMessage {
			continue
		}
		atomic.AddUint64(&s.messagesReceived, 1)

		for _, line := range strings.Split(string(message), "\n") {
			if line == "" {
				continue
			}
			atomic.AddUint64(&s.linesRead, 1)
			select {
			case s.lines <- line:
			default:
				atomic.AddUint64(&s.linesDropped, 1)
				if atomic.LoadUint64(&s.linesDropped)%10000 == 0 {
					log.Printf("[wsfeed] line channel full, dropped %d lines", atomic.LoadUint64(&s.linesDropped))
				}
			}
		}
	}

	s.connected.Store(false)
	return nil
}
