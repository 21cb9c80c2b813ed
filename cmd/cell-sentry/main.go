// cell-sentry - IMSI-catcher detection daemon.
//
// Consumes telephony diagnostic log feeds and periodic radio register
// snapshots, runs the anomaly detection rules, and verifies serving
// towers against public geolocation databases.
//
// Usage:
//
//	cell-sentry -stream-path=/var/log/radio.log -database=postgres://...
//
// Environment variables (CELL_SENTRY_*) and an optional YAML file
// (-config) provide the same settings; flags win.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cellsentry/cell-sentry/pkg/config"
	"github.com/cellsentry/cell-sentry/pkg/detector"
	"github.com/cellsentry/cell-sentry/pkg/diagstream"
	"github.com/cellsentry/cell-sentry/pkg/ingest"
	"github.com/cellsentry/cell-sentry/pkg/lookup"
	"github.com/cellsentry/cell-sentry/pkg/models"
	"github.com/cellsentry/cell-sentry/pkg/patterns"
	"github.com/cellsentry/cell-sentry/pkg/ratelimit"
	"github.com/cellsentry/cell-sentry/pkg/registry"
)

var (
	configFlag     = flag.String("config", "", "Path to YAML config file (optional)")
	streamURLFlag  = flag.String("stream", "", "Websocket diagnostic feed URL (ws:// or wss://)")
	streamPathFlag = flag.String("stream-path", "", "Line-delimited diagnostic file or pipe, '-' for stdin")
	snapshotFlag   = flag.String("snapshot", "", "Radio register snapshot file to poll")
	snapshotCmd    = flag.String("snapshot-cmd", "", "Command producing a register snapshot on stdout")
	redisFlag      = flag.String("redis", "", "Redis URL for the shared lookup throttle (optional)")
	databaseFlag   = flag.String("database", "", "PostgreSQL URL for events and the tower registry (optional)")
	opencellidKey  = flag.String("opencellid-key", "", "OpenCellID API key")
	unwiredToken   = flag.String("unwiredlabs-token", "", "UnwiredLabs API token")
	metricsListen  = flag.String("metrics-listen", "", "Prometheus metrics listen address (e.g. :9823)")
	blockGSM       = flag.Bool("block-gsm", false, "Raise downgrade alerts to blocking severity")
	rejectA50      = flag.Bool("reject-a50", false, "Treat A5/0 connections as blocked")
)

// scanLogger is the default secondary-scan trigger: the request is
// logged for an external scanner to pick up.
type scanLogger struct{}

func (scanLogger) Request(reason string) {
	log.Printf("[scan] secondary scan requested: %s", reason)
}

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("cell-sentry starting...")

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	applyFlags(&cfg)

	// Redis, optional: shared throttle tier across processes.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: Invalid Redis URL: %v", err)
		} else {
			redisClient = redis.NewClient(opt)
			if err := redisClient.Ping(context.Background()).Err(); err != nil {
				log.Printf("Warning: Redis connection failed: %v", err)
				redisClient = nil
			} else {
				log.Printf("Connected to Redis: %s", cfg.RedisURL)
			}
		}
	}

	// Postgres, optional: event log and tower registry. Either surface
	// degrades to memory independently.
	var store ingest.EventStore
	var pgWriter *ingest.PostgresWriter
	if cfg.DatabaseURL != "" {
		pgWriter, err = ingest.NewPostgresWriter(cfg.DatabaseURL)
		if err != nil {
			log.Printf("Warning: Event database connection failed: %v", err)
		} else {
			pgWriter.Start()
			store = pgWriter
		}
	}
	if store == nil {
		store = ingest.NewMemoryStore()
		log.Printf("Events kept in memory (no database configured)")
	}

	var reg registry.TowerRegistry
	var pgRegistry *registry.PostgresRegistry
	if cfg.DatabaseURL != "" {
		pgRegistry, err = registry.NewPostgresRegistry(cfg.DatabaseURL)
		if err != nil {
			log.Printf("Warning: Registry database connection failed: %v", err)
		} else {
			reg = pgRegistry
		}
	}
	if reg == nil {
		reg = registry.NewMemoryRegistry()
		log.Printf("Tower registry kept in memory (no database configured)")
	}

	// Core plumbing.
	cache := patterns.New()
	parser := diagstream.NewParser(cache)
	cooldown := ratelimit.NewGate(cfg.Cooldown)
	dedup := ratelimit.NewGate(cfg.DedupWindow)
	throttle := ratelimit.NewThrottleGate(cfg.ThrottleWindow, redisClient)

	events := make(chan models.ForensicEvent, cfg.BufferSize)
	engine := detector.NewEngine(cache, parser, cooldown, events)
	engine.SetEnforcement(detector.Enforcement{BlockGSM: cfg.BlockGSM, RejectA50: cfg.RejectA50})

	// Verification pipeline.
	var providers []lookup.Provider
	if !cfg.DisableBeaconDB {
		providers = append(providers, lookup.NewBeaconDB(cfg.BeaconDBURL))
	}
	if cfg.OpenCellIDKey != "" {
		providers = append(providers, lookup.NewOpenCellID(cfg.OpenCellIDURL, cfg.OpenCellIDKey))
	}
	if cfg.UnwiredLabsToken != "" {
		providers = append(providers, lookup.NewUnwiredLabs(cfg.UnwiredLabsURL, cfg.UnwiredLabsToken))
	}
	log.Printf("Verification providers: %d configured", len(providers))

	var location lookup.LocationSource
	if cfg.HasFix() {
		static := lookup.NewStaticLocation()
		static.Set(*cfg.GPSLatitude, *cfg.GPSLongitude)
		location = static
		log.Printf("Static GPS fix: %.4f, %.4f", *cfg.GPSLatitude, *cfg.GPSLongitude)
	}

	ingestor := ingest.NewIngestor(store, dedup, ingest.LogNotifier{}, nil)
	ingestor.SetRetention(cfg.Retention)
	ingestor.SetWorkers(cfg.Workers)
	manager := lookup.NewManager(providers, reg, throttle, location, scanLogger{}, ingestor)
	ingestor.SetVerifier(manager)
	ingestor.Start()

	// Line sources.
	var sources []diagstream.LineSource
	if cfg.StreamURL != "" {
		sources = append(sources, diagstream.NewWebsocketSource(cfg.StreamURL))
	}
	if cfg.StreamPath != "" {
		if cfg.StreamPath == "-" {
			sources = append(sources, diagstream.NewReaderSource("stdin", os.Stdin))
		} else {
			f, err := os.Open(cfg.StreamPath)
			if err != nil {
				log.Fatalf("Cannot open stream path %s: %v", cfg.StreamPath, err)
			}
			sources = append(sources, diagstream.NewReaderSource("file", f))
		}
	}

	// Snapshot poller.
	var poller *diagstream.Poller
	if cfg.SnapshotPath != "" {
		poller = diagstream.NewPoller(diagstream.FileSnapshotSource{Path: cfg.SnapshotPath},
			parser, cfg.SnapshotInterval, diagstream.DefaultSnapshotTimeout)
	} else if cfg.SnapshotCommand != "" {
		parts := strings.Fields(cfg.SnapshotCommand)
		if len(parts) == 0 {
			log.Fatalf("Empty snapshot command")
		}
		poller = diagstream.NewPoller(diagstream.CommandSnapshotSource{Name: parts[0], Args: parts[1:]},
			parser, cfg.SnapshotInterval, diagstream.DefaultSnapshotTimeout)
	}

	if len(sources) == 0 && poller == nil {
		log.Fatalf("No input configured: need -stream, -stream-path, -snapshot, or -snapshot-cmd")
	}

	var linesProcessed uint64

	// One worker per source keeps per-SIM ordering within each feed.
	var workerWg sync.WaitGroup
	for _, src := range sources {
		workerWg.Add(1)
		go func(src diagstream.LineSource) {
			defer workerWg.Done()
			for line := range src.Lines() {
				atomic.AddUint64(&linesProcessed, 1)
				engine.ProcessLine(line)
			}
		}(src)
	}
	if poller != nil {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for sample := range poller.Samples() {
				engine.ProcessSample(sample)
			}
		}()
	}

	// Event consumer: the single write path.
	var consumerWg sync.WaitGroup
	consumerWg.Add(1)
	go func() {
		defer consumerWg.Done()
		for ev := range events {
			if err := ingestor.Ingest(ev); err != nil {
				if !ingest.IsKind(err, ingest.KindDuplicate) {
					log.Printf("Ingest rejected event: %v", err)
				}
				continue
			}
			if ev.Severity >= ingest.NotifySeverity {
				evJSON, _ := json.Marshal(map[string]interface{}{
					"type":        ev.Type,
					"severity":    ev.Severity,
					"description": ev.Description,
					"cell_id":     ev.CellID,
					"sim_slot":    ev.SimSlot,
					"detected_at": ev.Timestamp.Format(time.RFC3339),
				})
				log.Printf("EVENT: %s", evJSON)
			}
		}
	}()

	// Stats logger.
	statsDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.StatsInterval)
		defer ticker.Stop()
		lastLines := uint64(0)
		lastTime := time.Now()

		for {
			select {
			case <-ticker.C:
				currentLines := atomic.LoadUint64(&linesProcessed)
				elapsed := time.Since(lastTime).Seconds()
				rate := float64(currentLines-lastLines) / elapsed

				engineStats := engine.Stats()
				ingestStats := ingestor.Stats()
				log.Printf("STATS: lines=%d (%.0f/s), events=%v, accepted=%v, lookups=%v, channel=%d/%d",
					currentLines, rate,
					engineStats["events_emitted"], ingestStats["accepted"],
					manager.Stats()["lookups"], len(events), cap(events))

				lastLines = currentLines
				lastTime = time.Now()
			case <-statsDone:
				return
			}
		}
	}()

	// Prometheus metrics endpoint.
	if cfg.MetricsListen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Printf("Metrics listening on %s", cfg.MetricsListen)
			if err := http.ListenAndServe(cfg.MetricsListen, mux); err != nil {
				log.Printf("Warning: metrics server failed: %v", err)
			}
		}()
	}

	// Start inputs.
	for _, src := range sources {
		src.Start()
	}
	if poller != nil {
		poller.Start()
	}

	// Wait for interrupt.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Printf("Shutting down...")
	for _, src := range sources {
		src.Stop()
	}
	if poller != nil {
		poller.Stop()
	}
	workerWg.Wait()
	close(events)
	consumerWg.Wait()
	close(statsDone)

	ingestor.Stop()
	if pgWriter != nil {
		pgWriter.Stop()
	}
	if pgRegistry != nil {
		pgRegistry.Close()
	}
	throttle.Stop()
	cooldown.Stop()
	dedup.Stop()
	cache.Close()

	log.Printf("Final stats: lines=%d, events=%v, accepted=%v",
		atomic.LoadUint64(&linesProcessed),
		engine.Stats()["events_emitted"], ingestor.Stats()["accepted"])
}

// applyFlags overrides configuration with explicitly set flags.
func applyFlags(cfg *config.Config) {
	if *streamURLFlag != "" {
		cfg.StreamURL = *streamURLFlag
	}
	if *streamPathFlag != "" {
		cfg.StreamPath = *streamPathFlag
	}
	if *snapshotFlag != "" {
		cfg.SnapshotPath = *snapshotFlag
	}
	if *snapshotCmd != "" {
		cfg.SnapshotCommand = *snapshotCmd
	}
	if *redisFlag != "" {
		cfg.RedisURL = *redisFlag
	}
	if *databaseFlag != "" {
		cfg.DatabaseURL = *databaseFlag
	}
	if *opencellidKey != "" {
		cfg.OpenCellIDKey = *opencellidKey
	}
	if *unwiredToken != "" {
		cfg.UnwiredLabsToken = *unwiredToken
	}
	if *metricsListen != "" {
		cfg.MetricsListen = *metricsListen
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "block-gsm":
			cfg.BlockGSM = *blockGSM
		case "reject-a50":
			cfg.RejectA50 = *rejectA50
		}
	})
}
