// bookfeed maintains market depth books from an upstream websocket feed,
// republishes them over NATS and persists periodic depth snapshots.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/leveldb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/luxfi/mdbook/pkg/book"
	"github.com/luxfi/mdbook/pkg/feed"
	"github.com/luxfi/mdbook/pkg/listener"
	"github.com/luxfi/mdbook/pkg/metrics"
	"github.com/luxfi/mdbook/pkg/publish"
	"github.com/luxfi/mdbook/pkg/store"
)

func main() {
	var (
		feedURL       = flag.String("feed", "ws://localhost:8081", "Upstream market data websocket URL")
		symbolList    = flag.String("symbols", "LUX/USD", "Comma separated symbols to maintain")
		natsURL       = flag.String("nats", nats.DefaultURL, "NATS URL for publishing, empty disables")
		dbPath        = flag.String("db", "", "Snapshot database path, empty uses in-memory")
		depth         = flag.Int("depth", 20, "Published depth levels per side, 0 for full books")
		conflate      = flag.Bool("conflate", false, "Conflate deltas before dispatch")
		conflateEvery = flag.Duration("conflate-interval", 500*time.Millisecond, "Conflation flush interval")
		snapshotEvery = flag.Duration("snapshot-interval", time.Minute, "Snapshot persistence interval, 0 disables")
		checkEvery    = flag.Duration("check-interval", 0, "Book checker interval, 0 disables")
		metricsPort   = flag.String("metrics-port", "9095", "Prometheus metrics port, empty disables")
		logLevel      = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	level, _ := log.ToLevel(*logLevel)
	logger := log.NewTestLogger(level)

	symbols := splitSymbols(*symbolList)
	if len(symbols) == 0 {
		logger.Error("No symbols configured")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bm, err := metrics.NewBookMetrics("mdbook", logger)
	if err != nil {
		logger.Error("Metrics init failed", "error", err)
		os.Exit(1)
	}
	if *metricsPort != "" {
		if err := bm.StartServer(*metricsPort); err != nil {
			logger.Error("Metrics server failed", "error", err)
			os.Exit(1)
		}
		go bm.CollectSystemMetrics(ctx)
	}

	// Snapshot persistence
	var db database.Database
	if *dbPath != "" {
		db, err = leveldb.New(*dbPath, 0, 0, 0)
		if err != nil {
			logger.Warn("Falling back to in-memory database", "path", *dbPath, "error", err)
			db = memdb.New()
		}
	} else {
		db = memdb.New()
	}
	defer db.Close()
	snapshots := store.NewSnapshotStore(db, logger)

	// NATS publishing
	var nc *nats.Conn
	var pub *publish.Publisher
	if *natsURL != "" {
		nc, err = nats.Connect(*natsURL, nats.Name("mdbook"))
		if err != nil {
			logger.Error("NATS connect failed", "url", *natsURL, "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		pub = publish.NewPublisher(nc, *depth, logger)
		pub.SetPublishHook(bm.RecordNATSPublish)
	}

	// One listener per symbol, all fed by one websocket client
	cfg := listener.DefaultConfig()
	cfg.ConflateDeltas = *conflate
	cfg.ConflationInterval = *conflateEvery

	client := feed.NewClient(feed.Config{
		URL:     *feedURL,
		Symbols: symbols,
		Depth:   *depth,
	}, logger)

	books := make(map[string]*book.OrderBook, len(symbols))
	listeners := make([]*listener.Listener, 0, len(symbols))
	var checkers []*listener.Checker

	for _, symbol := range symbols {
		l := listener.New(symbol, cfg, logger.New("symbol", symbol))
		l.AddHandler(metrics.NewHandler(bm))
		if pub != nil {
			l.AddHandler(pub)
		}
		if seq, err := snapshots.Restore(l.Book()); err == nil {
			logger.Info("Seeded book from stored snapshot", "symbol", symbol, "seq", seq)
		}
		l.Start()
		client.Register(symbol, l)
		books[symbol] = l.Book()
		listeners = append(listeners, l)

		if *checkEvery > 0 && nc != nil {
			c := listener.NewChecker(l.Book(), publish.NewSnapshotClient(nc),
				*checkEvery, *depth, nil, logger.New("symbol", symbol))
			c.Start()
			checkers = append(checkers, c)
		}
	}

	// Answer depth requests from other consumers
	var snapServer *publish.SnapshotServer
	if nc != nil {
		snapServer = publish.NewSnapshotServer(nc, books, logger)
		if err := snapServer.Start(); err != nil {
			logger.Error("Snapshot server failed", "error", err)
			os.Exit(1)
		}
	}

	if *snapshotEvery > 0 {
		go persistLoop(ctx, listeners, snapshots, bm, *snapshotEvery, *depth, logger)
	}

	if err := client.Start(ctx); err != nil {
		logger.Error("Feed start failed", "error", err)
		os.Exit(1)
	}
	logger.Info("bookfeed running", "feed", *feedURL, "symbols", symbols)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down")
	cancel()
	client.Stop()
	for _, c := range checkers {
		c.Stop()
	}
	if snapServer != nil {
		snapServer.Stop()
	}
	for _, l := range listeners {
		l.Destroy()
	}
	bm.LogMetrics()
}

// persistLoop writes a depth snapshot per listener at each tick
func persistLoop(ctx context.Context, listeners []*listener.Listener, s *store.SnapshotStore,
	bm *metrics.BookMetrics, interval time.Duration, maxLevels int, logger log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, l := range listeners {
				if !l.IsConsistent() {
					continue
				}
				d := l.Book().Depth(maxLevels)
				d.Sequence = l.SeqNum()
				if err := s.Save(d); err != nil {
					logger.Warn("Snapshot persist failed", "symbol", d.Symbol, "error", err)
					continue
				}
				bm.RecordSnapshotPersisted()
			}
		}
	}
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
