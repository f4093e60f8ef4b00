package listener

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/mdbook/pkg/book"
)

// SnapshotSource fetches an authoritative depth image for a symbol, typically
// over a request/reply transport. Blocking; honors ctx.
type SnapshotSource interface {
	FetchDepth(ctx context.Context, symbol string, maxLevels int) (*book.BookDepth, error)
}

// CheckResult reports one comparison of the maintained book against an
// authoritative snapshot
type CheckResult struct {
	Symbol  string
	OK      bool
	Err     error
	Elapsed time.Duration
}

// Checker periodically fetches a snapshot and compares it against the locally
// maintained book. The first check fires after a random jitter delay so a
// fleet of checkers does not stampede the snapshot source, then at a fixed
// interval. Comparison runs off the dispatch goroutine and never blocks it.
type Checker struct {
	book      *book.OrderBook
	source    SnapshotSource
	interval  time.Duration
	maxLevels int
	onResult  func(CheckResult)
	logger    log.Logger

	successCount atomic.Uint64
	failureCount atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChecker creates a checker for one book. onResult may be nil.
func NewChecker(b *book.OrderBook, source SnapshotSource, interval time.Duration, maxLevels int, onResult func(CheckResult), logger log.Logger) *Checker {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Checker{
		book:      b,
		source:    source,
		interval:  interval,
		maxLevels: maxLevels,
		onResult:  onResult,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the checking loop
func (c *Checker) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop halts the checking loop
func (c *Checker) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Counts returns the number of successful and failed checks so far
func (c *Checker) Counts() (successes, failures uint64) {
	return c.successCount.Load(), c.failureCount.Load()
}

// CheckOnce runs a single comparison immediately
func (c *Checker) CheckOnce(ctx context.Context) CheckResult {
	start := time.Now()
	res := CheckResult{Symbol: c.book.Symbol}

	snap, err := c.source.FetchDepth(ctx, c.book.Symbol, c.maxLevels)
	if err != nil {
		res.Err = err
		res.Elapsed = time.Since(start)
		c.failureCount.Add(1)
		c.logger.Warn("Snapshot fetch failed", "symbol", res.Symbol, "error", err)
		return res
	}

	local := c.book.Depth(c.maxLevels)
	res.OK = local.Equal(snap)
	res.Elapsed = time.Since(start)
	if res.OK {
		c.successCount.Add(1)
	} else {
		c.failureCount.Add(1)
		c.logger.Warn("Book diverged from snapshot",
			"symbol", res.Symbol,
			"localBids", len(local.Bids), "snapBids", len(snap.Bids),
			"localAsks", len(local.Asks), "snapAsks", len(snap.Asks))
	}
	return res
}

func (c *Checker) run() {
	defer c.wg.Done()

	// Random initial jitter within one interval
	jitter := time.Duration(rand.Int63n(int64(c.interval)))
	select {
	case <-c.ctx.Done():
		return
	case <-time.After(jitter):
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		res := c.CheckOnce(c.ctx)
		if c.onResult != nil {
			c.onResult(res)
		}
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
