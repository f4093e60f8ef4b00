package listener

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/mdbook/pkg/book"
)

// levelKey identifies a conflation bucket: one price on one side
type levelKey struct {
	price string
	side  book.Side
}

// Conflater accumulates basic deltas per (price, side) key and flushes at
// most one coalesced notification per level per interval, merging multiple
// size changes to the same level into one net delta. Notification order
// across levels follows first admission; the conflater never reorders
// levels relative to each other.
type Conflater struct {
	interval time.Duration
	dispatch func(*book.ComplexDelta)

	mu      sync.Mutex
	pending map[levelKey]*book.BasicDelta
	order   []levelKey

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConflater creates a conflation buffer flushing through dispatch
func NewConflater(interval time.Duration, dispatch func(*book.ComplexDelta)) *Conflater {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conflater{
		interval: interval,
		dispatch: dispatch,
		pending:  make(map[levelKey]*book.BasicDelta),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the interval flush timer
func (c *Conflater) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop flushes whatever is pending and halts the timer
func (c *Conflater) Stop() {
	c.cancel()
	c.wg.Wait()
	c.Flush()
}

// Admit buffers one event's deltas, merging per level. It runs on the writer
// path while the book mutation is still current; each delta is detached here
// so the later timer-driven flush reads no live book state.
func (c *Conflater) Admit(cd *book.ComplexDelta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range cd.Deltas {
		d := cd.Deltas[i].Detach()
		key := levelKey{price: d.Level.Price.String(), side: d.Level.Side}
		if existing, ok := c.pending[key]; ok {
			existing.DeltaSize = existing.DeltaSize.Add(d.DeltaSize)
			existing.Entry = d.Entry
			existing.EntryAction = d.EntryAction
			// Latest aggregate snapshot wins
			existing.Level = d.Level
			// A level added then touched again within the window still
			// reports "add"; any later delete wins outright.
			if existing.LevelAction != book.ActionAdd || d.LevelAction == book.ActionDelete {
				existing.LevelAction = d.LevelAction
			}
			continue
		}
		merged := d
		c.pending[key] = &merged
		c.order = append(c.order, key)
	}
}

// Flush dispatches all buffered deltas as one complex delta
func (c *Conflater) Flush() {
	c.mu.Lock()
	if len(c.order) == 0 {
		c.mu.Unlock()
		return
	}
	out := &book.ComplexDelta{}
	for _, key := range c.order {
		out.Append(*c.pending[key])
	}
	c.resetLocked()
	c.mu.Unlock()

	c.dispatch(out)
}

// Discard drops buffered state without notifying handlers, for when a recap
// or clear supersedes the pending deltas.
func (c *Conflater) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// Pending returns the number of buffered levels
func (c *Conflater) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

func (c *Conflater) resetLocked() {
	c.pending = make(map[levelKey]*book.BasicDelta)
	c.order = c.order[:0]
}

func (c *Conflater) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Flush()
		}
	}
}
