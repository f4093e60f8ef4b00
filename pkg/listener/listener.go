package listener

import (
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/mdbook/pkg/book"
)

// Config carries the listener's feed policies
type Config struct {
	// UpdateInconsistentBook keeps applying deltas speculatively after a
	// gap instead of halting until the next recap.
	UpdateInconsistentBook bool

	// UpdateStaleBook keeps applying deltas while the source quality is
	// degraded. Defaults on: most consumers prefer a slightly suspect book
	// over a frozen one.
	UpdateStaleBook bool

	// ClearStaleBook empties the book when the source goes stale
	ClearStaleBook bool

	// ConflateDeltas buffers deltas and notifies at most once per level
	// per ConflationInterval instead of once per wire update.
	ConflateDeltas     bool
	ConflationInterval time.Duration

	Engine book.EngineConfig
}

// DefaultConfig returns the policies most consumers want
func DefaultConfig() Config {
	return Config{
		UpdateStaleBook:    true,
		ConflationInterval: 500 * time.Millisecond,
		Engine:             book.DefaultEngineConfig(),
	}
}

// Listener drives one book from a single dispatch goroutine. OnMsg is the
// sole entry point for state transitions and mutation; there is no internal
// event thread. Readers inspect the book through its own read lock or
// snapshots.
type Listener struct {
	cfg    Config
	book   *book.OrderBook
	engine *book.DeltaEngine
	logger log.Logger

	conflater *Conflater

	mu       sync.Mutex
	state    State
	stale    bool
	seqNum   uint64
	handlers []Handler
}

// New creates a listener around an empty book for the symbol
func New(symbol string, cfg Config, logger log.Logger) *Listener {
	b := book.NewOrderBook(symbol)
	l := &Listener{
		cfg:    cfg,
		book:   b,
		engine: book.NewDeltaEngine(b, cfg.Engine, logger),
		logger: logger,
		state:  StateUninitialized,
	}
	if cfg.ConflateDeltas {
		l.conflater = NewConflater(cfg.ConflationInterval, l.dispatchComplex)
	}
	return l
}

// Book returns the live book. Use its read lock or Snapshot when the
// listener's dispatch goroutine is running.
func (l *Listener) Book() *book.OrderBook {
	return l.book
}

// AddHandler registers a handler for book callbacks
func (l *Listener) AddHandler(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// State returns the current lifecycle state
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// IsConsistent reports whether the book reflects an unbroken update stream
func (l *Listener) IsConsistent() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateConsistent
}

// SeqNum returns the sequence number of the last observed event
func (l *Listener) SeqNum() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seqNum
}

// RequestRecap marks the listener as waiting for a fresh image. Pre-recap
// deltas are dropped, the surrounding subscription machinery performs the
// actual snapshot round-trip.
func (l *Listener) RequestRecap() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateDestroyed {
		return
	}
	l.state = StateAwaitingRecap
}

// Start begins the conflation flush timer when conflation is enabled
func (l *Listener) Start() {
	if l.conflater != nil {
		l.conflater.Start()
	}
}

// Destroy flushes pending conflated deltas, releases the book and
// unregisters all handlers. Terminal.
func (l *Listener) Destroy() {
	if l.conflater != nil {
		l.conflater.Stop()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateDestroyed
	l.handlers = nil
	l.book.Clear()
}

// SetQuality feeds the data-quality collaborator's verdict into the state
// machine. Stale is a transition, not an error.
func (l *Listener) SetQuality(stale bool) {
	l.mu.Lock()
	wasStale := l.stale
	l.stale = stale
	clear := stale && !wasStale && l.cfg.ClearStaleBook
	l.mu.Unlock()

	if clear {
		l.logger.Warn("Source stale, clearing book", "symbol", l.book.Symbol)
		if l.conflater != nil {
			l.conflater.Discard()
		}
		l.book.Clear()
	}
}

// OnMsg applies one decoded event. It must be called from a single
// goroutine per listener: all book mutation is single-writer by
// construction.
func (l *Listener) OnMsg(u *book.BookUpdate, mt MsgType) {
	if u == nil {
		return
	}

	l.mu.Lock()
	if l.state == StateDestroyed {
		l.mu.Unlock()
		return
	}
	state := l.state
	stale := l.stale
	lastSeq := l.seqNum
	l.mu.Unlock()

	switch mt {
	case MsgRecap:
		l.applyRecap(u)

	case MsgClear:
		if l.conflater != nil {
			l.conflater.Discard()
		}
		l.book.Clear()
		l.setSeq(u.SeqNum)
		ev := ClearEvent{Symbol: u.Symbol, SeqNum: u.SeqNum, Timestamp: u.Timestamp}
		for _, h := range l.snapshotHandlers() {
			h.OnBookClear(ev, l.book)
		}

	case MsgDelta:
		if state == StateUninitialized || state == StateAwaitingRecap {
			l.logger.Debug("Dropping pre-recap delta", "symbol", u.Symbol, "seq", u.SeqNum)
			return
		}
		if stale && !l.cfg.UpdateStaleBook {
			// Intentional drop, not a transport loss: track the sequence so
			// the first delta after recovery is not mistaken for a gap.
			l.logger.Debug("Dropping delta on stale source", "symbol", u.Symbol, "seq", u.SeqNum)
			if u.SeqNum > lastSeq {
				l.setSeq(u.SeqNum)
			}
			return
		}

		gapped := false
		if lastSeq != 0 && u.SeqNum != 0 {
			if u.SeqNum <= lastSeq {
				l.logger.Debug("Dropping duplicate delta", "symbol", u.Symbol, "seq", u.SeqNum)
				return
			}
			if u.SeqNum > lastSeq+1 {
				gapped = true
				l.mu.Lock()
				l.state = StateGapDetected
				l.mu.Unlock()
				state = StateGapDetected
				l.reportGap(GapEvent{
					Symbol:      u.Symbol,
					BeginSeqNum: lastSeq + 1,
					EndSeqNum:   u.SeqNum - 1,
					Timestamp:   u.Timestamp,
				})
			}
		}
		l.setSeq(u.SeqNum)

		if (state == StateGapDetected || gapped) && !l.cfg.UpdateInconsistentBook {
			return
		}
		l.applyDelta(u)
	}
}

// ForceInvokeDeltaHandlers flushes any buffered conflated deltas immediately
func (l *Listener) ForceInvokeDeltaHandlers() {
	if l.conflater != nil {
		l.conflater.Flush()
	}
}

// ClearConflatedDeltas discards buffered deltas without notifying handlers,
// for when a recap or clear supersedes them.
func (l *Listener) ClearConflatedDeltas() {
	if l.conflater != nil {
		l.conflater.Discard()
	}
}

func (l *Listener) applyRecap(u *book.BookUpdate) {
	if l.conflater != nil {
		l.conflater.Discard()
	}
	if err := l.engine.ApplyRecap(u); err != nil {
		l.logger.Error("Recap apply failed", "symbol", u.Symbol, "error", err)
		return
	}
	l.mu.Lock()
	l.state = StateConsistent
	l.seqNum = u.SeqNum
	l.mu.Unlock()

	for _, h := range l.snapshotHandlers() {
		h.OnBookRecap(l.book)
	}
}

func (l *Listener) applyDelta(u *book.BookUpdate) {
	res, err := l.engine.Apply(u)
	if err != nil {
		l.logger.Error("Delta apply failed", "symbol", u.Symbol, "seq", u.SeqNum, "error", err)
		return
	}
	if res.NeedRecap {
		// Feed error or missed message: keep going, but flag the book so
		// the consumer requests a fresh image.
		l.mu.Lock()
		l.state = StateGapDetected
		l.mu.Unlock()
		l.reportGap(GapEvent{
			Symbol:      u.Symbol,
			BeginSeqNum: u.SeqNum,
			EndSeqNum:   u.SeqNum,
			Timestamp:   u.Timestamp,
		})
	}
	if res.Delta.Empty() {
		return
	}

	if l.conflater != nil {
		l.conflater.Admit(res.Delta)
		return
	}
	l.dispatchComplex(res.Delta)
}

func (l *Listener) dispatchComplex(cd *book.ComplexDelta) {
	handlers := l.snapshotHandlers()
	if cd.Size() == 1 {
		for _, h := range handlers {
			h.OnBookDelta(cd.Deltas[0], l.book)
		}
		return
	}
	for _, h := range handlers {
		h.OnBookComplexDelta(cd, l.book)
	}
}

func (l *Listener) reportGap(ev GapEvent) {
	l.logger.Warn("Sequence gap detected",
		"symbol", ev.Symbol, "begin", ev.BeginSeqNum, "end", ev.EndSeqNum)
	for _, h := range l.snapshotHandlers() {
		h.OnBookGap(ev, l.book)
	}
}

func (l *Listener) setSeq(seq uint64) {
	l.mu.Lock()
	l.seqNum = seq
	l.mu.Unlock()
}

func (l *Listener) snapshotHandlers() []Handler {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handlers
}
