package book

import (
	"sync"
	"time"

	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"
	"github.com/shopspring/decimal"
)

// OrderBook owns two ordered collections of price levels: bids descending by
// price (best bid first), asks ascending (best ask first). Market-order
// levels, when present, form a separate partition that iterates ahead of the
// limit levels on their side since they carry no price to compare.
//
// Mutation is single-writer by construction: the listener's dispatch path
// takes the write lock for the duration of one event's mutations. Any number
// of reader goroutines may hold the read lock concurrently via RLock/RUnlock,
// or take a self-contained point-in-time copy with Snapshot.
type OrderBook struct {
	Symbol string

	bids *rbt.Tree[decimal.Decimal, *PriceLevel]
	asks *rbt.Tree[decimal.Decimal, *PriceLevel]

	// At most one market-order level per side (no price to key by)
	marketBid *PriceLevel
	marketAsk *PriceLevel

	entryMgr        *EntryManager
	useEntryManager bool
	entryIDsUnique  bool

	BookTime time.Time

	mu sync.RWMutex
}

// NewOrderBook creates an empty book for a symbol
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids: rbt.NewWith[decimal.Decimal, *PriceLevel](func(a, b decimal.Decimal) int {
			return b.Cmp(a) // descending
		}),
		asks: rbt.NewWith[decimal.Decimal, *PriceLevel](func(a, b decimal.Decimal) int {
			return a.Cmp(b) // ascending
		}),
		entryMgr: NewEntryManager(),
	}
}

// SetUseEntryManager enables the flat id index for O(1) entry lookup.
// Only valid when entry ids are unique across the whole book.
func (ob *OrderBook) SetUseEntryManager(use bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.useEntryManager = use
	if use {
		ob.reindexLocked()
	}
}

// SetEntryIDsUnique declares that entry ids are globally unique, enabling
// duplicate detection across levels.
func (ob *OrderBook) SetEntryIDsUnique(unique bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.entryIDsUnique = unique
}

// RLock acquires the shared read lock for in-place iteration. Callers must
// guarantee RUnlock on every exit path to avoid writer starvation.
func (ob *OrderBook) RLock() { ob.mu.RLock() }

// RUnlock releases the shared read lock
func (ob *OrderBook) RUnlock() { ob.mu.RUnlock() }

// AddEntry locates or creates the level for (price, side), inserts the entry
// and returns a delta describing exactly what changed.
func (ob *OrderBook) AddEntry(id string, size, price decimal.Decimal, side Side, t time.Time) (BasicDelta, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.addEntryLocked(id, "", size, price, side, Limit, t)
}

// UpdateEntry replaces the size of an existing entry at (price, side).
// When mustExist is false an unknown id is treated as an add, the usual
// stance for feeds that collapse add/update.
func (ob *OrderBook) UpdateEntry(id string, size, price decimal.Decimal, side Side, t time.Time, mustExist bool) (BasicDelta, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.updateEntryLocked(id, size, price, side, t, mustExist)
}

// DeleteEntry removes the entry, and its level when the level empties
func (ob *OrderBook) DeleteEntry(id string, price decimal.Decimal, side Side, t time.Time) (BasicDelta, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.deleteEntryLocked(id, price, side, t)
}

// MoveEntry re-homes an entry to a new price and/or side, composing a delete
// from the old level and an add to the new one. The two deltas belong to one
// complex delta from the consumer's point of view.
func (ob *OrderBook) MoveEntry(id string, newPrice decimal.Decimal, newSide Side, t time.Time) ([]BasicDelta, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.moveEntryLocked(id, newPrice, newSide, t)
}

// SetLevel applies a level-only change for feeds without entry detail: the
// published level size replaces the aggregate directly.
func (ob *OrderBook) SetLevel(price, size decimal.Decimal, side Side, action Action, t time.Time) (BasicDelta, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.setLevelLocked(price, size, side, Limit, action, t)
}

// GetLevelAtPrice returns the level for (price, side), or nil
func (ob *OrderBook) GetLevelAtPrice(price decimal.Decimal, side Side) *PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.levelAtLocked(price, side)
}

// FindEntry returns the entry with the given id anywhere in the book. O(1)
// with the entry manager enabled, O(levels x entries) without. Feeds whose
// ids are only unique per level must run without the manager.
func (ob *OrderBook) FindEntry(id string) *Entry {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.findEntryLocked(id)
}

// BestBid returns the best (highest) bid level, or nil
func (ob *OrderBook) BestBid() *PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	if ob.marketBid != nil {
		return ob.marketBid
	}
	if node := ob.bids.Left(); node != nil {
		return node.Value
	}
	return nil
}

// BestAsk returns the best (lowest) ask level, or nil
func (ob *OrderBook) BestAsk() *PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	if ob.marketAsk != nil {
		return ob.marketAsk
	}
	if node := ob.asks.Left(); node != nil {
		return node.Value
	}
	return nil
}

// EachLevel visits the levels of one side in book order (market partition
// first, then limit levels best-first) until fn returns false. The caller
// must hold the read lock when the book is shared with a writer.
func (ob *OrderBook) EachLevel(side Side, fn func(*PriceLevel) bool) {
	if m := ob.marketLevel(side); m != nil {
		if !fn(m) {
			return
		}
	}
	it := ob.tree(side).Iterator()
	for it.Next() {
		if !fn(it.Value()) {
			return
		}
	}
}

// Levels returns one side's levels in book order
func (ob *OrderBook) Levels(side Side) []*PriceLevel {
	out := make([]*PriceLevel, 0, ob.tree(side).Size()+1)
	ob.EachLevel(side, func(pl *PriceLevel) bool {
		out = append(out, pl)
		return true
	})
	return out
}

// LevelCount returns the number of levels on one side
func (ob *OrderBook) LevelCount(side Side) int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	n := ob.tree(side).Size()
	if ob.marketLevel(side) != nil {
		n++
	}
	return n
}

// TotalEntries returns the number of entries across all levels
func (ob *OrderBook) TotalEntries() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	total := 0
	for _, side := range []Side{Bid, Ask} {
		ob.EachLevel(side, func(pl *PriceLevel) bool {
			total += pl.EntryCount()
			return true
		})
	}
	return total
}

// Clear removes all levels and entries, leaving an empty book
func (ob *OrderBook) Clear() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.clearLocked()
}

// Snapshot returns a self-contained point-in-time deep copy of the book.
// The copy has its own lock and shares no state with the live book.
func (ob *OrderBook) Snapshot() *OrderBook {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	c := NewOrderBook(ob.Symbol)
	c.useEntryManager = ob.useEntryManager
	c.entryIDsUnique = ob.entryIDsUnique
	c.BookTime = ob.BookTime
	for _, side := range []Side{Bid, Ask} {
		ob.EachLevel(side, func(pl *PriceLevel) bool {
			cp := pl.copyLevel()
			if cp.OrderType == Market {
				c.setMarketLevel(side, cp)
			} else {
				c.tree(side).Put(cp.Price, cp)
			}
			return true
		})
	}
	if c.useEntryManager {
		c.reindexLocked()
	}
	return c
}

// internal, caller holds the write lock

func (ob *OrderBook) tree(side Side) *rbt.Tree[decimal.Decimal, *PriceLevel] {
	if side == Bid {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) marketLevel(side Side) *PriceLevel {
	if side == Bid {
		return ob.marketBid
	}
	return ob.marketAsk
}

func (ob *OrderBook) setMarketLevel(side Side, pl *PriceLevel) {
	if side == Bid {
		ob.marketBid = pl
	} else {
		ob.marketAsk = pl
	}
}

func (ob *OrderBook) levelAtLocked(price decimal.Decimal, side Side) *PriceLevel {
	if pl, found := ob.tree(side).Get(price); found {
		return pl
	}
	return nil
}

// getOrCreateLevelLocked returns the level for (price, side), creating and
// inserting it in sorted position when absent. The second return reports
// whether the level was created.
func (ob *OrderBook) getOrCreateLevelLocked(price decimal.Decimal, side Side, ot OrderType, t time.Time) (*PriceLevel, bool) {
	if ot == Market {
		if m := ob.marketLevel(side); m != nil {
			return m, false
		}
		pl := newPriceLevel(decimal.Zero, side, Market)
		pl.Action = ActionAdd
		pl.Time = t
		ob.setMarketLevel(side, pl)
		return pl, true
	}
	if pl, found := ob.tree(side).Get(price); found {
		return pl, false
	}
	pl := newPriceLevel(price, side, Limit)
	pl.Action = ActionAdd
	pl.Time = t
	ob.tree(side).Put(price, pl)
	return pl, true
}

func (ob *OrderBook) removeLevelLocked(pl *PriceLevel) {
	if pl.OrderType == Market {
		if ob.marketLevel(pl.Side) == pl {
			ob.setMarketLevel(pl.Side, nil)
		}
		return
	}
	ob.tree(pl.Side).Remove(pl.Price)
}

func (ob *OrderBook) findEntryLocked(id string) *Entry {
	if ob.useEntryManager {
		return ob.entryMgr.Find(id)
	}
	var found *Entry
	for _, side := range []Side{Bid, Ask} {
		ob.EachLevel(side, func(pl *PriceLevel) bool {
			if e := pl.FindEntry(id); e != nil {
				found = e
				return false
			}
			return true
		})
		if found != nil {
			break
		}
	}
	return found
}

func (ob *OrderBook) addEntryLocked(id, participant string, size, price decimal.Decimal, side Side, ot OrderType, t time.Time) (BasicDelta, error) {
	if ob.entryIDsUnique {
		if existing := ob.findEntryLocked(id); existing != nil && existing.owner != nil &&
			(existing.owner.Price.Cmp(price) != 0 || existing.owner.Side != side) {
			return BasicDelta{}, ErrDuplicateEntry
		}
	}

	pl, created := ob.getOrCreateLevelLocked(price, side, ot, t)
	levelAction := ActionUpdate
	if created {
		levelAction = ActionAdd
	}

	if e := pl.FindEntry(id); e != nil {
		// Re-add of a live entry collapses to an update
		diff := pl.updateEntry(e, size, t)
		pl.Action = levelAction
		pl.Time = t
		return BasicDelta{Entry: e, Level: pl, DeltaSize: diff, LevelAction: levelAction, EntryAction: ActionUpdate}, nil
	}

	e := &Entry{ID: id, ParticipantID: participant, Size: size, Action: ActionAdd, Time: t}
	if err := pl.addEntry(e); err != nil {
		if created {
			ob.removeLevelLocked(pl)
		}
		return BasicDelta{}, err
	}
	if ob.useEntryManager {
		if err := ob.entryMgr.Add(e); err != nil {
			_ = pl.removeEntry(e)
			if created {
				ob.removeLevelLocked(pl)
			}
			return BasicDelta{}, err
		}
	}
	pl.Action = levelAction
	pl.Time = t
	return BasicDelta{Entry: e, Level: pl, DeltaSize: size, LevelAction: levelAction, EntryAction: ActionAdd}, nil
}

func (ob *OrderBook) updateEntryLocked(id string, size, price decimal.Decimal, side Side, t time.Time, mustExist bool) (BasicDelta, error) {
	pl := ob.levelAtLocked(price, side)
	var e *Entry
	if pl != nil {
		e = pl.FindEntry(id)
	}
	if e == nil {
		if mustExist {
			return BasicDelta{}, ErrMissingEntry
		}
		return ob.addEntryLocked(id, "", size, price, side, Limit, t)
	}
	diff := pl.updateEntry(e, size, t)
	pl.Action = ActionUpdate
	pl.Time = t
	return BasicDelta{Entry: e, Level: pl, DeltaSize: diff, LevelAction: ActionUpdate, EntryAction: ActionUpdate}, nil
}

func (ob *OrderBook) deleteEntryLocked(id string, price decimal.Decimal, side Side, t time.Time) (BasicDelta, error) {
	pl := ob.levelAtLocked(price, side)
	var e *Entry
	if pl != nil {
		e = pl.FindEntry(id)
	}
	if e == nil {
		if idx := ob.findEntryLocked(id); idx != nil && idx.owner != nil {
			e = idx
			pl = idx.owner
		}
	}
	if e == nil || pl == nil {
		return BasicDelta{}, ErrMissingEntry
	}

	removed := e.Size
	if err := pl.removeEntry(e); err != nil {
		return BasicDelta{}, err
	}
	if ob.useEntryManager {
		ob.entryMgr.Remove(id)
	}
	pl.Time = t

	levelAction := ActionUpdate
	if pl.empty() {
		ob.removeLevelLocked(pl)
		levelAction = ActionDelete
	}
	pl.Action = levelAction
	return BasicDelta{Entry: e, Level: pl, DeltaSize: removed.Neg(), LevelAction: levelAction, EntryAction: ActionDelete}, nil
}

func (ob *OrderBook) moveEntryLocked(id string, newPrice decimal.Decimal, newSide Side, t time.Time) ([]BasicDelta, error) {
	e := ob.findEntryLocked(id)
	if e == nil || e.owner == nil {
		return nil, ErrMissingEntry
	}
	size := e.Size
	participant := e.ParticipantID
	from := e.owner

	del, err := ob.deleteEntryLocked(id, from.Price, from.Side, t)
	if err != nil {
		return nil, err
	}
	add, err := ob.addEntryLocked(id, participant, size, newPrice, newSide, Limit, t)
	if err != nil {
		return []BasicDelta{del}, err
	}
	return []BasicDelta{del, add}, nil
}

func (ob *OrderBook) setLevelLocked(price, size decimal.Decimal, side Side, ot OrderType, action Action, t time.Time) (BasicDelta, error) {
	if action == ActionDelete {
		pl := ob.levelAtLocked(price, side)
		if ot == Market {
			pl = ob.marketLevel(side)
		}
		if pl == nil {
			return BasicDelta{}, ErrLevelNotFound
		}
		removed := pl.Size
		ob.removeLevelLocked(pl)
		pl.Size = decimal.Zero
		pl.NumEntries = 0
		pl.Action = ActionDelete
		pl.Time = t
		return BasicDelta{Level: pl, DeltaSize: removed.Neg(), LevelAction: ActionDelete}, nil
	}

	pl, created := ob.getOrCreateLevelLocked(price, side, ot, t)
	diff := size.Sub(pl.Size)
	pl.Size = size
	pl.Time = t
	levelAction := ActionUpdate
	if created {
		levelAction = ActionAdd
	}
	pl.Action = levelAction
	return BasicDelta{Level: pl, DeltaSize: diff, LevelAction: levelAction}, nil
}

func (ob *OrderBook) clearLocked() {
	ob.bids.Clear()
	ob.asks.Clear()
	ob.marketBid = nil
	ob.marketAsk = nil
	ob.entryMgr.Clear()
}

func (ob *OrderBook) reindexLocked() {
	ob.entryMgr.Clear()
	for _, side := range []Side{Bid, Ask} {
		ob.EachLevel(side, func(pl *PriceLevel) bool {
			pl.EachEntry(func(e *Entry) bool {
				// Ids are unique when the manager is enabled, Add cannot fail
				_ = ob.entryMgr.Add(e)
				return true
			})
			return true
		})
	}
}
