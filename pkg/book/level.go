package book

import (
	"container/list"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel aggregates all interest at one price on one side of the book.
// Entries are kept in arrival order in a FIFO queue with an id index for
// O(1) removal. When entries are tracked, Size always equals the sum of the
// live entries' sizes; for level-only feeds Size is published directly.
// NOTE: not safe for concurrent use; the owning OrderBook's lock guards it.
type PriceLevel struct {
	Price      decimal.Decimal
	Side       Side
	OrderType  OrderType
	Size       decimal.Decimal
	NumEntries int
	Action     Action // action on last update
	Time       time.Time

	entries *list.List               // *Entry in arrival order
	byID    map[string]*list.Element // entry id -> queue element
}

// newPriceLevel creates an empty level for (price, side)
func newPriceLevel(price decimal.Decimal, side Side, ot OrderType) *PriceLevel {
	return &PriceLevel{
		Price:     price,
		Side:      side,
		OrderType: ot,
		Size:      decimal.Zero,
		entries:   list.New(),
		byID:      make(map[string]*list.Element),
	}
}

// EntryCount returns the number of live entries in the queue. For level-only
// feeds this is zero even when Size is positive.
func (pl *PriceLevel) EntryCount() int {
	return pl.entries.Len()
}

// FindEntry returns the entry with the given id, or nil
func (pl *PriceLevel) FindEntry(id string) *Entry {
	if elem, ok := pl.byID[id]; ok {
		return elem.Value.(*Entry)
	}
	return nil
}

// EachEntry visits entries in arrival order until fn returns false
func (pl *PriceLevel) EachEntry(fn func(*Entry) bool) {
	for elem := pl.entries.Front(); elem != nil; elem = elem.Next() {
		if !fn(elem.Value.(*Entry)) {
			return
		}
	}
}

// Entries returns the entries in arrival order
func (pl *PriceLevel) Entries() []*Entry {
	out := make([]*Entry, 0, pl.entries.Len())
	for elem := pl.entries.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(*Entry))
	}
	return out
}

// addEntry appends an entry to the queue and grows the aggregate size.
// Returns ErrDuplicateEntry if the id is already present at this level.
func (pl *PriceLevel) addEntry(e *Entry) error {
	if _, ok := pl.byID[e.ID]; ok {
		return ErrDuplicateEntry
	}
	e.owner = pl
	pl.byID[e.ID] = pl.entries.PushBack(e)
	pl.Size = pl.Size.Add(e.Size)
	pl.NumEntries++
	return nil
}

// updateEntry replaces an entry's size, adjusting the aggregate.
// Returns the size delta applied to the level.
func (pl *PriceLevel) updateEntry(e *Entry, size decimal.Decimal, t time.Time) decimal.Decimal {
	diff := size.Sub(e.Size)
	e.Size = size
	e.Time = t
	e.Action = ActionUpdate
	pl.Size = pl.Size.Add(diff)
	return diff
}

// removeEntry detaches an entry from the queue and shrinks the aggregate
func (pl *PriceLevel) removeEntry(e *Entry) error {
	elem, ok := pl.byID[e.ID]
	if !ok {
		return ErrMissingEntry
	}
	pl.entries.Remove(elem)
	delete(pl.byID, e.ID)
	pl.Size = pl.Size.Sub(e.Size)
	pl.NumEntries--
	e.owner = nil
	e.Action = ActionDelete
	return nil
}

// empty reports whether the level holds no interest and can leave the book
func (pl *PriceLevel) empty() bool {
	return pl.entries.Len() == 0 && pl.Size.IsZero()
}

// copyLevel returns a detached deep copy for snapshots
func (pl *PriceLevel) copyLevel() *PriceLevel {
	c := newPriceLevel(pl.Price, pl.Side, pl.OrderType)
	c.Size = pl.Size
	c.NumEntries = pl.NumEntries
	c.Action = pl.Action
	c.Time = pl.Time
	for elem := pl.entries.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*Entry).copyEntry()
		e.owner = c
		c.byID[e.ID] = c.entries.PushBack(e)
	}
	return c
}
