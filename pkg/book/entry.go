package book

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry represents one contributor's interest at a price level. An entry is
// owned by exactly one PriceLevel at a time; a price change re-homes the
// entry to the new level, it is never duplicated.
type Entry struct {
	ID            string
	ParticipantID string
	Size          decimal.Decimal
	Status        EntryStatus
	Action        Action // action on last update
	Time          time.Time

	owner *PriceLevel
}

// Level returns the price level that currently owns the entry, or nil if the
// entry has been removed from the book.
func (e *Entry) Level() *PriceLevel {
	return e.owner
}

// Side returns the side of the owning level
func (e *Entry) Side() Side {
	if e.owner == nil {
		return Bid
	}
	return e.owner.Side
}

// Price returns the price of the owning level
func (e *Entry) Price() decimal.Decimal {
	if e.owner == nil {
		return decimal.Zero
	}
	return e.owner.Price
}

// copyEntry returns a detached deep copy for snapshots
func (e *Entry) copyEntry() *Entry {
	c := *e
	c.owner = nil
	return &c
}
