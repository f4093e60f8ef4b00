// Package book implements incremental maintenance of a two-sided,
// multi-entry market depth structure under out-of-order network delivery.
package book

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the side of the book a level belongs to
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// OrderType distinguishes priced limit levels from market-order levels.
// Market levels carry no price and sort ahead of limit levels on their side.
type OrderType int

const (
	Limit OrderType = iota
	Market
)

// Action represents what happened to a level or entry on the last update
type Action int

const (
	ActionUnknown Action = iota
	ActionAdd
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// EntryStatus represents the publishing state of an entry
type EntryStatus int

const (
	EntryNormal EntryStatus = iota
	EntryClosed
)

// SideFlags is a bitmask of the sides touched by a delta
type SideFlags uint8

const (
	SideFlagNone SideFlags = 0
	SideFlagBid  SideFlags = 1 << 0
	SideFlagAsk  SideFlags = 1 << 1
	SideFlagBoth SideFlags = SideFlagBid | SideFlagAsk
)

// Errors
var (
	ErrMissingEntry   = fmt.Errorf("entry not found")
	ErrDuplicateEntry = fmt.Errorf("entry already exists")
	ErrLevelNotFound  = fmt.Errorf("price level not found")
	ErrInvalidSide    = fmt.Errorf("invalid side")
	ErrInvalidAction  = fmt.Errorf("invalid action")
	ErrInvalidSize    = fmt.Errorf("invalid size")
	ErrNilUpdate      = fmt.Errorf("nil update")
)

// EntryUpdate is one decoded sub-change from a wire event. A single wire
// message may bundle many of these as parallel vector fields; they are
// applied in index order.
type EntryUpdate struct {
	EntryID       string          `json:"entryId,omitempty"`
	ParticipantID string          `json:"participantId,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
	Side          Side            `json:"side"`
	LevelAction   Action          `json:"levelAction"`
	EntryAction   Action          `json:"entryAction"`
	OrderType     OrderType       `json:"orderType,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// BookUpdate is one decoded wire event against a single book
type BookUpdate struct {
	Symbol    string        `json:"symbol"`
	SeqNum    uint64        `json:"seqNum"`
	IsRecap   bool          `json:"isRecap"`
	Timestamp time.Time     `json:"timestamp"`
	Updates   []EntryUpdate `json:"updates"`
}
