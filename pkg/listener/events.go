// Package listener orchestrates book maintenance: it receives decoded update
// events, drives the delta engine, manages the recap/gap/clear state machine
// and invokes registered handlers.
package listener

import (
	"time"

	"github.com/luxfi/mdbook/pkg/book"
)

// MsgType classifies an inbound event
type MsgType int

const (
	MsgDelta MsgType = iota
	MsgRecap
	MsgClear
)

func (m MsgType) String() string {
	switch m {
	case MsgRecap:
		return "recap"
	case MsgClear:
		return "clear"
	default:
		return "delta"
	}
}

// State is the listener's position in the recap/gap lifecycle
type State int

const (
	// StateUninitialized: book created, no image received yet
	StateUninitialized State = iota
	// StateAwaitingRecap: recap requested, pre-recap deltas are dropped
	// since the book has no valid state to apply them against
	StateAwaitingRecap
	// StateConsistent: recap received, deltas apply directly
	StateConsistent
	// StateGapDetected: a sequence discontinuity was observed; application
	// halts until a fresh recap unless UpdateInconsistentBook is set
	StateGapDetected
	// StateDestroyed: terminal; the book is released and handlers dropped
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingRecap:
		return "awaiting_recap"
	case StateConsistent:
		return "consistent"
	case StateGapDetected:
		return "gap_detected"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// GapEvent reports a detected sequence discontinuity
type GapEvent struct {
	Symbol      string
	BeginSeqNum uint64
	EndSeqNum   uint64
	Timestamp   time.Time
}

// ClearEvent reports an explicit book clear
type ClearEvent struct {
	Symbol    string
	SeqNum    uint64
	Timestamp time.Time
}

// Handler receives book lifecycle callbacks. The book reference is valid for
// the duration of the callback; take a Snapshot to keep it longer.
type Handler interface {
	OnBookRecap(b *book.OrderBook)
	OnBookDelta(delta book.BasicDelta, b *book.OrderBook)
	OnBookComplexDelta(delta *book.ComplexDelta, b *book.OrderBook)
	OnBookClear(ev ClearEvent, b *book.OrderBook)
	OnBookGap(ev GapEvent, b *book.OrderBook)
}
