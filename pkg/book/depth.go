package book

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepthLevel is one aggregated level in a depth view
type DepthLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Count int             `json:"count"`
}

// BookDepth is a serializable top-N view of both sides of a book
type BookDepth struct {
	Symbol    string       `json:"symbol"`
	Timestamp time.Time    `json:"timestamp"`
	Sequence  uint64       `json:"sequence,omitempty"`
	Bids      []DepthLevel `json:"bids"`
	Asks      []DepthLevel `json:"asks"`
}

// Depth returns the top maxLevels levels per side in book order.
// maxLevels <= 0 means all levels.
func (ob *OrderBook) Depth(maxLevels int) *BookDepth {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	d := &BookDepth{Symbol: ob.Symbol, Timestamp: ob.BookTime}
	capHint := maxLevels
	if capHint < 0 {
		capHint = 0
	}
	collect := func(side Side) []DepthLevel {
		out := make([]DepthLevel, 0, capHint)
		ob.EachLevel(side, func(pl *PriceLevel) bool {
			out = append(out, DepthLevel{Price: pl.Price, Size: pl.Size, Count: pl.EntryCount()})
			return maxLevels <= 0 || len(out) < maxLevels
		})
		return out
	}
	d.Bids = collect(Bid)
	d.Asks = collect(Ask)
	return d
}

// Equal reports whether two depth views describe the same ladder
func (d *BookDepth) Equal(other *BookDepth) bool {
	if other == nil || len(d.Bids) != len(other.Bids) || len(d.Asks) != len(other.Asks) {
		return false
	}
	same := func(a, b []DepthLevel) bool {
		for i := range a {
			if a[i].Price.Cmp(b[i].Price) != 0 || a[i].Size.Cmp(b[i].Size) != 0 || a[i].Count != b[i].Count {
				return false
			}
		}
		return true
	}
	return same(d.Bids, other.Bids) && same(d.Asks, other.Asks)
}
