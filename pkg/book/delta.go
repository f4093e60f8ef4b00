package book

import "github.com/shopspring/decimal"

// BasicDelta is an immutable record of the finest unit of change: one level,
// at most one entry, and the size change applied to the level.
type BasicDelta struct {
	Entry       *Entry // nil for level-only changes
	Level       *PriceLevel
	DeltaSize   decimal.Decimal // net size change applied to the level
	LevelAction Action
	EntryAction Action
}

// Side returns the side the delta touched
func (d *BasicDelta) Side() Side {
	if d.Level == nil {
		return Bid
	}
	return d.Level.Side
}

// Detach replaces the delta's level and entry pointers with copies so the
// delta stays readable after the book lock is released. The level copy keeps
// aggregate state only, not the entry queue. Call while the lock is held.
func (d BasicDelta) Detach() BasicDelta {
	if d.Level != nil {
		lvl := newPriceLevel(d.Level.Price, d.Level.Side, d.Level.OrderType)
		lvl.Size = d.Level.Size
		lvl.NumEntries = d.Level.NumEntries
		lvl.Action = d.Level.Action
		lvl.Time = d.Level.Time
		if d.Entry != nil {
			e := d.Entry.copyEntry()
			e.owner = lvl
			d.Entry = e
		}
		d.Level = lvl
		return d
	}
	if d.Entry != nil {
		d.Entry = d.Entry.copyEntry()
	}
	return d
}

// ComplexDelta is the ordered sequence of basic deltas produced by a single
// inbound event, with a bitmask of the sides touched so consumers can skip
// unaffected sides.
type ComplexDelta struct {
	Deltas []BasicDelta
	Sides  SideFlags
}

// Append records one more basic delta and folds its side into the mask
func (cd *ComplexDelta) Append(d BasicDelta) {
	cd.Deltas = append(cd.Deltas, d)
	if d.Side() == Bid {
		cd.Sides |= SideFlagBid
	} else {
		cd.Sides |= SideFlagAsk
	}
}

// Size returns the number of basic deltas in the bundle
func (cd *ComplexDelta) Size() int {
	return len(cd.Deltas)
}

// Empty reports whether the event produced no observable change
func (cd *ComplexDelta) Empty() bool {
	return len(cd.Deltas) == 0
}

// FixLevelActions normalizes the reported level action across all deltas
// belonging to the same level, so a level implicitly created by the first
// entry of a payload and touched again later in the same payload reports
// "add" throughout rather than "add" then "update". Deletes are left alone:
// a level created and removed within one payload keeps both records.
func (cd *ComplexDelta) FixLevelActions() {
	added := make(map[*PriceLevel]bool, len(cd.Deltas))
	for i := range cd.Deltas {
		if cd.Deltas[i].LevelAction == ActionAdd {
			added[cd.Deltas[i].Level] = true
		}
	}
	for i := range cd.Deltas {
		d := &cd.Deltas[i]
		if added[d.Level] && d.LevelAction == ActionUpdate {
			d.LevelAction = ActionAdd
		}
	}
}
