package book

import (
	"github.com/luxfi/log"
)

// EngineConfig carries the delta engine's feed policies
type EngineConfig struct {
	// ProcessEntries selects entry-level detail; when false every update is
	// applied as a level-only size change.
	ProcessEntries bool

	// MustExist makes updates and deletes of unknown entry ids fail rather
	// than degrade to adds / no-ops.
	MustExist bool

	// FixLevelActions normalizes level actions across one payload, see
	// ComplexDelta.FixLevelActions.
	FixLevelActions bool
}

// DefaultEngineConfig returns the policies most feeds want
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{ProcessEntries: true, FixLevelActions: true}
}

// DeltaEngine translates one decoded wire event, possibly bundling many
// (price, level, entry) sub-changes, into a complex delta against a single
// book. Sub-changes are replayed in payload order. A sub-change that fails
// (missing or duplicate entry) does not abort the payload: the engine applies
// what it can and flags the book as needing a recap, because market-data
// feeds prioritize forward progress over strict consistency.
type DeltaEngine struct {
	book   *OrderBook
	cfg    EngineConfig
	logger log.Logger
}

// ApplyResult reports what one event did to the book
type ApplyResult struct {
	Delta     *ComplexDelta
	Errors    []error // per-sub-change failures, payload order
	NeedRecap bool
}

// NewDeltaEngine creates an engine bound to one book
func NewDeltaEngine(b *OrderBook, cfg EngineConfig, logger log.Logger) *DeltaEngine {
	return &DeltaEngine{book: b, cfg: cfg, logger: logger}
}

// Book returns the book the engine mutates
func (de *DeltaEngine) Book() *OrderBook {
	return de.book
}

// Apply replays one event's sub-changes against the book under a single
// write-lock acquisition and returns the aggregated complex delta.
func (de *DeltaEngine) Apply(u *BookUpdate) (*ApplyResult, error) {
	if u == nil {
		return nil, ErrNilUpdate
	}

	de.book.mu.Lock()
	defer de.book.mu.Unlock()

	res := &ApplyResult{Delta: &ComplexDelta{}}
	for i := range u.Updates {
		if err := de.applyOneLocked(&u.Updates[i], res.Delta); err != nil {
			res.Errors = append(res.Errors, err)
			res.NeedRecap = true
			de.logger.Warn("Sub-change failed, continuing payload",
				"symbol", u.Symbol, "seq", u.SeqNum, "index", i,
				"entry", u.Updates[i].EntryID, "error", err)
		}
	}
	if de.cfg.FixLevelActions {
		res.Delta.FixLevelActions()
	}
	if !u.Timestamp.IsZero() {
		de.book.BookTime = u.Timestamp
	}
	return res, nil
}

// ApplyRecap rebuilds the book from a full image: clear, then replay. Failed
// sub-changes are logged and skipped; a recap is authoritative, there is
// nothing fresher to fall back to.
func (de *DeltaEngine) ApplyRecap(u *BookUpdate) error {
	if u == nil {
		return ErrNilUpdate
	}

	de.book.mu.Lock()
	defer de.book.mu.Unlock()

	de.book.clearLocked()
	cd := &ComplexDelta{}
	for i := range u.Updates {
		if err := de.applyOneLocked(&u.Updates[i], cd); err != nil {
			de.logger.Warn("Recap sub-change failed",
				"symbol", u.Symbol, "seq", u.SeqNum, "index", i, "error", err)
		}
	}
	if !u.Timestamp.IsZero() {
		de.book.BookTime = u.Timestamp
	}
	return nil
}

func (de *DeltaEngine) applyOneLocked(u *EntryUpdate, cd *ComplexDelta) error {
	ob := de.book

	if u.Side != Bid && u.Side != Ask {
		return ErrInvalidSide
	}
	if u.Size.IsNegative() {
		return ErrInvalidSize
	}

	if !de.cfg.ProcessEntries || u.EntryID == "" {
		action := u.LevelAction
		if action == ActionUnknown {
			action = ActionUpdate
		}
		d, err := ob.setLevelLocked(u.Price, u.Size, u.Side, u.OrderType, action, u.Timestamp)
		if err != nil {
			return err
		}
		cd.Append(d)
		return nil
	}

	switch u.EntryAction {
	case ActionAdd:
		d, err := ob.addEntryLocked(u.EntryID, u.ParticipantID, u.Size, u.Price, u.Side, u.OrderType, u.Timestamp)
		if err != nil {
			return err
		}
		cd.Append(d)
		return nil

	case ActionUpdate, ActionUnknown:
		// A price or side change re-homes the entry: one wire update fans
		// out into delete-from-old plus add-to-new.
		if pl := ob.levelAtLocked(u.Price, u.Side); pl == nil || pl.FindEntry(u.EntryID) == nil {
			if e := ob.findEntryLocked(u.EntryID); e != nil && e.owner != nil {
				moves, err := ob.moveEntryLocked(u.EntryID, u.Price, u.Side, u.Timestamp)
				for _, d := range moves {
					cd.Append(d)
				}
				if err != nil {
					return err
				}
				if !e.Size.Equal(u.Size) {
					d, err := ob.updateEntryLocked(u.EntryID, u.Size, u.Price, u.Side, u.Timestamp, true)
					if err != nil {
						return err
					}
					cd.Append(d)
				}
				return nil
			}
		}
		d, err := ob.updateEntryLocked(u.EntryID, u.Size, u.Price, u.Side, u.Timestamp, de.cfg.MustExist)
		if err != nil {
			return err
		}
		cd.Append(d)
		return nil

	case ActionDelete:
		d, err := ob.deleteEntryLocked(u.EntryID, u.Price, u.Side, u.Timestamp)
		if err != nil {
			return err
		}
		cd.Append(d)
		return nil
	}
	return ErrInvalidAction
}
