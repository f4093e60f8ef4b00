package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAddEntryCreatesLevel(t *testing.T) {
	ob := NewOrderBook("BTC-USD")
	t0 := time.Now()

	d, err := ob.AddEntry("E1", dec("100"), dec("50.25"), Bid, t0)
	require.NoError(t, err)

	assert.Equal(t, ActionAdd, d.LevelAction)
	assert.Equal(t, ActionAdd, d.EntryAction)
	assert.True(t, d.DeltaSize.Equal(dec("100")))

	require.Equal(t, 1, ob.LevelCount(Bid))
	pl := ob.GetLevelAtPrice(dec("50.25"), Bid)
	require.NotNil(t, pl)
	assert.True(t, pl.Size.Equal(dec("100")))
	assert.Equal(t, 1, pl.EntryCount())
	require.NotNil(t, pl.FindEntry("E1"))
}

func TestTwoEntriesOneLevel(t *testing.T) {
	ob := NewOrderBook("BTC-USD")
	t0 := time.Now()

	d1, err := ob.AddEntry("E1", dec("100"), dec("50.25"), Bid, t0)
	require.NoError(t, err)
	d2, err := ob.AddEntry("E2", dec("50"), dec("50.25"), Bid, t0)
	require.NoError(t, err)

	assert.Equal(t, ActionAdd, d1.LevelAction)
	assert.Equal(t, ActionUpdate, d2.LevelAction)

	require.Equal(t, 1, ob.LevelCount(Bid))
	pl := ob.GetLevelAtPrice(dec("50.25"), Bid)
	require.NotNil(t, pl)
	assert.True(t, pl.Size.Equal(dec("150")))
	assert.Equal(t, 2, pl.EntryCount())
}

func TestSortOrderInvariant(t *testing.T) {
	ob := NewOrderBook("ETH-USD")
	t0 := time.Now()

	prices := []string{"3001", "2999", "3000.5", "3000", "3002"}
	for i, p := range prices {
		_, err := ob.AddEntry("B"+p, dec("1"), dec(p), Bid, t0)
		require.NoError(t, err)
		_, err = ob.AddEntry("A"+p, dec("1"), dec(p), Ask, t0)
		require.NoError(t, err)
		_ = i
	}

	bids := ob.Levels(Bid)
	for i := 1; i < len(bids); i++ {
		assert.True(t, bids[i-1].Price.GreaterThan(bids[i].Price),
			"bids must be strictly descending")
	}
	asks := ob.Levels(Ask)
	for i := 1; i < len(asks); i++ {
		assert.True(t, asks[i-1].Price.LessThan(asks[i].Price),
			"asks must be strictly ascending")
	}

	assert.True(t, ob.BestBid().Price.Equal(dec("3002")))
	assert.True(t, ob.BestAsk().Price.Equal(dec("2999")))
}

func TestAggregateSizeInvariant(t *testing.T) {
	ob := NewOrderBook("SOL-USD")
	t0 := time.Now()

	_, err := ob.AddEntry("E1", dec("10"), dec("100"), Ask, t0)
	require.NoError(t, err)
	_, err = ob.AddEntry("E2", dec("20"), dec("100"), Ask, t0)
	require.NoError(t, err)
	_, err = ob.UpdateEntry("E1", dec("15"), dec("100"), Ask, t0, true)
	require.NoError(t, err)

	pl := ob.GetLevelAtPrice(dec("100"), Ask)
	require.NotNil(t, pl)

	sum := decimal.Zero
	pl.EachEntry(func(e *Entry) bool {
		sum = sum.Add(e.Size)
		return true
	})
	assert.True(t, pl.Size.Equal(sum))
}

func TestDeleteEntryRemovesEmptyLevel(t *testing.T) {
	ob := NewOrderBook("BTC-USD")
	t0 := time.Now()

	_, err := ob.AddEntry("E1", dec("100"), dec("50.25"), Bid, t0)
	require.NoError(t, err)

	d, err := ob.DeleteEntry("E1", dec("50.25"), Bid, t0)
	require.NoError(t, err)
	assert.Equal(t, ActionDelete, d.LevelAction)
	assert.Equal(t, ActionDelete, d.EntryAction)
	assert.True(t, d.DeltaSize.Equal(dec("-100")))

	assert.Equal(t, 0, ob.LevelCount(Bid))
	assert.Nil(t, ob.GetLevelAtPrice(dec("50.25"), Bid))
}

func TestDeleteUnknownEntry(t *testing.T) {
	ob := NewOrderBook("BTC-USD")
	_, err := ob.DeleteEntry("nope", dec("1"), Bid, time.Now())
	assert.ErrorIs(t, err, ErrMissingEntry)
}

func TestUpdateUnknownEntryMustExist(t *testing.T) {
	ob := NewOrderBook("BTC-USD")
	_, err := ob.UpdateEntry("nope", dec("5"), dec("1"), Bid, time.Now(), true)
	assert.ErrorIs(t, err, ErrMissingEntry)

	// Without mustExist the update degrades to an add
	d, err := ob.UpdateEntry("nope", dec("5"), dec("1"), Bid, time.Now(), false)
	require.NoError(t, err)
	assert.Equal(t, ActionAdd, d.EntryAction)
}

func TestDuplicateEntryAcrossLevels(t *testing.T) {
	ob := NewOrderBook("BTC-USD")
	ob.SetEntryIDsUnique(true)
	ob.SetUseEntryManager(true)
	t0 := time.Now()

	_, err := ob.AddEntry("E1", dec("10"), dec("50"), Bid, t0)
	require.NoError(t, err)
	_, err = ob.AddEntry("E1", dec("10"), dec("51"), Bid, t0)
	assert.ErrorIs(t, err, ErrDuplicateEntry)
}

func TestMoveEntry(t *testing.T) {
	ob := NewOrderBook("BTC-USD")
	ob.SetUseEntryManager(true)
	t0 := time.Now()

	_, err := ob.AddEntry("E1", dec("100"), dec("50.25"), Bid, t0)
	require.NoError(t, err)
	_, err = ob.AddEntry("E2", dec("50"), dec("50.25"), Bid, t0)
	require.NoError(t, err)

	deltas, err := ob.MoveEntry("E1", dec("51.00"), Bid, t0)
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	assert.Equal(t, ActionDelete, deltas[0].EntryAction)
	assert.Equal(t, ActionAdd, deltas[1].EntryAction)

	old := ob.GetLevelAtPrice(dec("50.25"), Bid)
	require.NotNil(t, old)
	assert.True(t, old.Size.Equal(dec("50")))
	assert.Equal(t, 1, old.EntryCount())

	moved := ob.GetLevelAtPrice(dec("51.00"), Bid)
	require.NotNil(t, moved)
	assert.True(t, moved.Size.Equal(dec("100")))
	require.NotNil(t, moved.FindEntry("E1"))
}

func TestEntryManagerIndexMatchesBook(t *testing.T) {
	ob := NewOrderBook("BTC-USD")
	ob.SetUseEntryManager(true)
	t0 := time.Now()

	ids := []string{"A", "B", "C", "D"}
	for i, id := range ids {
		_, err := ob.AddEntry(id, dec("1"), dec("10").Add(decimal.NewFromInt(int64(i))), Ask, t0)
		require.NoError(t, err)
	}
	assert.Equal(t, ob.TotalEntries(), ob.entryMgr.Size())

	_, err := ob.DeleteEntry("B", dec("11"), Ask, t0)
	require.NoError(t, err)
	assert.Equal(t, ob.TotalEntries(), ob.entryMgr.Size())
	assert.Nil(t, ob.FindEntry("B"))
	assert.NotNil(t, ob.FindEntry("C"))

	// The index rejects a second level claiming an indexed id, and the
	// rejected add leaves no partial level behind
	_, err = ob.AddEntry("C", dec("1"), dec("99"), Ask, t0)
	assert.ErrorIs(t, err, ErrDuplicateEntry)
	assert.Nil(t, ob.GetLevelAtPrice(dec("99"), Ask))
	assert.Equal(t, ob.TotalEntries(), ob.entryMgr.Size())
}

func TestFindEntryWithoutManagerScans(t *testing.T) {
	ob := NewOrderBook("BTC-USD")
	t0 := time.Now()

	_, err := ob.AddEntry("E9", dec("3"), dec("42"), Ask, t0)
	require.NoError(t, err)

	e := ob.FindEntry("E9")
	require.NotNil(t, e)
	assert.True(t, e.Price().Equal(dec("42")))
}

func TestMarketLevelSortsFirst(t *testing.T) {
	ob := NewOrderBook("BTC-USD")
	eng := NewDeltaEngine(ob, DefaultEngineConfig(), testLogger())
	t0 := time.Now()

	_, err := eng.Apply(&BookUpdate{
		Symbol: "BTC-USD",
		Updates: []EntryUpdate{
			{EntryID: "L1", Price: dec("50"), Size: dec("1"), Side: Bid, EntryAction: ActionAdd, Timestamp: t0},
			{EntryID: "M1", Size: dec("2"), Side: Bid, OrderType: Market, EntryAction: ActionAdd, Timestamp: t0},
		},
	})
	require.NoError(t, err)

	bids := ob.Levels(Bid)
	require.Len(t, bids, 2)
	assert.Equal(t, Market, bids[0].OrderType)
	assert.Equal(t, Limit, bids[1].OrderType)
}

func TestLevelOnlyUpdates(t *testing.T) {
	ob := NewOrderBook("BTC-USD")
	t0 := time.Now()

	d, err := ob.SetLevel(dec("99"), dec("500"), Bid, ActionAdd, t0)
	require.NoError(t, err)
	assert.Equal(t, ActionAdd, d.LevelAction)

	d, err = ob.SetLevel(dec("99"), dec("750"), Bid, ActionUpdate, t0)
	require.NoError(t, err)
	assert.True(t, d.DeltaSize.Equal(dec("250")))

	d, err = ob.SetLevel(dec("99"), decimal.Zero, Bid, ActionDelete, t0)
	require.NoError(t, err)
	assert.Equal(t, ActionDelete, d.LevelAction)
	assert.Equal(t, 0, ob.LevelCount(Bid))

	_, err = ob.SetLevel(dec("99"), decimal.Zero, Bid, ActionDelete, t0)
	assert.ErrorIs(t, err, ErrLevelNotFound)
}

func TestClear(t *testing.T) {
	ob := NewOrderBook("BTC-USD")
	ob.SetUseEntryManager(true)
	t0 := time.Now()

	for _, p := range []string{"10", "11", "12"} {
		_, err := ob.AddEntry("E"+p, dec("1"), dec(p), Ask, t0)
		require.NoError(t, err)
	}
	ob.Clear()

	assert.Equal(t, 0, ob.LevelCount(Ask))
	assert.Equal(t, 0, ob.TotalEntries())
	assert.Equal(t, 0, ob.entryMgr.Size())
}

func TestSnapshotIsolation(t *testing.T) {
	ob := NewOrderBook("BTC-USD")
	t0 := time.Now()

	_, err := ob.AddEntry("E1", dec("100"), dec("50"), Bid, t0)
	require.NoError(t, err)

	snap := ob.Snapshot()

	_, err = ob.UpdateEntry("E1", dec("1"), dec("50"), Bid, t0, true)
	require.NoError(t, err)

	live := ob.GetLevelAtPrice(dec("50"), Bid)
	frozen := snap.GetLevelAtPrice(dec("50"), Bid)
	require.NotNil(t, frozen)
	assert.True(t, live.Size.Equal(dec("1")))
	assert.True(t, frozen.Size.Equal(dec("100")))
}

func TestDepthView(t *testing.T) {
	ob := NewOrderBook("BTC-USD")
	t0 := time.Now()

	for _, p := range []string{"10", "11", "12", "13"} {
		_, err := ob.AddEntry("A"+p, dec("2"), dec(p), Ask, t0)
		require.NoError(t, err)
	}

	d := ob.Depth(2)
	require.Len(t, d.Asks, 2)
	assert.True(t, d.Asks[0].Price.Equal(dec("10")))
	assert.True(t, d.Asks[1].Price.Equal(dec("11")))
	assert.True(t, d.Equal(ob.Depth(2)))
	assert.False(t, d.Equal(ob.Depth(3)))

	// Any non-positive count means all levels
	require.Len(t, ob.Depth(0).Asks, 4)
	require.Len(t, ob.Depth(-1).Asks, 4)
}
