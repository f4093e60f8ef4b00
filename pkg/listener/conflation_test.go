package listener

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/mdbook/pkg/book"
)

func TestConflaterMergesPerLevel(t *testing.T) {
	var (
		mu      sync.Mutex
		flushed []*book.ComplexDelta
	)
	c := NewConflater(time.Hour, func(cd *book.ComplexDelta) {
		mu.Lock()
		defer mu.Unlock()
		flushed = append(flushed, cd)
	})

	ob := book.NewOrderBook("BTC-USD")
	t0 := time.Now()
	d1, err := ob.AddEntry("E1", dec("100"), dec("50"), book.Bid, t0)
	require.NoError(t, err)
	d2, err := ob.UpdateEntry("E1", dec("130"), dec("50"), book.Bid, t0, true)
	require.NoError(t, err)
	d3, err := ob.AddEntry("A1", dec("10"), dec("51"), book.Ask, t0)
	require.NoError(t, err)

	for _, d := range []book.BasicDelta{d1, d2, d3} {
		cd := &book.ComplexDelta{}
		cd.Append(d)
		c.Admit(cd)
	}
	assert.Equal(t, 2, c.Pending())

	c.Flush()
	require.Len(t, flushed, 1)
	out := flushed[0]
	require.Equal(t, 2, out.Size())

	// Two updates to the bid level net into one delta: +100 then +30
	assert.True(t, out.Deltas[0].DeltaSize.Equal(dec("130")))
	assert.Equal(t, book.ActionAdd, out.Deltas[0].LevelAction)
	assert.True(t, out.Deltas[1].DeltaSize.Equal(dec("10")))
	assert.Equal(t, book.SideFlagBoth, out.Sides)

	// Nothing pending after a flush
	c.Flush()
	assert.Len(t, flushed, 1)
}

func TestConflaterDiscard(t *testing.T) {
	flushes := 0
	c := NewConflater(time.Hour, func(*book.ComplexDelta) { flushes++ })

	ob := book.NewOrderBook("BTC-USD")
	d, err := ob.AddEntry("E1", dec("1"), dec("50"), book.Bid, time.Now())
	require.NoError(t, err)
	cd := &book.ComplexDelta{}
	cd.Append(d)
	c.Admit(cd)

	c.Discard()
	c.Flush()
	assert.Equal(t, 0, flushes)
}

func TestConflaterIntervalFlush(t *testing.T) {
	done := make(chan *book.ComplexDelta, 1)
	c := NewConflater(20*time.Millisecond, func(cd *book.ComplexDelta) {
		select {
		case done <- cd:
		default:
		}
	})
	c.Start()
	defer c.Stop()

	ob := book.NewOrderBook("BTC-USD")
	d, err := ob.AddEntry("E1", dec("5"), dec("50"), book.Bid, time.Now())
	require.NoError(t, err)
	cd := &book.ComplexDelta{}
	cd.Append(d)
	c.Admit(cd)

	select {
	case out := <-done:
		require.Equal(t, 1, out.Size())
		assert.True(t, out.Deltas[0].DeltaSize.Equal(dec("5")))
	case <-time.After(2 * time.Second):
		t.Fatal("conflater never flushed")
	}
}

func TestConflaterDeltasAreDetached(t *testing.T) {
	var (
		mu      sync.Mutex
		flushed []*book.ComplexDelta
	)
	c := NewConflater(time.Hour, func(cd *book.ComplexDelta) {
		mu.Lock()
		defer mu.Unlock()
		flushed = append(flushed, cd)
	})

	ob := book.NewOrderBook("BTC-USD")
	t0 := time.Now()
	d, err := ob.AddEntry("E1", dec("100"), dec("50"), book.Bid, t0)
	require.NoError(t, err)
	cd := &book.ComplexDelta{}
	cd.Append(d)
	c.Admit(cd)

	// Buffered deltas must not alias live book state: mutations after
	// admission stay invisible to the eventual flush.
	_, err = ob.UpdateEntry("E1", dec("7"), dec("50"), book.Bid, t0, true)
	require.NoError(t, err)

	c.Flush()
	require.Len(t, flushed, 1)
	out := flushed[0].Deltas[0]
	assert.NotSame(t, ob.GetLevelAtPrice(dec("50"), book.Bid), out.Level)
	assert.True(t, out.Level.Size.Equal(dec("100")))
	assert.True(t, out.Entry.Size.Equal(dec("100")))
}

func TestConflaterTimerFlushRacesWriter(t *testing.T) {
	c := NewConflater(time.Millisecond, func(cd *book.ComplexDelta) {
		for i := range cd.Deltas {
			_ = cd.Deltas[i].Level.Size.String()
		}
	})
	c.Start()

	ob := book.NewOrderBook("BTC-USD")
	t0 := time.Now()
	for i := 0; i < 500; i++ {
		d, err := ob.UpdateEntry("E1", dec("100").Add(decimal.NewFromInt(int64(i))), dec("50"), book.Bid, t0, false)
		require.NoError(t, err)
		cd := &book.ComplexDelta{}
		cd.Append(d)
		c.Admit(cd)
	}
	c.Stop()
}

func TestListenerConflatedDispatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConflateDeltas = true
	cfg.ConflationInterval = time.Hour // flush manually
	l := New("BTC-USD", cfg, testLogger())
	h := &recordingHandler{}
	l.AddHandler(h)

	l.OnMsg(recap(1), MsgRecap)
	l.OnMsg(delta(2, "B1", "50", "90"), MsgDelta)
	l.OnMsg(delta(3, "B1", "50", "80"), MsgDelta)
	assert.Empty(t, h.deltas)
	assert.Empty(t, h.complex)

	l.ForceInvokeDeltaHandlers()
	require.Len(t, h.deltas, 1)
	// Net change against the recap image: 100 -> 80
	assert.True(t, h.deltas[0].DeltaSize.Equal(dec("-20")))
}
