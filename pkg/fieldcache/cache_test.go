package fieldcache

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplySingleField(t *testing.T) {
	c := NewCache(nil)

	c.Apply(FieldUpdate{FID: 11, Type: TypeString, Value: "MYSYMBOL"})

	assert.Equal(t, 1, c.Size())
	f := c.Find(11)
	require.NotNil(t, f)
	assert.Equal(t, "MYSYMBOL", f.Value())
	assert.True(t, f.Modified())

	// Delta extraction yields exactly that field, then consumes the dirty set
	delta := NewMapMessage()
	require.NoError(t, c.GetDeltaMessage(delta))
	assert.Equal(t, 1, delta.Len())
	got, ok := delta.Get(11)
	require.True(t, ok)
	assert.Equal(t, "MYSYMBOL", got.Value)

	empty := NewMapMessage()
	require.NoError(t, c.GetDeltaMessage(empty))
	assert.Equal(t, 0, empty.Len())
	assert.False(t, f.Modified())
}

func TestFindOrAdd(t *testing.T) {
	c := NewCache(nil)

	f, existed := c.FindOrAdd(7, TypeInt64, "BidSize")
	assert.False(t, existed)
	assert.Equal(t, 7, f.FID())
	assert.Equal(t, "BidSize", f.Name())

	again, existed := c.FindOrAdd(7, TypeInt64, "BidSize")
	assert.True(t, existed)
	assert.Same(t, f, again)
}

func TestDeltaCompleteness(t *testing.T) {
	c := NewCache(nil)

	rec := Record{
		{FID: 1, Type: TypeString, Value: "BTC-USD"},
		{FID: 2, Type: TypeDecimal, Value: decimal.RequireFromString("50.25")},
		{FID: 3, Type: TypeUint64, Value: uint64(42)},
	}
	c.ApplyRecord(rec)

	delta := NewMapMessage()
	require.NoError(t, c.GetDeltaMessage(delta))
	assert.Equal(t, len(rec), delta.Len())
	for _, u := range rec {
		_, ok := delta.Get(u.FID)
		assert.True(t, ok, "fid %d missing from delta", u.FID)
	}
}

func TestUnchangedApplyStaysClean(t *testing.T) {
	c := NewCache(nil)

	c.Apply(FieldUpdate{FID: 5, Type: TypeFloat64, Value: 1.5})
	c.ClearModified()

	c.Apply(FieldUpdate{FID: 5, Type: TypeFloat64, Value: 1.5})
	delta := NewMapMessage()
	require.NoError(t, c.GetDeltaMessage(delta))
	assert.Equal(t, 0, delta.Len())

	c.Apply(FieldUpdate{FID: 5, Type: TypeFloat64, Value: 2.5})
	delta = NewMapMessage()
	require.NoError(t, c.GetDeltaMessage(delta))
	assert.Equal(t, 1, delta.Len())
}

func TestCheckModifiedDisabled(t *testing.T) {
	schema := NewSchema(FieldDescriptor{
		FID: 9, Name: "TradeTick", Type: TypeUint64, Publish: true, CheckModified: false,
	})
	c := NewCache(schema)

	// Presence alone signals an event: every apply re-flags the field even
	// when the value did not change.
	c.Apply(FieldUpdate{FID: 9, Value: uint64(1)})
	c.ClearModified()
	c.Apply(FieldUpdate{FID: 9, Value: uint64(1)})

	delta := NewMapMessage()
	require.NoError(t, c.GetDeltaMessage(delta))
	assert.Equal(t, 1, delta.Len())
}

func TestUnpublishedFieldIsRetainedButNeverEmitted(t *testing.T) {
	schema := NewSchema(FieldDescriptor{
		FID: 20, Name: "Internal", Type: TypeString, Publish: false, CheckModified: true,
	})
	c := NewCache(schema)

	c.Apply(FieldUpdate{FID: 20, Value: "secret"})
	f := c.Find(20)
	require.NotNil(t, f)
	assert.Equal(t, "secret", f.Value())

	full := NewMapMessage()
	require.NoError(t, c.GetFullMessage(full))
	assert.Equal(t, 0, full.Len())

	delta := NewMapMessage()
	require.NoError(t, c.GetDeltaMessage(delta))
	assert.Equal(t, 0, delta.Len())
}

func TestFullMessageRoundTrip(t *testing.T) {
	first := NewCache(nil)
	first.ApplyRecord(Record{
		{FID: 1, Name: "Symbol", Type: TypeString, Value: "ETH-USD"},
		{FID: 2, Name: "Price", Type: TypeDecimal, Value: decimal.RequireFromString("3000.5")},
		{FID: 3, Name: "Sizes", Type: TypeFloat64Vector, Value: []float64{1, 2, 3}},
		{FID: 4, Name: "Open", Type: TypeBool, Value: true},
	})

	full := NewMapMessage()
	require.NoError(t, first.GetFullMessage(full))

	second := NewCache(nil)
	require.NoError(t, second.ApplyMessage(full))

	assert.Equal(t, first.Size(), second.Size())
	full.EachField(func(u FieldUpdate) bool {
		a := first.Find(u.FID)
		b := second.Find(u.FID)
		require.NotNil(t, b)
		assert.Equal(t, a.Type(), b.Type())
		assert.True(t, equalValue(a.Type(), a.Value(), b.Value()))
		return true
	})
}

func TestTrackModifiedDisabled(t *testing.T) {
	c := NewCache(nil)
	c.SetTrackModified(false)

	c.Apply(FieldUpdate{FID: 1, Type: TypeString, Value: "x"})
	c.Apply(FieldUpdate{FID: 2, Type: TypeString, Value: "y"})

	// Delta behaves as full when tracking is off, on every call
	for i := 0; i < 2; i++ {
		delta := NewMapMessage()
		require.NoError(t, c.GetDeltaMessage(delta))
		assert.Equal(t, 2, delta.Len())
	}
}

func TestSetModifiedForcesRepublish(t *testing.T) {
	c := NewCache(nil)
	c.Apply(FieldUpdate{FID: 1, Type: TypeString, Value: "x"})
	c.ClearModified()

	c.SetModified(c.Find(1))
	delta := NewMapMessage()
	require.NoError(t, c.GetDeltaMessage(delta))
	assert.Equal(t, 1, delta.Len())
}

func TestFindByName(t *testing.T) {
	c := NewCache(nil)
	c.SetUseFieldNames(true)
	c.Apply(FieldUpdate{FID: 1, Name: "Symbol", Type: TypeString, Value: "x"})

	f := c.FindByName("Symbol")
	require.NotNil(t, f)
	assert.Equal(t, 1, f.FID())
	assert.Nil(t, c.FindByName("nope"))
}

func TestLockedConcurrentAccess(t *testing.T) {
	c := NewCache(nil)
	c.SetUseLock(true)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Apply(FieldUpdate{FID: g, Type: TypeInt64, Value: int64(i)})
				msg := NewMapMessage()
				_ = c.GetDeltaMessage(msg)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 4, c.Size())
}
