package listener

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/mdbook/pkg/book"
)

// fakeSource serves a fixed depth image
type fakeSource struct {
	depth *book.BookDepth
	err   error
}

func (s *fakeSource) FetchDepth(_ context.Context, _ string, _ int) (*book.BookDepth, error) {
	return s.depth, s.err
}

func TestCheckerMatch(t *testing.T) {
	ob := book.NewOrderBook("BTC-USD")
	_, err := ob.AddEntry("E1", dec("100"), dec("50"), book.Bid, time.Now())
	require.NoError(t, err)

	src := &fakeSource{depth: ob.Depth(10)}
	c := NewChecker(ob, src, time.Minute, 10, nil, testLogger())

	res := c.CheckOnce(context.Background())
	assert.True(t, res.OK)
	assert.NoError(t, res.Err)

	ok, fail := c.Counts()
	assert.Equal(t, uint64(1), ok)
	assert.Equal(t, uint64(0), fail)
}

func TestCheckerDivergence(t *testing.T) {
	ob := book.NewOrderBook("BTC-USD")
	_, err := ob.AddEntry("E1", dec("100"), dec("50"), book.Bid, time.Now())
	require.NoError(t, err)
	src := &fakeSource{depth: ob.Depth(10)}

	// Induce a divergence after capturing the authoritative image
	_, err = ob.UpdateEntry("E1", dec("42"), dec("50"), book.Bid, time.Now(), true)
	require.NoError(t, err)

	c := NewChecker(ob, src, time.Minute, 10, nil, testLogger())
	res := c.CheckOnce(context.Background())
	assert.False(t, res.OK)

	ok, fail := c.Counts()
	assert.Equal(t, uint64(0), ok)
	assert.Equal(t, uint64(1), fail)
}

func TestCheckerFetchError(t *testing.T) {
	ob := book.NewOrderBook("BTC-USD")
	src := &fakeSource{err: fmt.Errorf("no responders")}

	c := NewChecker(ob, src, time.Minute, 10, nil, testLogger())
	res := c.CheckOnce(context.Background())
	assert.False(t, res.OK)
	assert.Error(t, res.Err)
}

func TestCheckerLoopReportsResults(t *testing.T) {
	ob := book.NewOrderBook("BTC-USD")
	src := &fakeSource{depth: ob.Depth(10)}

	results := make(chan CheckResult, 1)
	c := NewChecker(ob, src, 10*time.Millisecond, 10, func(r CheckResult) {
		select {
		case results <- r:
		default:
		}
	}, testLogger())

	c.Start()
	defer c.Stop()

	select {
	case r := <-results:
		assert.True(t, r.OK)
	case <-time.After(2 * time.Second):
		t.Fatal("checker never reported")
	}
}
