package candle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestProcessFirstSampleEmitsInitThenLive matches the opening of
// scenario E3: the very first observation for a bucket produces both an
// init and a live event.
func TestProcessFirstSampleEmitsInitThenLive(t *testing.T) {
	a := NewAggregator([]Interval{Interval1m})
	ts := time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC)

	events := a.Process("BTCX", decimal.NewFromInt(60000), ts)
	require.Len(t, events, 2)
	assert.Equal(t, EventInit, events[0].Kind)
	assert.True(t, events[0].Cell.Open.Equal(decimal.NewFromInt(60000)))
	assert.Equal(t, EventLive, events[1].Kind)
	assert.True(t, events[1].Cell.Close.Equal(decimal.NewFromInt(60000)))
}

func TestProcessSameBucketEmitsLiveAndTracksHighLow(t *testing.T) {
	a := NewAggregator([]Interval{Interval1m})
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a.Process("BTCX", decimal.NewFromInt(60000), base)
	events := a.Process("BTCX", decimal.NewFromInt(59500), base.Add(30*time.Second))
	require.Len(t, events, 1)
	assert.Equal(t, EventLive, events[0].Kind)
	assert.True(t, events[0].Cell.Low.Equal(decimal.NewFromInt(59500)))
	assert.True(t, events[0].Cell.High.Equal(decimal.NewFromInt(60000)))
	assert.True(t, events[0].Cell.Close.Equal(decimal.NewFromInt(59500)))

	cur, ok := a.Current("BTCX", Interval1m)
	require.True(t, ok)
	assert.Equal(t, int64(2), cur.SampleCount)
}

// TestProcessBucketRolloverOrdersFinalizeInitLive is scenario E3: the new
// bucket's init is anchored on the prior bucket's close, and the
// triggering price only shows up in the live event that follows.
func TestProcessBucketRolloverOrdersFinalizeInitLive(t *testing.T) {
	a := NewAggregator([]Interval{Interval1m})
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a.Process("BTCX", decimal.NewFromInt(100), base)
	events := a.Process("BTCX", decimal.NewFromInt(101), base.Add(70*time.Second))

	require.Len(t, events, 3)

	assert.Equal(t, EventFinalize, events[0].Kind)
	assert.True(t, events[0].Cell.Open.Equal(decimal.NewFromInt(100)))
	assert.True(t, events[0].Cell.High.Equal(decimal.NewFromInt(100)))
	assert.True(t, events[0].Cell.Low.Equal(decimal.NewFromInt(100)))
	assert.True(t, events[0].Cell.Close.Equal(decimal.NewFromInt(100)))

	assert.Equal(t, EventInit, events[1].Kind)
	assert.True(t, events[1].Cell.Open.Equal(decimal.NewFromInt(100)))
	assert.True(t, events[1].Cell.High.Equal(decimal.NewFromInt(100)))
	assert.True(t, events[1].Cell.Low.Equal(decimal.NewFromInt(100)))
	assert.True(t, events[1].Cell.Close.Equal(decimal.NewFromInt(100)))

	assert.Equal(t, EventLive, events[2].Kind)
	assert.True(t, events[2].Cell.Close.Equal(decimal.NewFromInt(101)))
	assert.True(t, events[2].Cell.High.Equal(decimal.NewFromInt(101)))
	assert.True(t, events[2].Cell.Low.Equal(decimal.NewFromInt(100)))
}

func TestProcessTracksMultipleIntervalsIndependently(t *testing.T) {
	a := NewAggregator([]Interval{Interval1m, Interval5m})
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	events := a.Process("BTCX", decimal.NewFromInt(60000), base)
	require.Len(t, events, 4) // init+live per interval

	// 90s later: the 1m bucket rolls over (finalize+init+live), the 5m
	// bucket does not (live only).
	events = a.Process("BTCX", decimal.NewFromInt(60020), base.Add(90*time.Second))
	require.Len(t, events, 4)
	kindsByInterval := map[Interval][]EventKind{}
	for _, e := range events {
		kindsByInterval[e.Cell.Interval] = append(kindsByInterval[e.Cell.Interval], e.Kind)
	}
	assert.Equal(t, []EventKind{EventLive}, kindsByInterval[Interval5m])
	assert.Equal(t, []EventKind{EventFinalize, EventInit, EventLive}, kindsByInterval[Interval1m])
}

func TestProcessDropsSampleOlderThanOpenBucket(t *testing.T) {
	a := NewAggregator([]Interval{Interval1m})
	base := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)

	a.Process("BTCX", decimal.NewFromInt(60000), base)
	events := a.Process("BTCX", decimal.NewFromInt(1), base.Add(-30*time.Second))
	assert.Empty(t, events)

	cur, ok := a.Current("BTCX", Interval1m)
	require.True(t, ok)
	assert.True(t, cur.Close.Equal(decimal.NewFromInt(60000)))
}

func TestIntervalBucketStartFloorsToBoundary(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 3, 47, 0, time.UTC)
	got := Interval5m.BucketStart(ts)
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, want, got)
}
