package candle

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type cellKey struct {
	index    string
	interval Interval
}

// Aggregator tracks one open Cell per (index, interval) pair and
// advances them as index samples arrive.
type Aggregator struct {
	mu        sync.RWMutex
	open      map[cellKey]*Cell
	intervals []Interval
}

// NewAggregator creates an aggregator tracking the given intervals for
// every index it sees. Callers that want the full interval ladder pass
// AllIntervals.
func NewAggregator(intervals []Interval) *Aggregator {
	return &Aggregator{
		open:      make(map[cellKey]*Cell),
		intervals: intervals,
	}
}

// Process folds one index sample into every tracked interval's cell for
// indexName and returns the events produced, in emission order. Per
// spec.md §4.5, a bucket rollover for a given interval emits finalize(prev)
// then init(new) then live(new) as three separate events, never collapsed
// into one. The init event carries a synthetic anchor seeded from the
// prior cell's close (continuity between buckets), not from the
// triggering price; the live event that follows is what actually folds
// the triggering price into high/low/close.
func (a *Aggregator) Process(indexName string, price decimal.Decimal, ts time.Time) []Event {
	events := make([]Event, 0, len(a.intervals)+1)

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, iv := range a.intervals {
		key := cellKey{index: indexName, interval: iv}
		bucketStart := iv.BucketStart(ts)
		cur, exists := a.open[key]

		if exists && bucketStart.Before(cur.BucketStart) {
			log.Warn().Str("index", indexName).Str("interval", string(iv)).Time("bucket", bucketStart).Msg("late sample older than open bucket, dropped")
			continue
		}

		if !exists || bucketStart.After(cur.BucketStart) {
			anchor := price
			if exists {
				events = append(events, Event{Kind: EventFinalize, Cell: *cur})
				anchor = cur.Close
			}
			cur = &Cell{
				IndexName:   indexName,
				Interval:    iv,
				BucketStart: bucketStart,
				Open:        anchor,
				High:        anchor,
				Low:         anchor,
				Close:       anchor,
			}
			a.open[key] = cur
			events = append(events, Event{Kind: EventInit, Cell: *cur})
		}

		if price.GreaterThan(cur.High) {
			cur.High = price
		}
		if price.LessThan(cur.Low) {
			cur.Low = price
		}
		cur.Close = price
		cur.SampleCount++
		events = append(events, Event{Kind: EventLive, Cell: *cur})
	}

	return events
}

// Current returns a snapshot of the open cell for (indexName, interval),
// if one exists.
func (a *Aggregator) Current(indexName string, interval Interval) (Cell, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.open[cellKey{index: indexName, interval: interval}]
	if !ok {
		return Cell{}, false
	}
	return *c, true
}
