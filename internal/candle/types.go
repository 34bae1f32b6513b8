// Package candle implements the OHLC aggregation state machine of
// spec.md §4.5: one cell per (index, interval) pair, advanced on every
// index tick and emitting finalize/init/live events in the order the
// storage layer depends on.
package candle

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Interval is a supported candle bucket width.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// AllIntervals lists every interval the aggregator tracks per index.
var AllIntervals = []Interval{Interval1m, Interval5m, Interval15m, Interval1h, Interval4h, Interval1d}

// Seconds returns the bucket width in seconds.
func (iv Interval) Seconds() int64 {
	switch iv {
	case Interval1m:
		return 60
	case Interval5m:
		return 5 * 60
	case Interval15m:
		return 15 * 60
	case Interval1h:
		return 60 * 60
	case Interval4h:
		return 4 * 60 * 60
	case Interval1d:
		return 24 * 60 * 60
	default:
		return 0
	}
}

// BucketStart floors t to the start of the interval's bucket containing
// it, per spec.md §4.5: floor(unix_ts / interval_seconds) * interval_seconds.
func (iv Interval) BucketStart(t time.Time) time.Time {
	s := iv.Seconds()
	floored := (t.Unix() / s) * s
	return time.Unix(floored, 0).UTC()
}

// Cell is one OHLC bucket for a single (index, interval) pair.
type Cell struct {
	IndexName   string
	Interval    Interval
	BucketStart time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	SampleCount int64
}

// EventKind classifies a CandleEvent.
type EventKind int

const (
	// EventFinalize marks a cell as complete: no further samples will
	// land in it. Always emitted before the Init for the cell that
	// replaces it.
	EventFinalize EventKind = iota
	// EventInit marks the opening of a new bucket.
	EventInit
	// EventLive marks an in-place update to the open bucket.
	EventLive
)

func (k EventKind) String() string {
	switch k {
	case EventFinalize:
		return "finalize"
	case EventInit:
		return "init"
	case EventLive:
		return "live"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one state transition of a cell, ready for the persister.
type Event struct {
	Kind EventKind
	Cell Cell
}
