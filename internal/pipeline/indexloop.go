package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/azanium/cryptoindex/internal/candle"
	"github.com/azanium/cryptoindex/internal/index"
	"github.com/azanium/cryptoindex/internal/metrics"
	"github.com/azanium/cryptoindex/internal/storage"
)

// latencyWarnThreshold is the per-iteration budget of spec.md §4.5;
// iterations that exceed it are logged.
const latencyWarnThreshold = 50 * time.Millisecond

// snapshotThrottleSeconds is the snapshot bucket width of spec.md §4.5.
const snapshotThrottleSeconds = 5

// IndexLoop evaluates every active index once per tick, drives the
// candle aggregator's state machine, and throttles snapshot writes.
// It exclusively owns OHLC state and per-index snapshot throttles, per
// spec.md §3's lifecycle-ownership rule.
type IndexLoop struct {
	calculators *index.Manager
	aggregator  *candle.Aggregator
	snapshots   storage.SnapshotWriter
	candleQueue chan<- candle.Event
	metrics     *metrics.Metrics
	tickPeriod  time.Duration

	mu                 sync.Mutex
	lastSnapshotBucket map[string]int64
}

// NewIndexLoop builds an index loop. candleQueue is the persister's
// single ingress channel.
func NewIndexLoop(calculators *index.Manager, aggregator *candle.Aggregator, snapshots storage.SnapshotWriter, candleQueue chan<- candle.Event, m *metrics.Metrics, tickPeriod time.Duration) *IndexLoop {
	return &IndexLoop{
		calculators:        calculators,
		aggregator:         aggregator,
		snapshots:          snapshots,
		candleQueue:        candleQueue,
		metrics:            m,
		tickPeriod:         tickPeriod,
		lastSnapshotBucket: make(map[string]int64),
	}
}

// Run ticks until ctx is canceled.
func (il *IndexLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(il.tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			il.tick(ctx, now)
		}
	}
}

func (il *IndexLoop) tick(ctx context.Context, now time.Time) {
	start := time.Now()

	for name, calc := range il.calculators.Calculators() {
		_, def, ok := il.calculators.Get(name)
		if !ok || !def.Active {
			continue
		}

		sample, err := calc.CalculateIndex(def.Formula, now.UnixMilli())
		if err != nil {
			log.Warn().Err(err).Str("index", name).Msg("formula evaluation failed")
			continue
		}
		if sample == nil {
			continue
		}

		for _, ev := range il.aggregator.Process(name, sample.Last, now) {
			il.candleQueue <- ev
		}

		il.maybeSnapshot(ctx, name, *sample, now)
	}

	elapsed := time.Since(start)
	if il.metrics != nil {
		il.metrics.LoopLatency.Observe(elapsed.Seconds())
	}
	if elapsed > latencyWarnThreshold {
		log.Warn().Dur("elapsed", elapsed).Msg("index loop iteration exceeded latency budget")
	}
}

func (il *IndexLoop) maybeSnapshot(ctx context.Context, name string, sample index.Sample, now time.Time) {
	bucket := now.Unix() / snapshotThrottleSeconds

	il.mu.Lock()
	last, seen := il.lastSnapshotBucket[name]
	changed := !seen || last != bucket
	if changed {
		il.lastSnapshotBucket[name] = bucket
	}
	il.mu.Unlock()

	if !changed {
		return
	}

	go func() {
		if il.metrics != nil {
			il.metrics.SnapshotWrites.Inc()
		}
		if err := il.snapshots.Insert(ctx, name, sample); err != nil {
			if il.metrics != nil {
				il.metrics.SnapshotFailures.Inc()
			}
			log.Error().Err(err).Str("index", name).Msg("snapshot write failed")
		}
	}()
}
