package pipeline

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/azanium/cryptoindex/internal/candle"
	"github.com/azanium/cryptoindex/internal/metrics"
	"github.com/azanium/cryptoindex/internal/storage"
)

// defaultQueueSize approximates the "unbounded" candle queue of spec.md
// §5: generous enough that a single blocked symbol's backlog does not
// make the dispatch loop block delivery to other symbols within any
// realistic outage window.
const defaultQueueSize = 4096

// Persister is the per-symbol fan-out candle writer of spec.md §4.6. It
// owns a single ingress queue; on the first event for a symbol it
// creates a dedicated per-symbol queue and worker, and routes subsequent
// events for that symbol to the same queue, guaranteeing monotonic
// per-symbol write ordering without cross-symbol contention.
type Persister struct {
	writer    storage.CandleWriter
	metrics   *metrics.Metrics
	ingress   chan candle.Event
	queueSize int

	mu     sync.Mutex
	queues map[string]chan candle.Event
}

// NewPersister builds a persister. ingressSize bounds the single shared
// ingress channel; queueSize bounds each per-symbol queue (0 uses the
// package default).
func NewPersister(writer storage.CandleWriter, m *metrics.Metrics, ingressSize, queueSize int) *Persister {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Persister{
		writer:    writer,
		metrics:   m,
		ingress:   make(chan candle.Event, ingressSize),
		queueSize: queueSize,
		queues:    make(map[string]chan candle.Event),
	}
}

// Ingress returns the single queue producers send every candle event to.
func (p *Persister) Ingress() chan<- candle.Event {
	return p.ingress
}

// Run dispatches events from the ingress queue to per-symbol workers
// until ctx is canceled.
func (p *Persister) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.ingress:
			symbol := ev.Cell.IndexName
			q := p.queueFor(ctx, symbol)
			q <- ev
		}
	}
}

func (p *Persister) queueFor(ctx context.Context, symbol string) chan candle.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q, ok := p.queues[symbol]; ok {
		return q
	}
	q := make(chan candle.Event, p.queueSize)
	p.queues[symbol] = q
	go p.worker(ctx, symbol, q)
	return q
}

func (p *Persister) worker(ctx context.Context, symbol string, q chan candle.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q:
			if p.metrics != nil {
				p.metrics.PersisterQueueLen.WithLabelValues(symbol).Set(float64(len(q)))
				p.metrics.CandleWrites.Inc()
			}
			if err := p.writer.InsertCandle(ctx, symbol, ev); err != nil {
				if p.metrics != nil {
					p.metrics.CandleFailures.Inc()
				}
				log.Error().Err(err).Str("symbol", symbol).Msg("candle write failed")
			}
		}
	}
}
