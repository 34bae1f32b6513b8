// Package metrics exposes the Prometheus instrumentation named in
// SPEC_FULL.md §4.9: per-exchange tick counters, reconnect attempts,
// frame parse errors, snapshot write outcomes, index-loop iteration
// latency, and per-symbol persister queue depth.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds an isolated Prometheus registry, not the global one, so
// tests can construct independent instances without collector collisions.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal        *prometheus.CounterVec
	ReconnectAttempts *prometheus.CounterVec
	FrameParseErrors  *prometheus.CounterVec
	SnapshotWrites    prometheus.Counter
	SnapshotFailures  prometheus.Counter
	CandleWrites      prometheus.Counter
	CandleFailures    prometheus.Counter
	LoopLatency       prometheus.Histogram
	PersisterQueueLen *prometheus.GaugeVec
}

// New builds and registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptoindex_ticks_total",
			Help: "Total ticks received, by exchange",
		}, []string{"exchange"}),
		ReconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptoindex_reconnect_attempts_total",
			Help: "Total reconnect attempts dispatched, by exchange",
		}, []string{"exchange"}),
		FrameParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptoindex_frame_parse_errors_total",
			Help: "Total frames dropped for failing to parse, by exchange",
		}, []string{"exchange"}),
		SnapshotWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cryptoindex_snapshot_writes_total",
			Help: "Total index snapshot writes attempted",
		}),
		SnapshotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cryptoindex_snapshot_failures_total",
			Help: "Total index snapshot writes that failed",
		}),
		CandleWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cryptoindex_candle_writes_total",
			Help: "Total candle event writes attempted",
		}),
		CandleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cryptoindex_candle_failures_total",
			Help: "Total candle event writes that failed",
		}),
		LoopLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cryptoindex_index_loop_latency_seconds",
			Help:    "Index loop iteration latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		PersisterQueueLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cryptoindex_persister_queue_length",
			Help: "Current per-symbol persister queue depth",
		}, []string{"symbol"}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.ReconnectAttempts,
		m.FrameParseErrors,
		m.SnapshotWrites,
		m.SnapshotFailures,
		m.CandleWrites,
		m.CandleFailures,
		m.LoopLatency,
		m.PersisterQueueLen,
	)

	return m
}

// Server exposes /metrics and /healthz on a single address.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer builds an HTTP server for m's registry.
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &Server{addr: addr, srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start launches the server in a background goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", s.addr).Msg("metrics server exited")
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
