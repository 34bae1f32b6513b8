package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersDistinctCollectorsPerInstance(t *testing.T) {
	a := New()
	b := New()
	a.TicksTotal.WithLabelValues("Binance").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}).ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "cryptoindex_ticks_total")

	recB := httptest.NewRecorder()
	promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{}).ServeHTTP(recB, req)
	assert.NotContains(t, recB.Body.String(), `exchange="Binance"`)
}
