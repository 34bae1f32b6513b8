package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// TradeCache is a TTL-keyed last-trade store keyed by (exchange, symbol),
// per spec.md §4.7. save_trade overwrites; a background sweeper evicts
// entries whose insertion age has exceeded the configured TTL.
type TradeCache struct {
	mu      sync.RWMutex
	entries map[QuoteIndex]cacheEntry
	ttl     time.Duration
}

type cacheEntry struct {
	trade     Trade
	insertion time.Time
}

// NewTradeCache creates a trade cache with the given TTL, expressed in
// minutes per spec.md §4.7's construction contract.
func NewTradeCache(ttlMinutes uint32) *TradeCache {
	return &TradeCache{
		entries: make(map[QuoteIndex]cacheEntry),
		ttl:     time.Duration(ttlMinutes) * time.Minute,
	}
}

// SaveTrade inserts or overwrites the cached trade for (exchange, symbol).
func (c *TradeCache) SaveTrade(trade Trade) {
	key := QuoteIndex{Exchange: trade.Exchange, Symbol: trade.CanonicalSymbol}
	c.mu.Lock()
	c.entries[key] = cacheEntry{trade: trade, insertion: time.Now()}
	c.mu.Unlock()
}

// GetTrade reads the cached trade for (exchange, symbol), if present.
func (c *TradeCache) GetTrade(key QuoteIndex) (Trade, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok {
		return Trade{}, false
	}
	return entry.trade, true
}

// sweep evicts every entry whose insertion age is at least the TTL.
func (c *TradeCache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for key, entry := range c.entries {
		if now.Sub(entry.insertion) >= c.ttl {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}

// RunSweeper starts the periodic eviction loop and blocks until ctx is
// done. Call it in its own goroutine. It sweeps every sweepPeriod, which
// the caller supplies (cmd/indexer passes the tuning value, 60s by
// default).
func (c *TradeCache) RunSweeper(ctx context.Context, sweepPeriod time.Duration) {
	ticker := time.NewTicker(sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if evicted := c.sweep(now); evicted > 0 {
				log.Debug().Int("evicted", evicted).Msg("trade cache sweep")
			}
		}
	}
}
