// Package pipeline wires the exchange, index, and candle packages into
// the periodic control flow of spec.md §4.4–§4.6: pull ticker prices into
// calculators, evaluate formulas and aggregate candles each tick, and
// fan candle events out to per-symbol persistence workers.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/azanium/cryptoindex/internal/exchange"
	"github.com/azanium/cryptoindex/internal/index"
)

// Binding is one (exchange, canonical symbol) pair the price updater
// pulls from, and the index it writes into. Per spec.md §4.4, the index
// name is the canonical symbol of the operand in the current deployment.
type Binding struct {
	ExchangeID   exchange.ID
	ExchangeName string
	Symbol       exchange.CanonicalSymbol
}

// PriceUpdater pulls the latest ticker for each binding into its
// calculator, every period.
type PriceUpdater struct {
	exchanges   *exchange.Manager
	calculators *index.Manager
	bindings    []Binding
	period      time.Duration
}

// NewPriceUpdater builds a price updater over the given bindings.
func NewPriceUpdater(exchanges *exchange.Manager, calculators *index.Manager, bindings []Binding, period time.Duration) *PriceUpdater {
	return &PriceUpdater{exchanges: exchanges, calculators: calculators, bindings: bindings, period: period}
}

// Run pulls prices on a fixed period until ctx is canceled.
func (p *PriceUpdater) Run(ctx context.Context) {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *PriceUpdater) tick() {
	for _, b := range p.bindings {
		client, ok := p.exchanges.GetClient(b.ExchangeID)
		if !ok {
			continue
		}
		tk, ok := client.GetTicker(b.Symbol)
		if !ok {
			continue
		}

		price, err := decimal.NewFromString(tk.LastPriceString)
		if err != nil {
			// spec.md §7: default to zero at the price-updater boundary,
			// a known ambiguity (a zero is then treated as a present
			// operand by the next evaluation).
			log.Debug().Err(&index.DecimalParseError{Raw: tk.LastPriceString, Err: err}).Str("exchange", b.ExchangeName).Str("symbol", string(b.Symbol)).Msg("ticker price failed to parse, defaulting to zero")
			price = decimal.Zero
		}

		calc, _, ok := p.calculators.Get(string(b.Symbol))
		if !ok {
			continue
		}
		key := index.NewPriceKey(b.ExchangeName, string(b.Symbol))
		calc.UpdatePrice(key, price)
	}
}
