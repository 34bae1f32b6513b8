package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// recordTick implements the parsing rules common to every concrete
// Protocol (spec.md §4.1): translate native -> canonical (falling back to
// native), store a Ticker, and — if the price parses as a finite decimal
// — append a Trade. Malformed frames never reach this far; callers
// return a *FrameParseError before calling it.
func recordTick(hc HandleContext, exchangeID ID, native NativeSymbol, priceStr string, sourceTS time.Time) {
	canonical := hc.Symbols.Canonical(native)

	hc.Tickers.Set(Ticker{
		CanonicalSymbol: canonical,
		LastPriceString: priceStr,
		SourceTimestamp: sourceTS,
	})

	// decimal.NewFromString has no Inf/NaN representation, so a
	// successful parse is always finite per spec.md §4.1 rule (c).
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return
	}

	hc.Trades.SaveTrade(Trade{
		Exchange:        exchangeID,
		CanonicalSymbol: canonical,
		Price:           price,
		Timestamp:       sourceTS,
	})
}
