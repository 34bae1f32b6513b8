package index

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Calculator holds a price mapping for one named index: a fractional
// tolerance unused by the current exception check but part of the
// contract, the price map, and a bounded-by-time list of recent samples
// used for EDP evaluation (spec.md §3).
type Calculator struct {
	name            string
	exceptionMargin decimal.Decimal

	mu     sync.RWMutex
	prices map[PriceKey]decimal.Decimal

	historyMu sync.Mutex
	history   []Sample
}

// NewCalculator creates a calculator for a named index.
func NewCalculator(name string, exceptionMargin decimal.Decimal) *Calculator {
	return &Calculator{
		name:            name,
		exceptionMargin: exceptionMargin,
		prices:          make(map[PriceKey]decimal.Decimal),
	}
}

// UpdatePrice inserts or overwrites the price for a composite key.
func (c *Calculator) UpdatePrice(key PriceKey, price decimal.Decimal) {
	c.mu.Lock()
	c.prices[key] = price
	c.mu.Unlock()
}

// Price returns the current price for a composite key, for diagnostics.
func (c *Calculator) Price(key PriceKey) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[key]
	return p, ok
}

// CalculateIndex evaluates formula against the calculator's price
// snapshot as of the call, per spec.md §4.3. Returns (nil, nil) when
// every operand is missing — this is not an error condition.
func (c *Calculator) CalculateIndex(formula string, tsMS int64) (*Sample, error) {
	pf, err := parseFormula(formula)
	if err != nil {
		return nil, &FormulaParseError{Formula: formula, Err: err}
	}

	c.mu.RLock()
	present := make([]decimal.Decimal, 0, len(pf.operands))
	sum := decimal.Zero
	for _, key := range pf.operands {
		price, ok := c.prices[key]
		if !ok {
			log.Debug().Err(&MissingOperandError{Key: key}).Str("index", c.name).Msg("operand missing from price snapshot")
			continue
		}
		sum = sum.Add(price)
		present = append(present, price)
	}
	c.mu.RUnlock()

	validCount := len(present)
	if validCount == 0 {
		return nil, nil
	}

	last := sum.Div(decimal.NewFromInt(int64(validCount)))
	last = c.checkException(last)

	sample := Sample{
		ID:              uuid.New(),
		TimestampMS:     tsMS,
		IndexName:       c.name,
		Last:            last,
		OriginalFormula: formula,
		Trace:           composeTrace(present),
	}

	c.appendSample(sample)
	return &sample, nil
}

// checkException is the exception check of spec.md §4.3 step 6: currently
// identity, a placeholder for a future median-based clamp bounded by
// exceptionMargin.
func (c *Calculator) checkException(last decimal.Decimal) decimal.Decimal {
	return last
}

// composeTrace renders "(p1 + p2 + ... + pk) / k" for k>1 present
// operands, or the bare operand when k==1, per spec.md §4.3 step 5.
func composeTrace(present []decimal.Decimal) string {
	if len(present) == 1 {
		return present[0].String()
	}
	parts := make([]string, len(present))
	for i, p := range present {
		parts[i] = p.String()
	}
	return "(" + strings.Join(parts, " + ") + ") / " + decimal.NewFromInt(int64(len(present))).String()
}

// appendSample records the sample in the bounded-by-time history and
// trims entries older than historyHorizon.
func (c *Calculator) appendSample(s Sample) {
	c.historyMu.Lock()
	defer c.historyMu.Unlock()
	c.history = append(c.history, s)

	cutoff := time.Now().Add(-historyHorizon).UnixMilli()
	kept := c.history[:0]
	for _, s := range c.history {
		if s.TimestampMS >= cutoff {
			kept = append(kept, s)
		}
	}
	c.history = kept
}

// CalculateEDP returns the exponentially dated price: the arithmetic
// mean of samples from the last 10 minutes, rounded to 8 decimal places
// with midpoint-away-from-zero rounding, per spec.md §4.3. Returns
// (zero, false) when the window is empty.
func (c *Calculator) CalculateEDP(now time.Time) (decimal.Decimal, bool) {
	cutoff := now.Add(-edpWindow).UnixMilli()

	c.historyMu.Lock()
	defer c.historyMu.Unlock()

	sum := decimal.Zero
	count := 0
	for _, s := range c.history {
		if s.TimestampMS >= cutoff {
			sum = sum.Add(s.Last)
			count++
		}
	}
	if count == 0 {
		return decimal.Zero, false
	}
	mean := sum.Div(decimal.NewFromInt(int64(count)))
	return mean.Round(edpRoundPlaces), true
}
