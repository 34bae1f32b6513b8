// Package index implements the formula-driven composite index calculator
// of spec.md §4.3: it evaluates named formulas against a shared price
// snapshot with missing-data semantics, and computes the exponentially
// dated price (rolling mean) of an index's recent samples.
package index

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceKey is a composite price key of the form "{Exchange}.{CanonicalSymbol}".
type PriceKey string

// NewPriceKey builds the composite key used throughout the formula
// grammar and the calculator's price map.
func NewPriceKey(exchange, canonicalSymbol string) PriceKey {
	return PriceKey(exchange + "." + canonicalSymbol)
}

// Definition is an index definition: (id, name, formula_text, active_flag)
// per spec.md §3.
type Definition struct {
	ID      int64
	Name    string
	Formula string
	Active  bool
}

// Sample is an index sample: (ts_ms, index_name, last_value,
// original_formula, computed_formula_trace). The trace records which
// operands were present, for diagnostics.
type Sample struct {
	ID              uuid.UUID
	TimestampMS     int64
	IndexName       string
	Last            decimal.Decimal
	OriginalFormula string
	Trace           string
}

// FormulaParseError marks a formula that does not match the grammar of
// spec.md §4.3.
type FormulaParseError struct {
	Formula string
	Err     error
}

func (e *FormulaParseError) Error() string {
	return fmt.Sprintf("formula parse error in %q: %v", e.Formula, e.Err)
}

func (e *FormulaParseError) Unwrap() error { return e.Err }

// MissingOperandError documents that an operand key had no price in the
// snapshot. Per spec.md §7 this is not an error condition — evaluation
// proceeds with the remaining operands — so this type is constructed for
// logging only and is never returned from CalculateIndex.
type MissingOperandError struct {
	Key PriceKey
}

func (e *MissingOperandError) Error() string {
	return fmt.Sprintf("missing operand %s", e.Key)
}

// DecimalParseError marks a ticker price string that failed to parse as
// a decimal. Per spec.md §7 / §9, callers at the price-updater boundary
// currently substitute zero rather than propagating this.
type DecimalParseError struct {
	Raw string
	Err error
}

func (e *DecimalParseError) Error() string {
	return fmt.Sprintf("decimal parse error for %q: %v", e.Raw, e.Err)
}

func (e *DecimalParseError) Unwrap() error { return e.Err }

// edpWindow is the lookback window for the EDP rolling mean (spec.md §4.3).
const edpWindow = 10 * time.Minute

// historyHorizon bounds the in-memory sample list so it never grows
// unboundedly; it must be at least edpWindow.
const historyHorizon = 15 * time.Minute

// edpRoundPlaces is the EDP's decimal rounding precision (spec.md §4.3).
const edpRoundPlaces = 8
