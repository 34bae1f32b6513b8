// Package exchange implements the multi-exchange streaming client layer:
// a uniform abstraction over heterogeneous wire protocols plus lifecycle
// management (connect, subscribe, heartbeat, reconnect, ticker cache).
package exchange

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ID is a closed enumeration of supported exchanges. Its String value is
// the stable canonical name used as the first component of composite
// price keys ("{Exchange}.{CanonicalSymbol}").
type ID int

const (
	Binance ID = iota
	Bitget
	OKEx
)

func (id ID) String() string {
	switch id {
	case Binance:
		return "Binance"
	case Bitget:
		return "Bitget"
	case OKEx:
		return "OKEx"
	default:
		return "Unknown"
	}
}

// CanonicalSymbol is the user-facing symbol name, independent of exchange.
type CanonicalSymbol string

// NativeSymbol is the exchange-specific instrument id appearing on the wire.
type NativeSymbol string

// Ticker is the last observed price for a canonical symbol on one client.
// Overwritten on each update; no history retained.
type Ticker struct {
	CanonicalSymbol CanonicalSymbol
	LastPriceString string
	SourceTimestamp time.Time
}

// Trade is an entry in the trade cache: a parsed price observation keyed
// by (exchange, canonical symbol).
type Trade struct {
	Exchange        ID
	CanonicalSymbol CanonicalSymbol
	Price           decimal.Decimal
	Timestamp       time.Time
}

// QuoteIndex is the trade-cache key.
type QuoteIndex struct {
	Exchange ID
	Symbol   CanonicalSymbol
}

// SymbolMapping holds the native <-> canonical symbol translation for one
// client's configured task.
type SymbolMapping struct {
	nativeToCanonical map[NativeSymbol]CanonicalSymbol
}

// NewSymbolMapping builds a mapping from native wire symbols to canonical
// names.
func NewSymbolMapping(pairs map[NativeSymbol]CanonicalSymbol) *SymbolMapping {
	m := &SymbolMapping{nativeToCanonical: make(map[NativeSymbol]CanonicalSymbol, len(pairs))}
	for native, canonical := range pairs {
		m.nativeToCanonical[native] = canonical
	}
	return m
}

// Canonical translates a native instrument id to its canonical name,
// falling back to the native id (as CanonicalSymbol) when unknown, per
// spec.md §4.1 parsing rule (a).
func (m *SymbolMapping) Canonical(native NativeSymbol) CanonicalSymbol {
	if m == nil {
		return CanonicalSymbol(native)
	}
	if canonical, ok := m.nativeToCanonical[native]; ok {
		return canonical
	}
	return CanonicalSymbol(native)
}

// Natives returns every native symbol currently mapped, for subscription
// framing.
func (m *SymbolMapping) Natives() []NativeSymbol {
	out := make([]NativeSymbol, 0, len(m.nativeToCanonical))
	for native := range m.nativeToCanonical {
		out = append(out, native)
	}
	return out
}

// Merge folds additional native->canonical pairs into the mapping,
// returning the symbols that were newly added.
func (m *SymbolMapping) Merge(pairs map[NativeSymbol]CanonicalSymbol) []NativeSymbol {
	added := make([]NativeSymbol, 0, len(pairs))
	for native, canonical := range pairs {
		if _, exists := m.nativeToCanonical[native]; !exists {
			added = append(added, native)
		}
		m.nativeToCanonical[native] = canonical
	}
	return added
}

// ConnectError is returned when a handshake fails, per spec.md §7.
type ConnectError struct {
	Exchange ID
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s: connect to %s failed: %v", e.Exchange, e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// FrameParseError marks a malformed inbound frame. Per spec.md §7 it is
// dropped per frame: HandleMessage returns it to the client's read loop,
// which logs it at debug level, counts it, and reads on.
type FrameParseError struct {
	Exchange ID
	Raw      string
	Err      error
}

func (e *FrameParseError) Error() string {
	return fmt.Sprintf("%s: frame parse error: %v (raw=%q)", e.Exchange, e.Err, e.Raw)
}

func (e *FrameParseError) Unwrap() error { return e.Err }
