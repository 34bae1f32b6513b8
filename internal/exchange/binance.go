package exchange

import (
	"encoding/json"
	"strings"
	"time"
)

// BinanceProtocol implements Protocol for Binance's combined miniTicker
// stream, per spec.md §6.
type BinanceProtocol struct {
	url          string
	pingInterval time.Duration
}

// NewBinanceProtocol builds a Binance protocol against the given
// websocket URL.
func NewBinanceProtocol(url string, pingInterval time.Duration) *BinanceProtocol {
	return &BinanceProtocol{url: url, pingInterval: pingInterval}
}

func (p *BinanceProtocol) ExchangeName() string        { return Binance.String() }
func (p *BinanceProtocol) WSURL() string               { return p.url }
func (p *BinanceProtocol) PingMsg() string             { return "ping" }
func (p *BinanceProtocol) PingInterval() time.Duration { return p.pingInterval }

type binanceSubscribeFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// BuildSubscribe frames a SUBSCRIBE request for a chunk of native symbols,
// per spec.md §6: {"method":"SUBSCRIBE","params":[<native>@miniTicker...],"id":<ms>}.
func (p *BinanceProtocol) BuildSubscribe(natives []NativeSymbol) ([]byte, bool) {
	if len(natives) == 0 {
		return nil, false
	}
	params := make([]string, len(natives))
	for i, native := range natives {
		params[i] = strings.ToLower(string(native)) + "@miniTicker"
	}
	frame := binanceSubscribeFrame{
		Method: "SUBSCRIBE",
		Params: params,
		ID:     time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, false
	}
	return raw, true
}

type binanceMiniTicker struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

// HandleMessage parses a miniTicker frame and mirrors any text frame
// containing "ping" with "pong" substituted, per spec.md §6.
func (p *BinanceProtocol) HandleMessage(hc HandleContext, raw []byte) error {
	text := string(raw)
	if strings.Contains(text, "ping") {
		return hc.Sender.Send([]byte(strings.Replace(text, "ping", "pong", 1)))
	}

	var tick binanceMiniTicker
	if err := json.Unmarshal(raw, &tick); err != nil {
		return &FrameParseError{Exchange: Binance, Raw: text, Err: err}
	}
	if tick.Symbol == "" || tick.Close == "" {
		return &FrameParseError{Exchange: Binance, Raw: text, Err: errEmptyTick}
	}

	recordTick(hc, Binance, NativeSymbol(tick.Symbol), tick.Close, time.UnixMilli(tick.EventTime))
	return nil
}
