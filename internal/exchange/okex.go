package exchange

import (
	"encoding/json"
	"strconv"
	"time"
)

// OKExProtocol implements Protocol for OKEx's spot ticker channel. Its
// wire shape is analogous to Bitget's per spec.md §6.
type OKExProtocol struct {
	url          string
	pingInterval time.Duration
}

// NewOKExProtocol builds an OKEx protocol against the given websocket URL.
func NewOKExProtocol(url string, pingInterval time.Duration) *OKExProtocol {
	return &OKExProtocol{url: url, pingInterval: pingInterval}
}

func (p *OKExProtocol) ExchangeName() string        { return OKEx.String() }
func (p *OKExProtocol) WSURL() string               { return p.url }
func (p *OKExProtocol) PingMsg() string             { return "ping" }
func (p *OKExProtocol) PingInterval() time.Duration { return p.pingInterval }

type okexSubscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okexSubscribeFrame struct {
	Op   string             `json:"op"`
	Args []okexSubscribeArg `json:"args"`
}

// BuildSubscribe frames a subscribe request for a chunk of native
// symbols.
func (p *OKExProtocol) BuildSubscribe(natives []NativeSymbol) ([]byte, bool) {
	if len(natives) == 0 {
		return nil, false
	}
	args := make([]okexSubscribeArg, len(natives))
	for i, native := range natives {
		args[i] = okexSubscribeArg{Channel: "tickers", InstID: string(native)}
	}
	frame := okexSubscribeFrame{Op: "subscribe", Args: args}
	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, false
	}
	return raw, true
}

type okexTickerData struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	Ts     string `json:"ts"`
}

type okexFrame struct {
	Data []okexTickerData `json:"data"`
}

// HandleMessage parses an OKEx ticker frame.
func (p *OKExProtocol) HandleMessage(hc HandleContext, raw []byte) error {
	text := string(raw)
	if text == "ping" || text == "pong" {
		return nil
	}

	var frame okexFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return &FrameParseError{Exchange: OKEx, Raw: text, Err: err}
	}
	if len(frame.Data) == 0 {
		return &FrameParseError{Exchange: OKEx, Raw: text, Err: errEmptyTick}
	}

	for _, d := range frame.Data {
		if d.InstID == "" || d.Last == "" {
			continue
		}
		tsMS, _ := strconv.ParseInt(d.Ts, 10, 64)
		recordTick(hc, OKEx, NativeSymbol(d.InstID), d.Last, time.UnixMilli(tsMS))
	}
	return nil
}
