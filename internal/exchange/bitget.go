package exchange

import (
	"encoding/json"
	"strconv"
	"time"
)

// BitgetProtocol implements Protocol for Bitget's spot ticker channel,
// per spec.md §6.
type BitgetProtocol struct {
	url          string
	pingInterval time.Duration
}

// NewBitgetProtocol builds a Bitget protocol against the given websocket
// URL.
func NewBitgetProtocol(url string, pingInterval time.Duration) *BitgetProtocol {
	return &BitgetProtocol{url: url, pingInterval: pingInterval}
}

func (p *BitgetProtocol) ExchangeName() string        { return Bitget.String() }
func (p *BitgetProtocol) WSURL() string               { return p.url }
func (p *BitgetProtocol) PingMsg() string             { return "ping" }
func (p *BitgetProtocol) PingInterval() time.Duration { return p.pingInterval }

type bitgetSubscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type bitgetSubscribeFrame struct {
	Op   string               `json:"op"`
	Args []bitgetSubscribeArg `json:"args"`
}

// BuildSubscribe frames a subscribe request for a chunk of native
// symbols, per spec.md §6.
func (p *BitgetProtocol) BuildSubscribe(natives []NativeSymbol) ([]byte, bool) {
	if len(natives) == 0 {
		return nil, false
	}
	args := make([]bitgetSubscribeArg, len(natives))
	for i, native := range natives {
		args[i] = bitgetSubscribeArg{InstType: "SPOT", Channel: "ticker", InstID: string(native)}
	}
	frame := bitgetSubscribeFrame{Op: "subscribe", Args: args}
	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, false
	}
	return raw, true
}

type bitgetTickerData struct {
	LastPr string `json:"lastPr"`
	InstID string `json:"instId"`
	Ts     string `json:"ts"`
}

type bitgetFrame struct {
	Data []bitgetTickerData `json:"data"`
}

// HandleMessage parses a Bitget ticker frame, per spec.md §6. A bare
// "ping" or "pong" heartbeat text frame is ignored here without error;
// Bitget does not multiplex ping/pong inside ticker data so no mirrored
// reply is sent.
func (p *BitgetProtocol) HandleMessage(hc HandleContext, raw []byte) error {
	text := string(raw)
	if text == "ping" || text == "pong" {
		return nil
	}

	var frame bitgetFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return &FrameParseError{Exchange: Bitget, Raw: text, Err: err}
	}
	if len(frame.Data) == 0 {
		return &FrameParseError{Exchange: Bitget, Raw: text, Err: errEmptyTick}
	}

	for _, d := range frame.Data {
		if d.InstID == "" || d.LastPr == "" {
			continue
		}
		tsMS, _ := strconv.ParseInt(d.Ts, 10, 64)
		recordTick(hc, Bitget, NativeSymbol(d.InstID), d.LastPr, time.UnixMilli(tsMS))
	}
	return nil
}
