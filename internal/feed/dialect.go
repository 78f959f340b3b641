package feed

import (
	"encoding/json"
	"strings"
	"time"
)

// Dialect is one venue's wire protocol for a mark-price stream: the frames
// to send when subscribing and how to read a tick back out.
type Dialect interface {
	// SubscribeFrames returns the JSON messages to send after connecting.
	SubscribeFrames(symbols []string) []any

	// ParseTick extracts a mark-price tick from a raw frame. ok is false
	// for frames that are not mark-price updates.
	ParseTick(raw []byte) (symbol, price string, at time.Time, ok bool)
}

// ChannelDialect is the channel-based protocol used by venues without a
// published stream format: one subscribe command naming the channel and the
// symbols, ticks echoed back on the same channel.
type ChannelDialect struct{}

type channelSubscribe struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

type channelTick struct {
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
	Price   string `json:"price"`
	Ts      int64  `json:"ts"`
}

func (ChannelDialect) SubscribeFrames(symbols []string) []any {
	return []any{channelSubscribe{Type: "subscribe", Channel: "mark_price", Symbols: symbols}}
}

func (ChannelDialect) ParseTick(raw []byte) (string, string, time.Time, bool) {
	var msg channelTick
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", "", time.Time{}, false
	}
	if msg.Channel != "mark_price" || msg.Symbol == "" {
		return "", "", time.Time{}, false
	}
	return msg.Symbol, msg.Price, time.UnixMilli(msg.Ts), true
}

// BinanceDialect speaks the Binance futures stream protocol: a SUBSCRIBE
// command with lowercase "<symbol>@markPrice" stream names, markPriceUpdate
// events back, either bare or wrapped in a combined-stream envelope.
type BinanceDialect struct{}

type binanceSubscribe struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceMarkPrice struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

func (BinanceDialect) SubscribeFrames(symbols []string) []any {
	params := make([]string, len(symbols))
	for i, s := range symbols {
		params[i] = strings.ToLower(s) + "@markPrice"
	}
	return []any{binanceSubscribe{Method: "SUBSCRIBE", Params: params, ID: 1}}
}

func (BinanceDialect) ParseTick(raw []byte) (string, string, time.Time, bool) {
	var env binanceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", "", time.Time{}, false
	}
	if len(env.Data) > 0 {
		raw = env.Data
	}
	var ev binanceMarkPrice
	if err := json.Unmarshal(raw, &ev); err != nil {
		return "", "", time.Time{}, false
	}
	if ev.Event != "markPriceUpdate" || ev.Symbol == "" {
		return "", "", time.Time{}, false
	}
	return ev.Symbol, ev.MarkPrice, time.UnixMilli(ev.EventTime), true
}

var (
	_ Dialect = ChannelDialect{}
	_ Dialect = BinanceDialect{}
)
