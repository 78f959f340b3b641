// Package feed maintains supplementary push-based mark-price streams. The
// streams are advisory only: reconciliation and auto-close are poll-based and
// treat REST responses as the source of truth, so a dead feed degrades
// freshness but never correctness.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the fixed delay between reconnection attempts. Push
	// feeds retry forever at this cadence rather than backing off.
	reconnectDelay = 5 * time.Second
)

// MarkPrice is a single mark-price tick from a venue stream.
type MarkPrice struct {
	Venue  string
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}

// MarkPriceHandler is called for each tick. It must not block: slow handlers
// stall the read loop and eventually trip the peer's idle timeout.
type MarkPriceHandler func(ctx context.Context, tick MarkPrice)

// MarkPriceFeed connects to a venue's mark-price WebSocket, subscribes to the
// configured symbols, and invokes the handler on each tick. On any disconnect
// it waits a fixed delay and reconnects, forever, until the context ends.
type MarkPriceFeed struct {
	venue   string
	wsURL   string
	symbols []string
	dialect Dialect
	handler MarkPriceHandler
	logger  *slog.Logger

	dialer *websocket.Dialer

	// retryDelay is the pause between reconnect attempts. Fixed, not
	// exponential: a supplementary feed should come back promptly after
	// a venue blip.
	retryDelay time.Duration
}

// NewMarkPriceFeed creates a feed for one venue. symbols are venue-native
// instrument names; dialect selects the venue's stream protocol, defaulting
// to ChannelDialect.
func NewMarkPriceFeed(venue, wsURL string, symbols []string, dialect Dialect, handler MarkPriceHandler, logger *slog.Logger) *MarkPriceFeed {
	if dialect == nil {
		dialect = ChannelDialect{}
	}
	return &MarkPriceFeed{
		venue:   venue,
		wsURL:   wsURL,
		symbols: symbols,
		dialect: dialect,
		handler: handler,
		logger: logger.With(
			slog.String("component", "markprice_feed"),
			slog.String("venue", venue),
		),
		dialer:     &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		retryDelay: reconnectDelay,
	}
}

// Run connects and pumps ticks until ctx is cancelled. It only returns the
// context's error: individual connection failures are logged and retried
// after a fixed delay.
func (f *MarkPriceFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.InfoContext(ctx, "no symbols configured, feed not started")
		return nil
	}

	for {
		if err := f.runConnection(ctx); err != nil && ctx.Err() == nil {
			f.logger.WarnContext(ctx, "feed disconnected, reconnecting",
				slog.String("error", err.Error()),
				slog.Duration("delay", f.retryDelay),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.retryDelay):
		}
	}
}

// runConnection dials, subscribes, and reads until the connection drops or
// ctx is cancelled.
func (f *MarkPriceFeed) runConnection(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for _, frame := range f.dialect.SubscribeFrames(f.symbols) {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frame); err != nil {
			return err
		}
	}
	f.logger.InfoContext(ctx, "subscribed", slog.Int("symbols", len(f.symbols)))

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			conn.Close()
		case <-done:
		}
	}()
	go f.pingLoop(conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		f.handleMessage(ctx, raw)
	}
}

// pingLoop keeps the connection alive until it is torn down.
func (f *MarkPriceFeed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw frame through the dialect and dispatches
// mark-price ticks. Frames the dialect does not recognize (acks, heartbeats,
// other channels) are dropped silently.
func (f *MarkPriceFeed) handleMessage(ctx context.Context, raw []byte) {
	symbol, rawPrice, at, ok := f.dialect.ParseTick(raw)
	if !ok {
		return
	}
	price, err := decimal.NewFromString(rawPrice)
	if err != nil {
		f.logger.Debug("unparseable price dropped",
			slog.String("symbol", symbol),
			slog.String("price", rawPrice),
		)
		return
	}

	tick := MarkPrice{
		Venue:  f.venue,
		Symbol: symbol,
		Price:  price,
		At:     at,
	}
	if f.handler != nil {
		f.handler(ctx, tick)
	}
}
