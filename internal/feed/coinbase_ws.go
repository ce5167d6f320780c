// Package feed streams spot prices from the Coinbase Exchange websocket into
// the shared price cache, where the resolver's feed source reads them.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message.
	pongWait = 30 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second
)

// CoinbaseFeed subscribes to the ticker channel for the configured product
// pairs (e.g. "ETH-USD") and writes each tick into the price cache keyed by
// product ID. It reconnects with backoff on disconnect.
type CoinbaseFeed struct {
	wsURL    string
	products []string
	cache    domain.PriceCache
	logger   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewCoinbaseFeed creates a feed for the given product IDs.
func NewCoinbaseFeed(wsURL string, products []string, cache domain.PriceCache, logger *slog.Logger) *CoinbaseFeed {
	return &CoinbaseFeed{
		wsURL:    wsURL,
		products: products,
		cache:    cache,
		logger:   logger.With(slog.String("component", "coinbase_feed")),
		done:     make(chan struct{}),
	}
}

// Run connects, subscribes, and streams until ctx is cancelled or Close is
// called. Each dropped connection is retried with exponential backoff.
func (f *CoinbaseFeed) Run(ctx context.Context) error {
	if len(f.products) == 0 {
		f.logger.Info("no products to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		start := time.Now()
		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A session that survived a while earns a fresh backoff.
		if time.Since(start) > time.Minute {
			delay = reconnectDelay
		}
		f.logger.Warn("coinbase ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed.
func (f *CoinbaseFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

type subscribeCmd struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
	Products []string `json:"product_ids"`
}

type tickerMsg struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Time      string `json:"time"`
	Message   string `json:"message"`
}

// runConnection performs one dial-subscribe-read session. It returns a nil
// error only on a clean shutdown via Close.
func (f *CoinbaseFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := dialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	cmd := subscribeCmd{
		Type:     "subscribe",
		Channels: []string{"ticker"},
		Products: f.products,
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("coinbase ws subscribed", slog.Int("products", len(f.products)))

	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go f.pingLoop(ctx, conn, sessionDone)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return nil
			default:
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		f.handleMessage(ctx, raw)
	}
}

func (f *CoinbaseFeed) pingLoop(ctx context.Context, conn *websocket.Conn, sessionDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case <-sessionDone:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses one frame and stores ticker prices. Malformed frames
// are dropped; a bad tick must not take the feed down.
func (f *CoinbaseFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg tickerMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	switch msg.Type {
	case "ticker":
		if msg.Price == "" {
			return
		}
		price, err := domain.ParseWad(msg.Price)
		if err != nil {
			f.logger.Warn("unparseable ticker price",
				slog.String("product", msg.ProductID),
				slog.String("price", msg.Price),
			)
			return
		}
		ts := time.Now().UTC()
		if parsed, err := time.Parse(time.RFC3339Nano, msg.Time); err == nil {
			ts = parsed
		}
		if err := f.cache.SetPrice(ctx, msg.ProductID, price, ts); err != nil {
			f.logger.Warn("price cache write failed",
				slog.String("product", msg.ProductID),
				slog.String("error", err.Error()),
			)
		}

	case "error":
		f.logger.Warn("coinbase ws error message", slog.String("message", msg.Message))
	}
}
