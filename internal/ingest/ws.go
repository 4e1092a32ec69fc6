// Package ingest connects to the leader trade feed over WebSocket and pushes
// validated LeaderTradeEvent values into the replication pipeline.
//
// The expected JSON message format on the wire is identical to
// model.LeaderTradeEvent:
//
//	{"trade_id":"t-1","leader_id":"leader-1","broker_connection_id":"c-1",
//	 "account_number":"ACC-1","symbol":"AAPL","side":"BUY","qty":100,
//	 "fill_price":20000,"filled_at":"..."}
package ingest

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"copy-systemv1/internal/model"
)

// Config holds configuration for the trade feed ingest.
type Config struct {
	// URL of the trade feed WebSocket server, e.g. "ws://localhost:9001/ws"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Ingest connects to a plain-JSON WebSocket trade feed and pushes
// model.LeaderTradeEvent values into tradeCh.
type Ingest struct {
	cfg Config

	// Optional hooks for metrics wiring.
	OnReconnect func()
	OnInvalid   func()
}

// New creates a new Ingest. Returns an error if the URL is unparseable.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	return &Ingest{cfg: cfg}, nil
}

// Start connects to the trade feed and streams events into tradeCh.
// Blocks until ctx is cancelled. Reconnects automatically on disconnect.
func (ing *Ingest) Start(ctx context.Context, tradeCh chan<- model.LeaderTradeEvent) error {
	delay := ing.cfg.ReconnectDelay

	for {
		// Check context before each attempt
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := ing.runOnce(ctx, tradeCh)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}

		log.Printf("[ingest] disconnected (%v), reconnecting in %s...", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		// Exponential backoff
		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or ctx cancel.
func (ing *Ingest) runOnce(ctx context.Context, tradeCh chan<- model.LeaderTradeEvent) error {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[ingest] connected to %s", ing.cfg.URL)

	// Async context watcher — closes the connection when ctx is cancelled.
	// done releases the watcher when this connection ends, so reconnect
	// cycles don't accumulate one goroutine per attempt.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			// Check if it's a context cancellation
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		var ev model.LeaderTradeEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("[ingest] parse error: %v (raw: %s)", err, raw)
			if ing.OnInvalid != nil {
				ing.OnInvalid()
			}
			continue
		}

		if err := ev.Validate(); err != nil {
			log.Printf("[ingest] skipping invalid trade %q: %v", ev.TradeID, err)
			if ing.OnInvalid != nil {
				ing.OnInvalid()
			}
			continue
		}

		select {
		case tradeCh <- ev:
		default:
			log.Println("[ingest] tradeCh full, dropping trade")
		}
	}
}
