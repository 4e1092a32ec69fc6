// cmd/tradeserver — Demo WebSocket leader trade feed.
// Broadcasts simulated leader trades for testing copyengine in staging mode
// without a real brokerage feed.
//
// Trade JSON shape is identical to model.LeaderTradeEvent:
//
//	{"trade_id":"sim-1","leader_id":"leader-1","broker_connection_id":"conn-1",
//	 "account_number":"ACC-1","symbol":"AAPL","side":"BUY","qty":100,
//	 "fill_price":20000,"filled_at":"..."}
//
// Prices are in cents, same as the live feed.
//
// Config (env vars):
//
//	TRADE_SERVER_ADDR  — listen address (default: ":9001")
//	TRADE_LEADERS      — comma-separated leader IDs (default: "leader-1")
//	TRADE_SYMBOLS      — comma-separated symbols (default: "AAPL,MSFT,TSLA")
//	TRADE_INTERVAL_MS  — broadcast interval milliseconds (default: "2000")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"copy-systemv1/internal/model"
)

// symbolState holds per-symbol simulation state.
type symbolState struct {
	Symbol string
	Price  int64 // current simulated price in cents
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client — drop trade
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tradeserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tradeserver] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tradeserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Write pump: sends trade JSON to this client.
		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Trade generator ──────────────────────────────────────────────────────────

// walkPrice applies a small random walk (±0.5%) to simulate price movement.
func walkPrice(price int64) int64 {
	pct := (rand.Float64() - 0.5) / 100.0
	delta := int64(float64(price) * pct)
	newPrice := price + delta
	if newPrice < 100 { // floor at $1.00
		newPrice = 100
	}
	return newPrice
}

func runGenerator(h *hub, leaders []string, symbols []*symbolState, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	seq := 0
	for range ticker.C {
		sym := symbols[rand.Intn(len(symbols))]
		sym.Price = walkPrice(sym.Price)
		leader := leaders[rand.Intn(len(leaders))]

		side := model.SideBuy
		if rand.Intn(2) == 1 {
			side = model.SideSell
		}

		seq++
		ev := model.LeaderTradeEvent{
			TradeID:            fmt.Sprintf("sim-%d", seq),
			LeaderID:           leader,
			BrokerConnectionID: "conn-" + leader,
			AccountNumber:      "ACC-" + leader,
			Symbol:             sym.Symbol,
			Side:               side,
			Qty:                int64(rand.Intn(200) + 1),
			FillPrice:          sym.Price,
			FilledAt:           time.Now().UTC(),
		}
		b, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		h.broadcast(b)
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tradeserver] starting demo trade feed...")

	addr := envOrDefault("TRADE_SERVER_ADDR", ":9001")
	leaders := splitList(envOrDefault("TRADE_LEADERS", "leader-1"))
	symbolNames := splitList(envOrDefault("TRADE_SYMBOLS", "AAPL,MSFT,TSLA"))
	intervalMs := envIntOrDefault("TRADE_INTERVAL_MS", 2000)

	if len(leaders) == 0 || len(symbolNames) == 0 {
		log.Fatalf("[tradeserver] need at least one leader and one symbol")
	}

	// Plausible starting prices in cents.
	defaultPrices := map[string]int64{
		"AAPL": 20000, // $200.00
		"MSFT": 42000, // $420.00
		"TSLA": 25000, // $250.00
	}
	symbols := make([]*symbolState, 0, len(symbolNames))
	for _, name := range symbolNames {
		price := defaultPrices[name]
		if price == 0 {
			price = 10000 // default $100.00
		}
		symbols = append(symbols, &symbolState{Symbol: name, Price: price})
	}
	log.Printf("[tradeserver] leaders: %v, symbols: %v, interval: %dms", leaders, symbolNames, intervalMs)

	h := newHub()
	go runGenerator(h, leaders, symbols, intervalMs)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tradeserver"}`)
	})

	log.Printf("[tradeserver] listening on %s (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[tradeserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
