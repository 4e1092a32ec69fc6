package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"copy-systemv1/internal/model"
)

// feedServer serves each payload once to the first client, then idles.
func feedServer(t *testing.T, payloads []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, p := range payloads {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestIngestDeliversValidTrades(t *testing.T) {
	srv := feedServer(t, []string{
		`{"trade_id":"t-1","leader_id":"l-1","broker_connection_id":"c-1",` +
			`"account_number":"A-1","symbol":"AAPL","side":"BUY","qty":100,` +
			`"fill_price":20000,"filled_at":"2026-03-02T14:30:00Z"}`,
	})
	defer srv.Close()

	ing, err := New(Config{URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tradeCh := make(chan model.LeaderTradeEvent, 10)
	go ing.Start(ctx, tradeCh)

	select {
	case ev := <-tradeCh:
		if ev.TradeID != "t-1" || ev.Symbol != "AAPL" || ev.Qty != 100 {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trade")
	}
}

func TestIngestSkipsMalformedAndInvalid(t *testing.T) {
	srv := feedServer(t, []string{
		`not json at all`,
		`{"trade_id":"t-bad","leader_id":"l-1","symbol":"AAPL","side":"HOLD","qty":1,"fill_price":1}`,
		`{"trade_id":"t-ok","leader_id":"l-1","broker_connection_id":"c-1",` +
			`"account_number":"A-1","symbol":"AAPL","side":"SELL","qty":5,` +
			`"fill_price":10000,"filled_at":"2026-03-02T14:30:00Z"}`,
	})
	defer srv.Close()

	ing, err := New(Config{URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	invalid := 0
	ing.OnInvalid = func() { invalid++ }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tradeCh := make(chan model.LeaderTradeEvent, 10)
	go ing.Start(ctx, tradeCh)

	select {
	case ev := <-tradeCh:
		if ev.TradeID != "t-ok" {
			t.Errorf("expected only t-ok to pass, got %s", ev.TradeID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for valid trade")
	}
	if invalid != 2 {
		t.Errorf("invalid count = %d, want 2", invalid)
	}
}

func TestIngestReconnectsDoNotLeakGoroutines(t *testing.T) {
	// Drop every connection immediately to force rapid reconnect cycles.
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	ing, err := New(Config{
		URL:               wsURL(srv),
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reconnects := make(chan struct{}, 64)
	ing.OnReconnect = func() { reconnects <- struct{}{} }

	baseline := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	tradeCh := make(chan model.LeaderTradeEvent, 1)
	go ing.Start(ctx, tradeCh)

	for i := 0; i < 10; i++ {
		select {
		case <-reconnects:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for reconnect %d", i+1)
		}
	}
	cancel()

	// Every per-connection watcher must exit once its connection ends.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= baseline+2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("goroutines leaked across reconnects: baseline %d, now %d", baseline, runtime.NumGoroutine())
}

func TestIngestRejectsUnparseableURL(t *testing.T) {
	if _, err := New(Config{URL: "://bad"}); err == nil {
		t.Fatal("expected error for unparseable URL")
	}
}
