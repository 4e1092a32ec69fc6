package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"copy-systemv1/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "orders.db")})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func queuedOrder(tradeID, followerID string) *model.CopyOrder {
	return &model.CopyOrder{
		LeaderTradeID: tradeID,
		FollowerID:    followerID,
		Symbol:        "AAPL",
		Side:          model.SideBuy,
		Qty:           4,
	}
}

func TestCreateQueuedAssignsID(t *testing.T) {
	s := newTestStore(t)
	o := queuedOrder("t1", "f1")

	created, err := s.CreateQueued(context.Background(), o)
	if err != nil {
		t.Fatalf("CreateQueued: %v", err)
	}
	if !created {
		t.Fatal("expected created=true for first insert")
	}
	if o.ID == 0 {
		t.Error("expected populated ID")
	}
	if o.Status != model.StatusQueued {
		t.Errorf("status = %s, want QUEUED", o.Status)
	}
}

func TestCreateQueuedDuplicateIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := queuedOrder("t1", "f1")
	if _, err := s.CreateQueued(ctx, first); err != nil {
		t.Fatalf("CreateQueued: %v", err)
	}
	dup := queuedOrder("t1", "f1")
	dup.Qty = 99
	created, err := s.CreateQueued(ctx, dup)
	if err != nil {
		t.Fatalf("CreateQueued duplicate: %v", err)
	}
	if created {
		t.Fatal("duplicate (trade, follower) must not create a second order")
	}

	// Same trade for a different follower is a separate order.
	created, err = s.CreateQueued(ctx, queuedOrder("t1", "f2"))
	if err != nil || !created {
		t.Fatalf("expected new order for different follower, created=%v err=%v", created, err)
	}
}

func TestMarkPlacedTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := queuedOrder("t1", "f1")
	s.CreateQueued(ctx, o)

	fill := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	if err := s.MarkPlaced(ctx, o.ID, "BRK-42", fill); err != nil {
		t.Fatalf("MarkPlaced: %v", err)
	}

	orders, err := s.OrdersForFollower(ctx, "f1", 10)
	if err != nil {
		t.Fatalf("OrdersForFollower: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("got %d orders, want 1", len(orders))
	}
	got := orders[0]
	if got.Status != model.StatusPlaced {
		t.Errorf("status = %s, want PLACED", got.Status)
	}
	if got.BrokerOrderID != "BRK-42" {
		t.Errorf("broker order id = %q, want BRK-42", got.BrokerOrderID)
	}
	if got.FilledAt == nil || !got.FilledAt.Equal(fill) {
		t.Errorf("filled_at = %v, want %v", got.FilledAt, fill)
	}
}

func TestMarkPlacedRejectsTerminalOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := queuedOrder("t1", "f1")
	s.CreateQueued(ctx, o)
	if err := s.MarkFailed(ctx, o.ID, "broker rejected"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	if err := s.MarkPlaced(ctx, o.ID, "BRK-1", time.Now()); err == nil {
		t.Fatal("expected error transitioning FAILED order to PLACED")
	}
}

func TestCancelOnlyQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := queuedOrder("t1", "f1")
	s.CreateQueued(ctx, o)
	ok, err := s.Cancel(ctx, o.ID)
	if err != nil || !ok {
		t.Fatalf("Cancel queued: ok=%v err=%v", ok, err)
	}

	o2 := queuedOrder("t2", "f1")
	s.CreateQueued(ctx, o2)
	s.MarkPlaced(ctx, o2.ID, "BRK-1", time.Now())
	ok, err = s.Cancel(ctx, o2.ID)
	if err != nil {
		t.Fatalf("Cancel placed: %v", err)
	}
	if ok {
		t.Error("cancelling a PLACED order must report false")
	}
}

func TestCountReplicated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, tradeID := range []string{"t1", "t2", "t3"} {
		o := queuedOrder(tradeID, "f1")
		s.CreateQueued(ctx, o)
		if i < 2 {
			s.MarkPlaced(ctx, o.ID, "BRK", time.Now())
		} else {
			s.MarkFailed(ctx, o.ID, "rejected")
		}
	}

	count, err := s.CountReplicated(ctx, "f1")
	if err != nil {
		t.Fatalf("CountReplicated: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2 (FAILED excluded)", count)
	}
}

func TestLeaderTradesOldestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ev := model.LeaderTradeEvent{
			TradeID:            "t" + string(rune('1'+i)),
			LeaderID:           "leader-1",
			BrokerConnectionID: "conn-1",
			AccountNumber:      "ACC-1",
			Symbol:             "AAPL",
			Side:               model.SideBuy,
			Qty:                10,
			FillPrice:          int64(10_000 + i*100),
			FilledAt:           base.Add(time.Duration(i) * time.Hour),
		}
		if err := s.RecordLeaderTrade(ctx, ev); err != nil {
			t.Fatalf("RecordLeaderTrade: %v", err)
		}
	}

	trades, err := s.LeaderTrades(ctx, "leader-1", "AAPL", base, 3)
	if err != nil {
		t.Fatalf("LeaderTrades: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("got %d trades, want newest 3", len(trades))
	}
	// Newest three (t3, t4, t5) returned oldest first.
	if trades[0].TradeID != "t3" || trades[2].TradeID != "t5" {
		t.Errorf("order = [%s %s %s], want [t3 t4 t5]",
			trades[0].TradeID, trades[1].TradeID, trades[2].TradeID)
	}
}

func TestRecordLeaderTradeIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ev := model.LeaderTradeEvent{
		TradeID: "t1", LeaderID: "leader-1", BrokerConnectionID: "c1",
		AccountNumber: "A1", Symbol: "AAPL", Side: model.SideBuy,
		Qty: 10, FillPrice: 10_000, FilledAt: time.Now().UTC(),
	}
	for i := 0; i < 3; i++ {
		if err := s.RecordLeaderTrade(ctx, ev); err != nil {
			t.Fatalf("RecordLeaderTrade replay %d: %v", i, err)
		}
	}

	trades, err := s.LeaderTrades(ctx, "leader-1", "AAPL", time.Time{}, 0)
	if err != nil {
		t.Fatalf("LeaderTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Errorf("got %d trades, want 1 after replays", len(trades))
	}
}
