package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"copy-systemv1/internal/model"
)

type fakeBroker struct {
	holdings  []model.Holding
	fills     []model.Fill
	err       error
	callCount int
	lastSince time.Time
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, authorizationID, accountNumber, symbol string, side model.Side, qty int64) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeBroker) GetHoldings(ctx context.Context, authorizationID string) ([]model.Holding, error) {
	f.callCount++
	if f.err != nil {
		return nil, f.err
	}
	return f.holdings, nil
}

func (f *fakeBroker) GetActivities(ctx context.Context, authorizationID string, since time.Time) ([]model.Fill, error) {
	f.lastSince = since
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Fill
	for _, fill := range f.fills {
		if !fill.FilledAt.Before(since) {
			out = append(out, fill)
		}
	}
	return out, nil
}

func newTestService(broker *fakeBroker) *Service {
	s := NewService(broker)
	s.Register(model.BrokerConnection{
		ID:              "conn-1",
		AccountID:       "acct-1",
		AccountNumber:   "ACC-1",
		AuthorizationID: "auth-1",
		Active:          true,
	})
	return s
}

func TestNAVSumsHoldings(t *testing.T) {
	broker := &fakeBroker{holdings: []model.Holding{
		{Symbol: "AAPL", Qty: 10, MarketValue: 200_000},
		{Symbol: "MSFT", Qty: 5, MarketValue: 150_000},
	}}
	s := newTestService(broker)

	nav, err := s.NAV(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("NAV: %v", err)
	}
	if nav != 350_000 {
		t.Errorf("nav = %d, want 350000", nav)
	}
}

func TestNAVUnknownAccount(t *testing.T) {
	s := newTestService(&fakeBroker{})
	_, err := s.NAV(context.Background(), "nobody")
	if !errors.Is(err, model.ErrUnknownAccount) {
		t.Fatalf("err = %v, want ErrUnknownAccount", err)
	}
}

func TestHoldingsCacheAvoidsRepeatFetches(t *testing.T) {
	broker := &fakeBroker{holdings: []model.Holding{{Symbol: "AAPL", Qty: 1, MarketValue: 100}}}
	s := newTestService(broker)

	for i := 0; i < 5; i++ {
		if _, err := s.NAV(context.Background(), "acct-1"); err != nil {
			t.Fatalf("NAV: %v", err)
		}
	}
	if broker.callCount != 1 {
		t.Errorf("broker called %d times, want 1 (cached)", broker.callCount)
	}
}

func TestHoldingsCacheExpiry(t *testing.T) {
	broker := &fakeBroker{holdings: []model.Holding{{Symbol: "AAPL", Qty: 1, MarketValue: 100}}}
	s := newTestService(broker)

	now := time.Now()
	s.now = func() time.Time { return now }
	if _, err := s.NAV(context.Background(), "acct-1"); err != nil {
		t.Fatalf("NAV: %v", err)
	}

	now = now.Add(defaultCacheTTL + time.Second)
	if _, err := s.NAV(context.Background(), "acct-1"); err != nil {
		t.Fatalf("NAV after expiry: %v", err)
	}
	if broker.callCount != 2 {
		t.Errorf("broker called %d times, want 2 after TTL expiry", broker.callCount)
	}
}

func TestHoldingsServesStaleOnRefreshFailure(t *testing.T) {
	broker := &fakeBroker{holdings: []model.Holding{{Symbol: "AAPL", Qty: 1, MarketValue: 100}}}
	s := newTestService(broker)

	now := time.Now()
	s.now = func() time.Time { return now }
	if _, err := s.NAV(context.Background(), "acct-1"); err != nil {
		t.Fatalf("NAV: %v", err)
	}

	now = now.Add(defaultCacheTTL + time.Second)
	broker.err = errors.New("brokerage timeout")
	nav, err := s.NAV(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("NAV should serve stale snapshot, got error: %v", err)
	}
	if nav != 100 {
		t.Errorf("stale nav = %d, want 100", nav)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	broker := &fakeBroker{holdings: []model.Holding{{Symbol: "AAPL", Qty: 1, MarketValue: 100}}}
	s := newTestService(broker)

	if _, err := s.NAV(context.Background(), "acct-1"); err != nil {
		t.Fatalf("NAV: %v", err)
	}
	s.Invalidate("acct-1")
	if _, err := s.NAV(context.Background(), "acct-1"); err != nil {
		t.Fatalf("NAV: %v", err)
	}
	if broker.callCount != 2 {
		t.Errorf("broker called %d times, want 2 after invalidation", broker.callCount)
	}
}

func TestActiveConnectionInactive(t *testing.T) {
	s := NewService(&fakeBroker{})
	s.Register(model.BrokerConnection{ID: "conn-2", AccountID: "acct-2", Active: false})

	conn, err := s.ActiveConnection(context.Background(), "acct-2")
	if err != nil {
		t.Fatalf("ActiveConnection: %v", err)
	}
	if conn != nil {
		t.Errorf("expected nil connection for inactive link, got %+v", conn)
	}
}

func TestRealizedPnLSince(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	broker := &fakeBroker{fills: []model.Fill{
		// Buy 10 @ $100, buy 10 @ $120 → avg $110. Sell 5 @ $130 → +$100.
		{Symbol: "AAPL", Side: model.SideBuy, Qty: 10, Price: 10_000, FilledAt: base},
		{Symbol: "AAPL", Side: model.SideBuy, Qty: 10, Price: 12_000, FilledAt: base.Add(time.Hour)},
		{Symbol: "AAPL", Side: model.SideSell, Qty: 5, Price: 13_000, FilledAt: base.Add(2 * time.Hour)},
	}}
	s := newTestService(broker)

	pnl, err := s.RealizedPnLSince(context.Background(), "acct-1", base)
	if err != nil {
		t.Fatalf("RealizedPnLSince: %v", err)
	}
	if pnl != 10_000 { // (13000 − 11000) × 5
		t.Errorf("realized pnl = %d, want 10000", pnl)
	}
}

func TestRealizedPnLCountsOvernightPositions(t *testing.T) {
	midnight := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	broker := &fakeBroker{fills: []model.Fill{
		// Bought yesterday at $200, dumped today at $100: the whole
		// −$10,000 loss realizes inside today's window.
		{Symbol: "AAPL", Side: model.SideBuy, Qty: 100, Price: 20_000, FilledAt: midnight.Add(-10 * time.Hour)},
		{Symbol: "AAPL", Side: model.SideSell, Qty: 100, Price: 10_000, FilledAt: midnight.Add(10 * time.Hour)},
	}}
	s := newTestService(broker)

	pnl, err := s.RealizedPnLSince(context.Background(), "acct-1", midnight)
	if err != nil {
		t.Fatalf("RealizedPnLSince: %v", err)
	}
	if pnl != -1_000_000 { // (10000 − 20000) × 100
		t.Errorf("realized pnl = %d, want -1000000", pnl)
	}
	if !broker.lastSince.Before(midnight) {
		t.Errorf("activity window must open before the P&L window to cover prior-day basis, got %v", broker.lastSince)
	}
}

func TestRealizedPnLExcludesPriorWindowSells(t *testing.T) {
	midnight := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	broker := &fakeBroker{fills: []model.Fill{
		// Yesterday's round trip realized −$500; it must not leak into today.
		{Symbol: "MSFT", Side: model.SideBuy, Qty: 10, Price: 40_000, FilledAt: midnight.Add(-20 * time.Hour)},
		{Symbol: "MSFT", Side: model.SideSell, Qty: 10, Price: 35_000, FilledAt: midnight.Add(-18 * time.Hour)},
		// Today: flat.
	}}
	s := newTestService(broker)

	pnl, err := s.RealizedPnLSince(context.Background(), "acct-1", midnight)
	if err != nil {
		t.Fatalf("RealizedPnLSince: %v", err)
	}
	if pnl != 0 {
		t.Errorf("prior-day sell leaked into today's window: pnl = %d, want 0", pnl)
	}
}

func TestRealizedPnLSellWithoutPosition(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	broker := &fakeBroker{fills: []model.Fill{
		{Symbol: "TSLA", Side: model.SideSell, Qty: 5, Price: 13_000, FilledAt: base},
	}}
	s := newTestService(broker)

	pnl, err := s.RealizedPnLSince(context.Background(), "acct-1", base)
	if err != nil {
		t.Fatalf("RealizedPnLSince: %v", err)
	}
	if pnl != 0 {
		t.Errorf("sell with no open lot produced pnl %d, want 0", pnl)
	}
}
