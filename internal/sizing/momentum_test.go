package sizing

import (
	"context"
	"errors"
	"testing"
	"time"

	"copy-systemv1/internal/model"
)

// historyWithPrices builds ascending-time BUY trades walking from first to
// last fill price.
func historyWithPrices(prices ...int64) *fakeHistory {
	h := &fakeHistory{}
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, p := range prices {
		h.trades = append(h.trades, model.LeaderTradeEvent{
			TradeID:   "t" + string(rune('a'+i)),
			LeaderID:  "leader-1",
			Symbol:    "AAPL",
			Side:      model.SideBuy,
			Qty:       1,
			FillPrice: p,
			FilledAt:  base.Add(time.Duration(i) * time.Hour),
		})
	}
	return h
}

func TestMomentum_Mapping(t *testing.T) {
	cases := []struct {
		name   string
		prices []int64
		want   float64
	}{
		{"strong up >10%", []int64{10000, 10100, 10200, 10500, 11500}, 0.08},
		{"mild up >5%", []int64{10000, 10100, 10200, 10300, 10700}, 0.06},
		{"flat", []int64{10000, 10050, 9990, 10020, 10010}, 0.05},
		{"mild down <-5%", []int64{10000, 9900, 9800, 9500, 9300}, 0.03},
		{"strong down <-10%", []int64{10000, 9700, 9400, 9100, 8800}, 0.02},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := newTestEngine(historyWithPrices(c.prices...), &fakeAccounts{})
			f, strat := e.Allocation(context.Background(), Inputs{
				LeaderID:         "leader-1",
				Symbol:           "AAPL",
				ReplicationCount: 25,
			})
			if strat != StrategyMomentum {
				t.Fatalf("expected MOMENTUM, got %s", strat)
			}
			if !almostEqual(f, c.want) {
				t.Errorf("expected %v, got %v", c.want, f)
			}
		})
	}
}

func TestMomentum_TooFewTrades(t *testing.T) {
	e := newTestEngine(historyWithPrices(10000, 12000), &fakeAccounts{})

	f, _ := e.Allocation(context.Background(), Inputs{ReplicationCount: 25})
	if !almostEqual(f, 0.05) {
		t.Errorf("expected default 0.05 with <5 trades, got %v", f)
	}
}

func TestMomentum_FailsOpenOnHistoryError(t *testing.T) {
	e := newTestEngine(&fakeHistory{err: errors.New("db closed")}, &fakeAccounts{})

	f, _ := e.Allocation(context.Background(), Inputs{ReplicationCount: 25})
	if !almostEqual(f, 0.05) {
		t.Errorf("expected default 0.05 on error, got %v", f)
	}
}
