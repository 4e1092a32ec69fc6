package sizing

import (
	"context"
	"testing"
	"time"

	"copy-systemv1/internal/model"
)

// roundTripHistory builds chronological BUY→SELL pairs from (entry, exit)
// price tuples.
func roundTripHistory(pairs [][2]int64) *fakeHistory {
	h := &fakeHistory{}
	base := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	for i, pr := range pairs {
		h.trades = append(h.trades,
			model.LeaderTradeEvent{
				TradeID: "b", LeaderID: "leader-1", Symbol: "AAPL",
				Side: model.SideBuy, Qty: 1, FillPrice: pr[0],
				FilledAt: base.Add(time.Duration(2*i) * time.Hour),
			},
			model.LeaderTradeEvent{
				TradeID: "s", LeaderID: "leader-1", Symbol: "AAPL",
				Side: model.SideSell, Qty: 1, FillPrice: pr[1],
				FilledAt: base.Add(time.Duration(2*i+1) * time.Hour),
			},
		)
	}
	return h
}

func kellyInputs() Inputs {
	return Inputs{LeaderID: "leader-1", Symbol: "AAPL", ReplicationCount: 150}
}

func TestKelly_InRange(t *testing.T) {
	// 6 wins at +5%, 4 losses at −6%:
	// p=0.6, q=0.4, b=0.05/0.06 → f=(b·p−q)/b ≈ 0.12
	pairs := [][2]int64{
		{10000, 10500}, {10000, 10500}, {10000, 10500},
		{10000, 10500}, {10000, 10500}, {10000, 10500},
		{10000, 9400}, {10000, 9400}, {10000, 9400}, {10000, 9400},
	}
	e := newTestEngine(roundTripHistory(pairs), &fakeAccounts{})

	f, strat := e.Allocation(context.Background(), kellyInputs())
	if strat != StrategyKelly {
		t.Fatalf("expected KELLY, got %s", strat)
	}
	if f < 0.01 || f > 0.20 {
		t.Fatalf("kelly fraction %v outside [0.01, 0.20]", f)
	}
	if !almostEqual(f, 0.12) {
		t.Errorf("expected 0.12, got %v", f)
	}
}

func TestKelly_ClampedToCeiling(t *testing.T) {
	// 3 wins at +10%, 2 losses at −5%: raw f = 0.4 → clamp to 0.20
	pairs := [][2]int64{
		{10000, 11000}, {10000, 11000}, {10000, 11000},
		{10000, 9500}, {10000, 9500},
	}
	e := newTestEngine(roundTripHistory(pairs), &fakeAccounts{})

	f, _ := e.Allocation(context.Background(), kellyInputs())
	if !almostEqual(f, 0.20) {
		t.Errorf("expected ceiling 0.20, got %v", f)
	}
}

func TestKelly_ClampedToFloor(t *testing.T) {
	// 2 wins at +5%, 3 losses at −5%: raw f negative → clamp to 0.01
	pairs := [][2]int64{
		{10000, 10500}, {10000, 10500},
		{10000, 9500}, {10000, 9500}, {10000, 9500},
	}
	e := newTestEngine(roundTripHistory(pairs), &fakeAccounts{})

	f, _ := e.Allocation(context.Background(), kellyInputs())
	if !almostEqual(f, 0.01) {
		t.Errorf("expected floor 0.01, got %v", f)
	}
}

func TestKelly_NoLossesRecorded(t *testing.T) {
	pairs := [][2]int64{
		{10000, 11000}, {10000, 11000}, {10000, 11000},
		{10000, 11000}, {10000, 11000},
	}
	e := newTestEngine(roundTripHistory(pairs), &fakeAccounts{})

	f, _ := e.Allocation(context.Background(), kellyInputs())
	if !almostEqual(f, 0.05) {
		t.Errorf("expected default 0.05 with no losses, got %v", f)
	}
}

func TestKelly_TooFewTrades(t *testing.T) {
	pairs := [][2]int64{{10000, 11000}, {10000, 9500}} // 4 trades < 10
	e := newTestEngine(roundTripHistory(pairs), &fakeAccounts{})

	f, _ := e.Allocation(context.Background(), kellyInputs())
	if !almostEqual(f, 0.05) {
		t.Errorf("expected default 0.05 with <10 trades, got %v", f)
	}
}

func TestRoundTripReturns_IgnoresUnpairedSells(t *testing.T) {
	trades := []model.LeaderTradeEvent{
		{Side: model.SideSell, FillPrice: 10000}, // no preceding buy
		{Side: model.SideBuy, FillPrice: 10000},
		{Side: model.SideSell, FillPrice: 10500},
	}
	wins, losses := roundTripReturns(trades)
	if len(wins) != 1 || len(losses) != 0 {
		t.Errorf("expected 1 win, 0 losses; got %d, %d", len(wins), len(losses))
	}
}
