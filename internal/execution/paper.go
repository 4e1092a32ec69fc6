package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"copy-systemv1/internal/model"
)

// PaperBroker simulates the brokerage adapter without real broker calls.
// Useful for staging runs and tests: orders always fill at the seeded price
// plus simulated slippage, and holdings/activities reflect the fills.
type PaperBroker struct {
	mu       sync.RWMutex
	orderSeq int64

	// prices maps symbol → current simulated price in cents.
	prices map[string]int64

	// holdings and fills are keyed by authorization id.
	holdings map[string][]model.Holding
	fills    map[string][]model.Fill

	// Simulation parameters
	slippageBps int64 // basis points of slippage (e.g., 5 = 0.05%)
}

// NewPaperBroker creates a paper brokerage.
// slippageBps controls simulated slippage in basis points.
func NewPaperBroker(slippageBps int64) *PaperBroker {
	return &PaperBroker{
		prices:      make(map[string]int64),
		holdings:    make(map[string][]model.Holding),
		fills:       make(map[string][]model.Fill),
		slippageBps: slippageBps,
	}
}

// SetPrice seeds the simulated price for a symbol, in cents.
func (p *PaperBroker) SetPrice(symbol string, price int64) {
	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
}

// SeedHoldings installs a starting holdings snapshot for an authorization.
func (p *PaperBroker) SeedHoldings(authorizationID string, holdings []model.Holding) {
	p.mu.Lock()
	p.holdings[authorizationID] = holdings
	p.mu.Unlock()
}

// PlaceOrder simulates a fill at the seeded price with slippage applied
// against the taker.
func (p *PaperBroker) PlaceOrder(ctx context.Context, authorizationID, accountNumber, symbol string, side model.Side, qty int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok {
		return "", fmt.Errorf("paper: no price for symbol %s", symbol)
	}

	slippage := int64(0)
	if p.slippageBps > 0 {
		slippage = price * p.slippageBps / 10000
		if side == model.SideBuy {
			price += slippage // buy higher
		} else {
			price -= slippage // sell lower
		}
	}

	p.orderSeq++
	orderID := fmt.Sprintf("PAPER-%d", p.orderSeq)

	p.fills[authorizationID] = append(p.fills[authorizationID], model.Fill{
		Symbol:   symbol,
		Side:     side,
		Qty:      qty,
		Price:    price,
		FilledAt: time.Now(),
	})
	p.applyFill(authorizationID, symbol, side, qty, price)

	log.Printf("[paper] %s %s qty=%d price=%d (slip=%d) order=%s account=%s",
		side, symbol, qty, price, slippage, orderID, accountNumber)
	return orderID, nil
}

// GetHoldings returns the simulated holdings snapshot.
func (p *PaperBroker) GetHoldings(ctx context.Context, authorizationID string) ([]model.Holding, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]model.Holding, len(p.holdings[authorizationID]))
	copy(cp, p.holdings[authorizationID])
	return cp, nil
}

// GetActivities returns simulated fills at or after since, oldest first.
func (p *PaperBroker) GetActivities(ctx context.Context, authorizationID string, since time.Time) ([]model.Fill, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []model.Fill
	for _, f := range p.fills[authorizationID] {
		if !f.FilledAt.Before(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

// applyFill mutates the holdings snapshot for a fill. Caller holds p.mu.
func (p *PaperBroker) applyFill(authorizationID, symbol string, side model.Side, qty, price int64) {
	hs := p.holdings[authorizationID]
	idx := -1
	for i := range hs {
		if hs[i].Symbol == symbol {
			idx = i
			break
		}
	}

	delta := qty
	if side == model.SideSell {
		delta = -qty
	}

	if idx < 0 {
		if delta > 0 {
			hs = append(hs, model.Holding{Symbol: symbol, Qty: delta, MarketValue: delta * price})
		}
	} else {
		hs[idx].Qty += delta
		hs[idx].MarketValue = hs[idx].Qty * price
		if hs[idx].Qty <= 0 {
			hs = append(hs[:idx], hs[idx+1:]...)
		}
	}
	p.holdings[authorizationID] = hs
}
