package sizing

import (
	"context"
	"log"
)

// Momentum sizing parameters.
const (
	momentumLookbackDays = 30
	momentumMaxTrades    = 20
	momentumMinTrades    = 5
)

// momentum sizes off simple price momentum in the leader's recent trades for
// the symbol: strong up-moves get a larger base allocation, strong down-moves
// a smaller one.
func (e *Engine) momentum(ctx context.Context, in Inputs) float64 {
	since := e.now().AddDate(0, 0, -momentumLookbackDays)
	trades, err := e.history.LeaderTrades(ctx, in.LeaderID, in.Symbol, since, momentumMaxTrades)
	if err != nil {
		log.Printf("[sizing] momentum: history lookup failed for %s/%s: %v (using default)", in.LeaderID, in.Symbol, err)
		return defaultFraction
	}
	if len(trades) < momentumMinTrades {
		return defaultFraction
	}

	oldest := float64(trades[0].FillPrice)
	newest := float64(trades[len(trades)-1].FillPrice)
	if oldest <= 0 {
		return defaultFraction
	}
	momentum := (newest - oldest) / oldest

	switch {
	case momentum > 0.10:
		return 0.08
	case momentum > 0.05:
		return 0.06
	case momentum < -0.10:
		return 0.02
	case momentum < -0.05:
		return 0.03
	default:
		return defaultFraction
	}
}
