package sizing

import (
	"context"
	"log"

	"copy-systemv1/internal/model"
)

// Kelly sizing parameters.
const (
	kellyLookbackDays = 90
	kellyMinTrades    = 10
	kellyFloor        = 0.01
	kellyCeiling      = 0.20
)

// kelly sizes off the leader's recent round-trip record in the symbol using
// the Kelly criterion: f = (b·p − q)/b with b = avgWin/avgLoss, p = win rate,
// q = 1−p, clamped to [kellyFloor, kellyCeiling].
func (e *Engine) kelly(ctx context.Context, in Inputs) float64 {
	since := e.now().AddDate(0, 0, -kellyLookbackDays)
	trades, err := e.history.LeaderTrades(ctx, in.LeaderID, in.Symbol, since, 0)
	if err != nil {
		log.Printf("[sizing] kelly: history lookup failed for %s/%s: %v (using default)", in.LeaderID, in.Symbol, err)
		return defaultFraction
	}
	if len(trades) < kellyMinTrades {
		return defaultFraction
	}

	wins, losses := roundTripReturns(trades)
	if len(wins) == 0 || len(losses) == 0 {
		return defaultFraction
	}

	p := float64(len(wins)) / float64(len(wins)+len(losses))
	q := 1 - p
	avgWin := mean(wins)
	avgLoss := mean(losses)
	if avgLoss == 0 {
		return defaultFraction
	}

	b := avgWin / avgLoss
	f := (b*p - q) / b

	if f < kellyFloor {
		f = kellyFloor
	}
	if f > kellyCeiling {
		f = kellyCeiling
	}
	return f
}

// roundTripReturns pairs consecutive BUY→SELL trades into round trips and
// splits their fractional returns into wins and losses (losses as positive
// magnitudes). Trades must be in chronological order.
func roundTripReturns(trades []model.LeaderTradeEvent) (wins, losses []float64) {
	var entry float64
	for _, tr := range trades {
		switch tr.Side {
		case model.SideBuy:
			entry = float64(tr.FillPrice)
		case model.SideSell:
			if entry <= 0 {
				continue
			}
			ret := (float64(tr.FillPrice) - entry) / entry
			if ret > 0 {
				wins = append(wins, ret)
			} else if ret < 0 {
				losses = append(losses, -ret)
			}
			entry = 0
		}
	}
	return wins, losses
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
