// Package sizing computes the target allocation fraction of a follower's NAV
// for one replica order.
//
// The strategy is not user-configurable per call: it is a pure function of
// the follower's historical replication count (experience tier). Every
// strategy fails open to a safe default so the pipeline always has a usable
// fraction — sizing never returns an error to the dispatcher.
package sizing

import (
	"context"
	"log"
	"time"

	"copy-systemv1/internal/model"
)

// Strategy identifies a position sizing algorithm.
type Strategy string

const (
	StrategyPercentage Strategy = "PERCENTAGE"
	StrategyMomentum   Strategy = "MOMENTUM"
	StrategyRiskParity Strategy = "RISK_PARITY"
	StrategyKelly      Strategy = "KELLY"
)

// Experience tier thresholds (replicated trade counts).
const (
	tierMomentum   = 10
	tierRiskParity = 50
	tierKelly      = 100
)

// defaultFraction is the fallback allocation when a strategy lacks the data
// it needs.
const defaultFraction = 0.05

// StrategyFor resolves the sizing strategy for a follower's replication
// count. Pure; the highest tier that applies wins.
func StrategyFor(replications int64) Strategy {
	switch {
	case replications >= tierKelly:
		return StrategyKelly
	case replications >= tierRiskParity:
		return StrategyRiskParity
	case replications >= tierMomentum:
		return StrategyMomentum
	default:
		return StrategyPercentage
	}
}

// Inputs carries everything a sizing call needs.
type Inputs struct {
	FollowerID string
	LeaderID   string
	Symbol     string

	// TradeNotional is the leader trade's value in cents.
	TradeNotional int64

	// ReplicationCount is the follower's historical replication volume.
	ReplicationCount int64

	// DefaultFraction is leader-trade-notional / leader-NAV, the fallback
	// the lowest tier scales down.
	DefaultFraction float64
}

// Engine resolves a strategy per follower and runs it against leader trade
// history and follower holdings.
type Engine struct {
	history  model.TradeHistory
	accounts model.AccountReader
	now      func() time.Time
}

// NewEngine creates a sizing engine.
func NewEngine(history model.TradeHistory, accounts model.AccountReader) *Engine {
	return &Engine{
		history:  history,
		accounts: accounts,
		now:      time.Now,
	}
}

// Allocation returns the target fraction of follower NAV and the strategy
// that produced it. Never fails: data problems degrade to safe defaults.
func (e *Engine) Allocation(ctx context.Context, in Inputs) (float64, Strategy) {
	strat := StrategyFor(in.ReplicationCount)

	switch strat {
	case StrategyKelly:
		return e.kelly(ctx, in), strat
	case StrategyRiskParity:
		return e.riskParity(ctx, in), strat
	case StrategyMomentum:
		return e.momentum(ctx, in), strat
	default:
		return percentageFraction(in.DefaultFraction), strat
	}
}

// percentageFraction is the lowest-tier sizing: the leader's own fraction
// scaled down and capped at 5%.
func percentageFraction(def float64) float64 {
	f := def * 0.8
	if f > 0.05 {
		f = 0.05
	}
	if f < 0 {
		f = 0
	}
	return f
}

// riskParity approximates equal risk contribution across the follower's
// positions: 1/(n+1) with n existing positions, 10% for a new portfolio.
func (e *Engine) riskParity(ctx context.Context, in Inputs) float64 {
	positions, err := e.accounts.Positions(ctx, in.FollowerID)
	if err != nil {
		log.Printf("[sizing] risk parity: positions lookup failed for %s: %v (using default)", in.FollowerID, err)
		return defaultFraction
	}
	if len(positions) == 0 {
		return 0.10 // new-portfolio default
	}
	return 1.0 / float64(len(positions)+1)
}
