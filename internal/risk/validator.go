// Package risk arbitrates proposed allocations against guardrails,
// concentration limits, and realized daily loss.
//
// The Validator is a pure decision function over snapshots supplied by the
// read-only account collaborator; it never writes state.
package risk

import (
	"context"
	"errors"
	"log"
	"time"

	"copy-systemv1/internal/copyclock"
	"copy-systemv1/internal/model"
)

// Limits defines the validator's hard thresholds.
type Limits struct {
	MaxSinglePosition      float64 `json:"max_single_position"`      // fraction of NAV per order
	MaxSymbolConcentration float64 `json:"max_symbol_concentration"` // fraction of NAV per symbol
	MaxDailyLossPct        float64 `json:"max_daily_loss_pct"`       // realized loss / NAV
}

// DefaultLimits returns the standard limits.
func DefaultLimits() Limits {
	return Limits{
		MaxSinglePosition:      0.25,
		MaxSymbolConcentration: 0.30,
		MaxDailyLossPct:        0.05,
	}
}

// Decision is the validator's output. AdjustedSize is the suggested shrunken
// fraction when a denial is recoverable; 0 means no adjustment is offered.
type Decision struct {
	Allowed      bool    `json:"allowed"`
	Reason       string  `json:"reason,omitempty"`
	AdjustedSize float64 `json:"adjusted_size,omitempty"`
}

func deny(reason string, adjusted float64) Decision {
	return Decision{Reason: reason, AdjustedSize: adjusted}
}

// Validator approves, denies, or shrinks proposed allocation fractions.
type Validator struct {
	accounts   model.AccountReader
	guardrails model.GuardrailReader
	limits     Limits
	loc        *time.Location
	now        func() time.Time
}

// NewValidator creates a Validator. loc is the local timezone whose midnight
// opens the daily-loss window.
func NewValidator(accounts model.AccountReader, guardrails model.GuardrailReader, limits Limits, loc *time.Location) *Validator {
	return &Validator{
		accounts:   accounts,
		guardrails: guardrails,
		limits:     limits,
		loc:        loc,
		now:        time.Now,
	}
}

// Validate runs the risk checks for one proposed allocation.
//
// The daily-loss check runs before the size caps: a follower past the daily
// loss limit is denied outright for any proposed fraction, with no adjusted
// size offered.
func (v *Validator) Validate(ctx context.Context, followerID, symbol string, proposed float64) Decision {
	nav, err := v.accounts.NAV(ctx, followerID)
	if err != nil {
		if errors.Is(err, model.ErrUnknownAccount) {
			return deny("unknown follower", 0)
		}
		return deny("account snapshot unavailable", 0)
	}

	// Daily loss cap — supersedes all size adjustments.
	midnight := copyclock.Midnight(v.now(), v.loc)
	pnl, err := v.accounts.RealizedPnLSince(ctx, followerID, midnight)
	if err != nil {
		// Snapshot failure does not block trading on its own.
		log.Printf("[risk] daily pnl lookup failed for %s: %v (treating as 0)", followerID, err)
		pnl = 0
	}
	if loss := -pnl; loss > 0 && nav > 0 {
		if float64(loss)/float64(nav) > v.limits.MaxDailyLossPct {
			return deny("daily loss limit exceeded", 0)
		}
	}

	// Hard single-position cap.
	if proposed > v.limits.MaxSinglePosition {
		return deny("exceeds maximum single-position allocation", v.limits.MaxSinglePosition)
	}

	// Follower-configured guardrails: most specific and global apply jointly.
	if railCap, ok, err := v.guardrailCap(ctx, followerID, symbol); err != nil {
		log.Printf("[risk] guardrail lookup failed for %s: %v (skipping)", followerID, err)
	} else if ok && proposed > railCap {
		return deny("exceeds configured guardrail", railCap)
	}

	// Symbol concentration cap.
	existing, err := v.symbolAllocation(ctx, followerID, symbol, nav)
	if err != nil {
		log.Printf("[risk] positions lookup failed for %s: %v (treating as 0)", followerID, err)
		existing = 0
	}
	if existing+proposed > v.limits.MaxSymbolConcentration {
		adjusted := v.limits.MaxSymbolConcentration - existing
		if adjusted <= 0 {
			return deny("would exceed symbol concentration limit", 0)
		}
		return deny("would exceed symbol concentration limit", adjusted)
	}

	return Decision{Allowed: true}
}

// guardrailCap returns the joint cap from the follower's guardrails: the
// minimum of the global cap and the symbol-specific cap, when either exists.
func (v *Validator) guardrailCap(ctx context.Context, followerID, symbol string) (float64, bool, error) {
	rails, err := v.guardrails.Guardrails(ctx, followerID)
	if err != nil {
		return 0, false, err
	}

	limit := 0.0
	found := false
	for _, g := range rails {
		if g.Symbol != symbol && g.Symbol != model.GuardrailGlobal {
			continue
		}
		if !found || g.MaxAllocationPct < limit {
			limit = g.MaxAllocationPct
			found = true
		}
	}
	return limit, found, nil
}

// symbolAllocation returns the follower's current exposure to symbol as a
// fraction of NAV.
func (v *Validator) symbolAllocation(ctx context.Context, followerID, symbol string, nav int64) (float64, error) {
	if nav <= 0 {
		return 0, nil
	}
	positions, err := v.accounts.Positions(ctx, followerID)
	if err != nil {
		return 0, err
	}
	var value int64
	for _, p := range positions {
		if p.Symbol == symbol {
			value += p.MarketValue
		}
	}
	return float64(value) / float64(nav), nil
}
