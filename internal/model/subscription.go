package model

import "fmt"

// FollowerSubscription links a follower account to a leader whose trades it
// replicates. One row per (leader, follower) pair; mutated by the follower via
// settings, read-only inside this system.
type FollowerSubscription struct {
	LeaderID        string `json:"leader_id"`
	FollowerID      string `json:"follower_id"`
	AutoCopyEnabled bool   `json:"auto_copy_enabled"`
	Paused          bool   `json:"paused"`
	DeferredMode    bool   `json:"deferred_mode"`
}

// Eligible reports whether the subscription should receive copy orders.
func (s *FollowerSubscription) Eligible() bool {
	return s.AutoCopyEnabled && !s.Paused
}

// GuardrailGlobal is the symbol value of a guardrail that applies to every
// symbol for the follower.
const GuardrailGlobal = "*"

// Guardrail caps the allocation fraction a follower is willing to commit,
// either globally or for one symbol.
type Guardrail struct {
	FollowerID       string  `json:"follower_id"`
	Symbol           string  `json:"symbol"` // GuardrailGlobal for an all-symbol cap
	MaxAllocationPct float64 `json:"max_allocation_pct"`
}

// Validate rejects guardrails outside (0, 1] before they can reach the risk
// validator.
func (g *Guardrail) Validate() error {
	if g.FollowerID == "" {
		return fmt.Errorf("guardrail: missing follower_id")
	}
	if g.Symbol == "" {
		return fmt.Errorf("guardrail: symbol must be set (use %q for global)", GuardrailGlobal)
	}
	if g.MaxAllocationPct <= 0 || g.MaxAllocationPct > 1 {
		return fmt.Errorf("guardrail: max_allocation_pct must be in (0,1], got %v", g.MaxAllocationPct)
	}
	return nil
}
