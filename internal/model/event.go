package model

import (
	"fmt"
	"time"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// LeaderTradeEvent is the confirmed-fill notification for a leader account.
// Produced once per fill upstream; immutable here.
type LeaderTradeEvent struct {
	TradeID            string    `json:"trade_id"`
	LeaderID           string    `json:"leader_id"`
	BrokerConnectionID string    `json:"broker_connection_id"`
	AccountNumber      string    `json:"account_number"`
	Symbol             string    `json:"symbol"`
	Side               Side      `json:"side"`
	Qty                int64     `json:"qty"`
	FillPrice          int64     `json:"fill_price"` // in cents
	FilledAt           time.Time `json:"filled_at"`
}

// Notional returns the traded value in cents.
func (e *LeaderTradeEvent) Notional() int64 {
	return e.Qty * e.FillPrice
}

// Validate checks the wire-level invariants of the event.
func (e *LeaderTradeEvent) Validate() error {
	if e.TradeID == "" {
		return fmt.Errorf("leader trade event: missing trade_id")
	}
	if e.LeaderID == "" {
		return fmt.Errorf("leader trade event: missing leader_id")
	}
	if e.Symbol == "" {
		return fmt.Errorf("leader trade event: missing symbol")
	}
	if !e.Side.Valid() {
		return fmt.Errorf("leader trade event: invalid side %q", e.Side)
	}
	if e.Qty <= 0 {
		return fmt.Errorf("leader trade event: qty must be > 0, got %d", e.Qty)
	}
	if e.FillPrice <= 0 {
		return fmt.Errorf("leader trade event: fill_price must be > 0, got %d", e.FillPrice)
	}
	return nil
}

// Outcome status values carried on CopyExecutedEvent.
const (
	OutcomePlaced = "placed"
	OutcomeFailed = "failed"
)

// CopyExecutedEvent is the per-replica outcome emitted after an execution
// attempt, successful or not.
type CopyExecutedEvent struct {
	CopyOrderID   int64  `json:"copy_order_id"`
	FollowerID    string `json:"follower_id"`
	LeaderTradeID string `json:"leader_trade_id"`
	Symbol        string `json:"symbol"`
	Side          Side   `json:"side"`
	Qty           int64  `json:"qty"`
	Status        string `json:"status"` // "placed" or "failed"
	Error         string `json:"error,omitempty"`
}
