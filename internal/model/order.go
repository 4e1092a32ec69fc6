package model

import "time"

// OrderStatus is the lifecycle state of a CopyOrder.
//
// State machine: QUEUED → {PLACED, FAILED}; QUEUED → CANCELLED by explicit
// follower action before submission; PLACED → FILLED confirmed externally.
// FILLED, FAILED and CANCELLED are terminal.
type OrderStatus string

const (
	StatusQueued    OrderStatus = "QUEUED"
	StatusPlaced    OrderStatus = "PLACED"
	StatusFilled    OrderStatus = "FILLED"
	StatusFailed    OrderStatus = "FAILED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusFailed || s == StatusCancelled
}

// CopyOrder is a replica order created for one follower from one leader trade.
// At most one exists per (leader_trade_id, follower_id) pair.
type CopyOrder struct {
	ID            int64       `json:"id"`
	LeaderTradeID string      `json:"leader_trade_id"`
	FollowerID    string      `json:"follower_id"`
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Qty           int64       `json:"qty"`
	Status        OrderStatus `json:"status"`
	BrokerOrderID string      `json:"broker_order_id,omitempty"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	FilledAt      *time.Time  `json:"filled_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// DelayedStatus is the lifecycle state of a DelayedCopyOrder in the pending
// queue. PENDING orders are picked up by the daily flush; EXECUTED and FAILED
// are terminal and never re-processed.
type DelayedStatus string

const (
	DelayedPending  DelayedStatus = "PENDING"
	DelayedExecuted DelayedStatus = "EXECUTED"
	DelayedFailed   DelayedStatus = "FAILED"
)

// DelayedCopyOrder is a deferred replica scheduled for the next daily cutoff
// instead of immediate execution. It snapshots enough of the original leader
// trade to run the normal execution path at flush time.
type DelayedCopyOrder struct {
	ID              string        `json:"id"` // "{originalTradeId}:{followerId}"
	OriginalTradeID string        `json:"original_trade_id"`
	LeaderID        string        `json:"leader_id"`
	FollowerID      string        `json:"follower_id"`
	AccountNumber   string        `json:"account_number"` // leader's, routing hint
	Symbol          string        `json:"symbol"`
	Side            Side          `json:"side"`
	FillPrice       int64         `json:"fill_price"` // leader fill, in cents
	Allocation      float64       `json:"allocation"` // fraction of follower NAV
	ScheduledFor    time.Time     `json:"scheduled_for"`
	Status          DelayedStatus `json:"status"`
	ErrorMessage    string        `json:"error_message,omitempty"`
}
