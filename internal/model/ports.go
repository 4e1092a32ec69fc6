package model

import (
	"context"
	"errors"
	"time"
)

// ── Port Interfaces ──
// These interfaces decouple the replication pipeline from concrete
// collaborators (Redis, SQLite, the brokerage HTTP client). Each
// implementation satisfies one or more of these interfaces.

// ErrUnknownAccount is returned by AccountReader when the account has never
// been registered with the system.
var ErrUnknownAccount = errors.New("unknown account")

// SubscriptionReader lists replication subscriptions for a leader.
type SubscriptionReader interface {
	// Followers returns every subscription row naming the leader, eligible
	// or not. Filtering is the Subscription Resolver's job.
	Followers(ctx context.Context, leaderID string) ([]FollowerSubscription, error)
}

// GuardrailReader loads the configured allocation caps for a follower.
type GuardrailReader interface {
	// Guardrails returns all guardrail rows for the follower, global and
	// per-symbol. Empty slice when none are configured.
	Guardrails(ctx context.Context, followerID string) ([]Guardrail, error)
}

// OrderStore persists CopyOrder lifecycle state and leader trade history.
type OrderStore interface {
	// CreateQueued inserts a new order in QUEUED state. Returns false when
	// an order for the same (leader_trade_id, follower_id) already exists,
	// in which case nothing is written. On success o.ID is populated.
	CreateQueued(ctx context.Context, o *CopyOrder) (bool, error)

	// MarkPlaced transitions a QUEUED order to PLACED.
	MarkPlaced(ctx context.Context, id int64, brokerOrderID string, filledAt time.Time) error

	// MarkFailed transitions a QUEUED order to FAILED with an error message.
	MarkFailed(ctx context.Context, id int64, errMsg string) error

	// Cancel transitions a QUEUED order to CANCELLED. Returns false when the
	// order was not in QUEUED state (already submitted or terminal).
	Cancel(ctx context.Context, id int64) (bool, error)

	// CountReplicated returns how many copy orders have reached PLACED or
	// FILLED for the follower — the sizing engine's experience tier input.
	CountReplicated(ctx context.Context, followerID string) (int64, error)

	// Close releases underlying resources.
	Close() error
}

// TradeHistory reads recorded leader trades for the sizing strategies.
type TradeHistory interface {
	// RecordLeaderTrade persists an incoming leader trade. Replaying the
	// same trade_id is a no-op.
	RecordLeaderTrade(ctx context.Context, ev LeaderTradeEvent) error

	// LeaderTrades returns the most recent trades by the leader in the
	// symbol filled at or after since, oldest first. limit <= 0 means no
	// limit; otherwise the newest limit trades are returned.
	LeaderTrades(ctx context.Context, leaderID, symbol string, since time.Time, limit int) ([]LeaderTradeEvent, error)
}

// DelayedOrderQueue holds deferred replicas until the daily cutoff.
type DelayedOrderQueue interface {
	// Enqueue adds a pending delayed order scheduled for its cutoff.
	Enqueue(ctx context.Context, o DelayedCopyOrder) error

	// Due returns all pending orders with scheduled_for <= asOf.
	Due(ctx context.Context, asOf time.Time) ([]DelayedCopyOrder, error)

	// Remove deletes a processed order from the pending queue so it is
	// never flushed twice.
	Remove(ctx context.Context, o DelayedCopyOrder) error
}

// AccountReader is the read-only NAV/holdings collaborator. It never writes.
type AccountReader interface {
	// NAV returns the account's net asset value in cents.
	// Returns ErrUnknownAccount for accounts never registered.
	NAV(ctx context.Context, accountID string) (int64, error)

	// Positions returns the account's current per-symbol exposure.
	Positions(ctx context.Context, accountID string) ([]Position, error)

	// RealizedPnLSince returns realized P&L in cents from fills at or after
	// since.
	RealizedPnLSince(ctx context.Context, accountID string, since time.Time) (int64, error)

	// ActiveConnection returns the account's active brokerage connection,
	// or nil when the account has none.
	ActiveConnection(ctx context.Context, accountID string) (*BrokerConnection, error)
}

// Brokerage is the opaque order-placement and activity surface.
type Brokerage interface {
	// PlaceOrder submits an order under the follower's authorization and
	// returns the broker order id. accountNumber is the leader's account
	// number, used as a routing hint.
	PlaceOrder(ctx context.Context, authorizationID, accountNumber, symbol string, side Side, qty int64) (string, error)

	// GetHoldings returns per-account holdings — the NAV source.
	GetHoldings(ctx context.Context, authorizationID string) ([]Holding, error)

	// GetActivities returns fills at or after since, oldest first.
	GetActivities(ctx context.Context, authorizationID string, since time.Time) ([]Fill, error)
}
