// Package execution converts approved allocation fractions into concrete
// brokerage orders and drives the CopyOrder lifecycle.
//
// Submission failures are terminal for the single order after bounded retries
// exhaust; they never abort processing for other followers.
package execution

import (
	"context"
	"errors"
	"log"
	"time"

	"copy-systemv1/internal/model"
)

// RetryPolicy bounds the brokerage submission retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the standard submission retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Coordinator executes one approved replica at a time: quantity floor,
// idempotent order creation, brokerage submission, lifecycle transition,
// outcome event.
type Coordinator struct {
	orders   model.OrderStore
	accounts model.AccountReader
	broker   model.Brokerage
	breakers *BreakerSet
	retry    RetryPolicy

	events chan<- model.CopyExecutedEvent
	now    func() time.Time

	// Optional hooks for metrics wiring.
	OnUnderflow func()                 // computed quantity < 1
	OnDuplicate func()                 // idempotency key already seen
	OnRetry     func()                 // one submission retry scheduled
	OnOutcome   func(status string)    // terminal outcome per order
	OnPlaceDur  func(d time.Duration)  // brokerage call duration
}

// NewCoordinator creates a Coordinator. events receives one CopyExecutedEvent
// per terminal outcome; sends never block (full channel drops with a log).
func NewCoordinator(orders model.OrderStore, accounts model.AccountReader, broker model.Brokerage, breakers *BreakerSet, retry RetryPolicy, events chan<- model.CopyExecutedEvent) *Coordinator {
	return &Coordinator{
		orders:   orders,
		accounts: accounts,
		broker:   broker,
		breakers: breakers,
		retry:    retry,
		events:   events,
		now:      time.Now,
	}
}

// Execute runs the full execution path for one follower and one leader trade
// with an approved allocation fraction.
//
// A nil order with nil error means the replica was abandoned silently:
// quantity underflow, no active connection, or duplicate delivery. A non-nil
// order carries the terminal state (PLACED or FAILED). Returned errors are
// store failures only.
func (c *Coordinator) Execute(ctx context.Context, sub model.FollowerSubscription, trade model.LeaderTradeEvent, allocation float64) (*model.CopyOrder, error) {
	nav, err := c.accounts.NAV(ctx, sub.FollowerID)
	if err != nil {
		// LookupMiss — abandon this follower, continue others.
		log.Printf("[execution] nav lookup failed for %s: %v (abandoning)", sub.FollowerID, err)
		return nil, nil
	}

	qty := int64(allocation * float64(nav) / float64(trade.FillPrice))
	if qty < 1 {
		// Intentional noise suppression, not an error.
		if c.OnUnderflow != nil {
			c.OnUnderflow()
		}
		return nil, nil
	}

	conn, err := c.accounts.ActiveConnection(ctx, sub.FollowerID)
	if err != nil || conn == nil {
		log.Printf("[execution] no active connection for %s (abandoning)", sub.FollowerID)
		return nil, nil
	}

	order := &model.CopyOrder{
		LeaderTradeID: trade.TradeID,
		FollowerID:    sub.FollowerID,
		Symbol:        trade.Symbol,
		Side:          trade.Side,
		Qty:           qty,
		Status:        model.StatusQueued,
	}
	created, err := c.orders.CreateQueued(ctx, order)
	if err != nil {
		return nil, err
	}
	if !created {
		// Duplicate delivery of the same leader trade for this follower.
		log.Printf("[execution] duplicate replica %s/%s skipped", trade.TradeID, sub.FollowerID)
		if c.OnDuplicate != nil {
			c.OnDuplicate()
		}
		return nil, nil
	}

	brokerOrderID, placeErr := c.place(ctx, conn, trade.AccountNumber, order)
	if placeErr != nil {
		order.Status = model.StatusFailed
		order.ErrorMessage = placeErr.Error()
		if err := c.orders.MarkFailed(ctx, order.ID, placeErr.Error()); err != nil {
			return order, err
		}
		c.emit(model.CopyExecutedEvent{
			CopyOrderID:   order.ID,
			FollowerID:    order.FollowerID,
			LeaderTradeID: order.LeaderTradeID,
			Symbol:        order.Symbol,
			Side:          order.Side,
			Qty:           order.Qty,
			Status:        model.OutcomeFailed,
			Error:         placeErr.Error(),
		})
		if c.OnOutcome != nil {
			c.OnOutcome(model.OutcomeFailed)
		}
		return order, nil
	}

	placedAt := c.now()
	order.Status = model.StatusPlaced
	order.BrokerOrderID = brokerOrderID
	order.FilledAt = &placedAt
	if err := c.orders.MarkPlaced(ctx, order.ID, brokerOrderID, placedAt); err != nil {
		return order, err
	}
	c.emit(model.CopyExecutedEvent{
		CopyOrderID:   order.ID,
		FollowerID:    order.FollowerID,
		LeaderTradeID: order.LeaderTradeID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Qty:           order.Qty,
		Status:        model.OutcomePlaced,
	})
	if c.OnOutcome != nil {
		c.OnOutcome(model.OutcomePlaced)
	}
	return order, nil
}

// place submits the order with bounded exponential backoff through the
// connection's circuit breaker. An open breaker short-circuits remaining
// attempts — retrying inside the reset window cannot succeed.
func (c *Coordinator) place(ctx context.Context, conn *model.BrokerConnection, accountNumber string, order *model.CopyOrder) (string, error) {
	breaker := c.breakers.For(conn.ID)
	delay := c.retry.BaseDelay
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if c.OnRetry != nil {
				c.OnRetry()
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.retry.MaxDelay {
				delay = c.retry.MaxDelay
			}
		}

		var brokerOrderID string
		err := breaker.Execute(func() error {
			start := time.Now()
			id, err := c.broker.PlaceOrder(ctx, conn.AuthorizationID, accountNumber, order.Symbol, order.Side, order.Qty)
			if c.OnPlaceDur != nil {
				c.OnPlaceDur(time.Since(start))
			}
			if err != nil {
				return err
			}
			brokerOrderID = id
			return nil
		})
		if err == nil {
			return brokerOrderID, nil
		}
		lastErr = err
		log.Printf("[execution] place attempt %d/%d failed for %s/%s: %v",
			attempt+1, c.retry.MaxAttempts, order.LeaderTradeID, order.FollowerID, err)
		if errors.Is(err, ErrCircuitOpen) {
			break
		}
	}
	return "", lastErr
}

// emit publishes an outcome event without blocking the execution path.
func (c *Coordinator) emit(ev model.CopyExecutedEvent) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- ev:
	default:
		log.Printf("[execution] event channel full, dropping outcome for order %d", ev.CopyOrderID)
	}
}
