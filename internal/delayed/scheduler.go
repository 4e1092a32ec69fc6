// Package delayed batches deferred replicas through the trading day and
// flushes them once at a fixed daily cutoff.
package delayed

import (
	"context"
	"log"
	"time"

	"copy-systemv1/internal/copyclock"
	"copy-systemv1/internal/model"
)

// deferredAllocation is the fixed conservative fraction used for deferred
// copies. The Position Sizing Engine is bypassed entirely in deferred mode.
const deferredAllocation = 0.03

// executor is the slice of the execution coordinator the scheduler needs.
type executor interface {
	Execute(ctx context.Context, sub model.FollowerSubscription, trade model.LeaderTradeEvent, allocation float64) (*model.CopyOrder, error)
}

// Scheduler accumulates pending DelayedCopyOrders and flushes all due orders
// as a single batch at the cutoff, isolating per-order failures.
type Scheduler struct {
	queue  model.DelayedOrderQueue
	exec   executor
	cutoff copyclock.Cutoff
	now    func() time.Time

	// Optional hooks for metrics wiring.
	OnEnqueue func()
	OnFlush   func(executed, failed int)
}

// NewScheduler creates a Scheduler flushing at the given daily cutoff.
func NewScheduler(queue model.DelayedOrderQueue, exec executor, cutoff copyclock.Cutoff) *Scheduler {
	return &Scheduler{
		queue:  queue,
		exec:   exec,
		cutoff: cutoff,
		now:    time.Now,
	}
}

// Defer enqueues a deferred replica for the follower, scheduled for the next
// daily cutoff (today's if still ahead, otherwise tomorrow's).
func (s *Scheduler) Defer(ctx context.Context, sub model.FollowerSubscription, trade model.LeaderTradeEvent) (model.DelayedCopyOrder, error) {
	o := model.DelayedCopyOrder{
		ID:              trade.TradeID + ":" + sub.FollowerID,
		OriginalTradeID: trade.TradeID,
		LeaderID:        trade.LeaderID,
		FollowerID:      sub.FollowerID,
		AccountNumber:   trade.AccountNumber,
		Symbol:          trade.Symbol,
		Side:            trade.Side,
		FillPrice:       trade.FillPrice,
		Allocation:      deferredAllocation,
		ScheduledFor:    s.cutoff.Next(s.now()),
		Status:          model.DelayedPending,
	}
	if err := s.queue.Enqueue(ctx, o); err != nil {
		return model.DelayedCopyOrder{}, err
	}
	if s.OnEnqueue != nil {
		s.OnEnqueue()
	}
	log.Printf("[delayed] deferred %s/%s until %s", trade.TradeID, sub.FollowerID, o.ScheduledFor.Format(time.RFC3339))
	return o, nil
}

// Run flushes at each daily cutoff until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		wait := s.cutoff.Until(s.now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			s.Flush(ctx, s.now())
		}
	}
}

// Flush executes every pending order with scheduledFor <= asOf through the
// normal execution path. Per-order failures are recorded and skipped; the
// batch never rolls back or aborts. Processed orders are removed from the
// pending queue so a terminal order is never re-processed on the next cycle.
func (s *Scheduler) Flush(ctx context.Context, asOf time.Time) (executed, failed int) {
	due, err := s.queue.Due(ctx, asOf)
	if err != nil {
		log.Printf("[delayed] flush: loading due orders failed: %v", err)
		return 0, 0
	}
	if len(due) == 0 {
		return 0, 0
	}
	log.Printf("[delayed] flushing %d due orders", len(due))

	for _, o := range due {
		switch s.flushOne(ctx, o).Status {
		case model.DelayedExecuted:
			executed++
		case model.DelayedFailed:
			failed++
		}
		// Remove by the original pending value so it matches the stored member.
		if err := s.queue.Remove(ctx, o); err != nil {
			log.Printf("[delayed] flush: removing %s failed: %v", o.ID, err)
		}
	}

	if s.OnFlush != nil {
		s.OnFlush(executed, failed)
	}
	log.Printf("[delayed] flush complete: %d executed, %d failed", executed, failed)
	return executed, failed
}

// flushOne runs one due order through the normal execution path and returns it
// stamped with its terminal status. Orders abandoned silently (quantity
// underflow or missing connection) stay PENDING and count toward neither tally.
func (s *Scheduler) flushOne(ctx context.Context, o model.DelayedCopyOrder) model.DelayedCopyOrder {
	sub := model.FollowerSubscription{
		LeaderID:        o.LeaderID,
		FollowerID:      o.FollowerID,
		AutoCopyEnabled: true,
		DeferredMode:    true,
	}
	trade := model.LeaderTradeEvent{
		TradeID:       o.OriginalTradeID,
		LeaderID:      o.LeaderID,
		AccountNumber: o.AccountNumber,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Qty:           1, // quantity comes from the allocation, not the leader fill
		FillPrice:     o.FillPrice,
		FilledAt:      o.ScheduledFor,
	}

	order, err := s.exec.Execute(ctx, sub, trade, o.Allocation)
	switch {
	case err != nil:
		o.Status = model.DelayedFailed
		o.ErrorMessage = err.Error()
		log.Printf("[delayed] flush: %s failed: %v", o.ID, err)
	case order == nil:
		// Abandoned silently.
	case order.Status == model.StatusFailed:
		o.Status = model.DelayedFailed
		o.ErrorMessage = order.ErrorMessage
	default:
		o.Status = model.DelayedExecuted
	}
	return o
}
