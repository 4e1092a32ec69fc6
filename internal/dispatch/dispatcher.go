// Package dispatch fans one LeaderTradeEvent out into independent
// per-follower replication pipelines.
//
// Followers are hashed onto a fixed set of shard workers; all decisions for
// one follower land on the same shard, so the read-NAV/decide/write-order
// sequence for a follower is always serialized (single writer) while
// different followers proceed in parallel. A failure or denial for one
// follower never prevents processing of another, and nothing here is fatal
// to the process.
package dispatch

import (
	"context"
	"hash/fnv"
	"log"
	"log/slog"
	"sync"
	"time"

	"copy-systemv1/internal/logger"
	"copy-systemv1/internal/model"
	"copy-systemv1/internal/risk"
	"copy-systemv1/internal/sizing"
)

// fallbackDefaultFraction seeds sizing when the leader's NAV is unavailable.
const fallbackDefaultFraction = 0.05

// The dispatcher's collaborators, narrowed to what it calls.

type resolver interface {
	Eligible(ctx context.Context, leaderID string) ([]model.FollowerSubscription, error)
}

type sizer interface {
	Allocation(ctx context.Context, in sizing.Inputs) (float64, sizing.Strategy)
}

type validator interface {
	Validate(ctx context.Context, followerID, symbol string, proposed float64) risk.Decision
}

type executor interface {
	Execute(ctx context.Context, sub model.FollowerSubscription, trade model.LeaderTradeEvent, allocation float64) (*model.CopyOrder, error)
}

type deferrer interface {
	Defer(ctx context.Context, sub model.FollowerSubscription, trade model.LeaderTradeEvent) (model.DelayedCopyOrder, error)
}

type replicationCounter interface {
	CountReplicated(ctx context.Context, followerID string) (int64, error)
}

type job struct {
	sub     model.FollowerSubscription
	trade   model.LeaderTradeEvent
	traceID string
}

// Dispatcher routes leader trades through sizing, risk validation, and
// execution (or deferral) for every eligible follower.
type Dispatcher struct {
	resolver resolver
	sizing   sizer
	risk     validator
	exec     executor
	delayed  deferrer
	accounts model.AccountReader
	counter  replicationCounter
	history  model.TradeHistory

	shards []chan job
	wg     sync.WaitGroup

	// Optional hooks for metrics wiring.
	OnTrade         func()
	OnDenied        func(followerID, reason string)
	OnStrategy      func(strategy string)
	OnAdjustedRetry func(followerID, symbol string, from, to float64)
}

// Config sets the dispatcher's concurrency shape.
type Config struct {
	Shards    int // parallel shard workers (default 8)
	QueueSize int // per-shard job buffer (default 256)
}

func (c *Config) defaults() {
	if c.Shards <= 0 {
		c.Shards = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

// New creates a Dispatcher.
func New(cfg Config, res resolver, siz sizer, val validator, exec executor, del deferrer, accounts model.AccountReader, counter replicationCounter, history model.TradeHistory) *Dispatcher {
	cfg.defaults()
	d := &Dispatcher{
		resolver: res,
		sizing:   siz,
		risk:     val,
		exec:     exec,
		delayed:  del,
		accounts: accounts,
		counter:  counter,
		history:  history,
		shards:   make([]chan job, cfg.Shards),
	}
	for i := range d.shards {
		d.shards[i] = make(chan job, cfg.QueueSize)
	}
	return d
}

// Run consumes leader trades and fans them out until ctx is cancelled or
// tradeCh is closed. Blocks until all shard workers drain.
func (d *Dispatcher) Run(ctx context.Context, tradeCh <-chan model.LeaderTradeEvent) {
	for i := range d.shards {
		d.wg.Add(1)
		go d.worker(ctx, d.shards[i])
	}
	defer func() {
		for _, ch := range d.shards {
			close(ch)
		}
		d.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-tradeCh:
			if !ok {
				return
			}
			d.handleTrade(ctx, ev)
		}
	}
}

// handleTrade records the trade for strategy history and enqueues one job
// per eligible follower onto its shard.
func (d *Dispatcher) handleTrade(ctx context.Context, ev model.LeaderTradeEvent) {
	if err := ev.Validate(); err != nil {
		log.Printf("[dispatch] dropping invalid trade: %v", err)
		return
	}
	if d.OnTrade != nil {
		d.OnTrade()
	}

	if err := d.history.RecordLeaderTrade(ctx, ev); err != nil {
		log.Printf("[dispatch] recording trade %s failed: %v (continuing)", ev.TradeID, err)
	}

	subs, err := d.resolver.Eligible(ctx, ev.LeaderID)
	if err != nil {
		log.Printf("[dispatch] resolving followers for %s failed: %v", ev.LeaderID, err)
		return
	}
	if len(subs) == 0 {
		return
	}

	traceID := logger.GenerateTraceID(ev.TradeID, time.Now())
	slog.Info("fanning out leader trade",
		slog.String("trace_id", traceID),
		slog.String("trade_id", ev.TradeID),
		slog.String("leader_id", ev.LeaderID),
		slog.String("symbol", ev.Symbol),
		slog.Int("followers", len(subs)))

	for _, sub := range subs {
		shard := d.shardFor(sub.FollowerID)
		select {
		case <-ctx.Done():
			return
		case d.shards[shard] <- job{sub: sub, trade: ev, traceID: traceID}:
		}
	}
}

// shardFor maps a follower to its single-writer shard.
func (d *Dispatcher) shardFor(followerID string) int {
	h := fnv.New32a()
	h.Write([]byte(followerID))
	return int(h.Sum32() % uint32(len(d.shards)))
}

func (d *Dispatcher) worker(ctx context.Context, jobs <-chan job) {
	defer d.wg.Done()
	for j := range jobs {
		d.process(ctx, j)
	}
}

// process runs one follower pipeline: deferral or sizing → risk → execution.
func (d *Dispatcher) process(ctx context.Context, j job) {
	sub, ev := j.sub, j.trade
	ctx = logger.WithTraceID(ctx, j.traceID)

	if sub.DeferredMode {
		if _, err := d.delayed.Defer(ctx, sub, ev); err != nil {
			log.Printf("[dispatch] deferring %s/%s failed: %v", ev.TradeID, sub.FollowerID, err)
		}
		return
	}

	count, err := d.counter.CountReplicated(ctx, sub.FollowerID)
	if err != nil {
		log.Printf("[dispatch] replication count for %s failed: %v (treating as 0)", sub.FollowerID, err)
		count = 0
	}

	alloc, strat := d.sizing.Allocation(ctx, sizing.Inputs{
		FollowerID:       sub.FollowerID,
		LeaderID:         ev.LeaderID,
		Symbol:           ev.Symbol,
		TradeNotional:    ev.Notional(),
		ReplicationCount: count,
		DefaultFraction:  d.defaultFraction(ctx, ev),
	})
	if d.OnStrategy != nil {
		d.OnStrategy(string(strat))
	}

	decision := d.risk.Validate(ctx, sub.FollowerID, ev.Symbol, alloc)
	if !decision.Allowed {
		if d.OnDenied != nil {
			d.OnDenied(sub.FollowerID, decision.Reason)
		}
		if decision.AdjustedSize <= 0 {
			d.logDenied(ctx, sub.FollowerID, ev.TradeID, decision.Reason)
			return
		}

		// One automatic retry at the validator's suggested size.
		retry := d.risk.Validate(ctx, sub.FollowerID, ev.Symbol, decision.AdjustedSize)
		if !retry.Allowed {
			if d.OnDenied != nil {
				d.OnDenied(sub.FollowerID, retry.Reason)
			}
			d.logDenied(ctx, sub.FollowerID, ev.TradeID, retry.Reason)
			return
		}
		if d.OnAdjustedRetry != nil {
			d.OnAdjustedRetry(sub.FollowerID, ev.Symbol, alloc, decision.AdjustedSize)
		}
		log.Printf("[dispatch] %s/%s resized %.4f → %.4f (%s)", ev.TradeID, sub.FollowerID, alloc, decision.AdjustedSize, decision.Reason)
		alloc = decision.AdjustedSize
	}

	if _, err := d.exec.Execute(ctx, sub, ev, alloc); err != nil {
		log.Printf("[dispatch] executing %s/%s failed: %v", ev.TradeID, sub.FollowerID, err)
	}
}

func (d *Dispatcher) logDenied(ctx context.Context, followerID, tradeID, reason string) {
	args := []any{
		slog.String("trade_id", tradeID),
		slog.String("follower_id", followerID),
		slog.String("reason", reason),
	}
	args = append(args, logger.LogWithTrace(ctx)...)
	slog.Warn("replication denied", args...)
}

// defaultFraction is leader-trade-notional / leader-NAV, falling back to a
// conservative constant when the leader's NAV cannot be read.
func (d *Dispatcher) defaultFraction(ctx context.Context, ev model.LeaderTradeEvent) float64 {
	nav, err := d.accounts.NAV(ctx, ev.LeaderID)
	if err != nil || nav <= 0 {
		return fallbackDefaultFraction
	}
	return float64(ev.Notional()) / float64(nav)
}
