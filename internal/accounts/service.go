// Package accounts provides the read-only NAV/positions/P&L view over the
// brokerage for every registered account.
//
// It maintains a registry of broker connections and a short-lived holdings
// cache so one leader trade fanning out to many followers does not hammer the
// brokerage holdings endpoint once per follower.
package accounts

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"copy-systemv1/internal/model"
)

// defaultCacheTTL bounds holdings staleness between brokerage reads.
const defaultCacheTTL = 30 * time.Second

// pnlBasisLookbackDays extends the activity replay window backwards from the
// P&L window open, so a sell today of a lot bought on an earlier day still
// finds its cost basis.
const pnlBasisLookbackDays = 90

type cachedHoldings struct {
	holdings  []model.Holding
	fetchedAt time.Time
}

// Service implements model.AccountReader over a model.Brokerage.
type Service struct {
	broker model.Brokerage
	ttl    time.Duration
	now    func() time.Time

	mu          sync.RWMutex
	connections map[string]*model.BrokerConnection // accountID -> active connection
	cache       map[string]cachedHoldings          // accountID -> holdings snapshot
}

// NewService creates an account Service with the default cache TTL.
func NewService(broker model.Brokerage) *Service {
	return &Service{
		broker:      broker,
		ttl:         defaultCacheTTL,
		now:         time.Now,
		connections: make(map[string]*model.BrokerConnection),
		cache:       make(map[string]cachedHoldings),
	}
}

// Register adds (or replaces) an account's broker connection.
func (s *Service) Register(conn model.BrokerConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := conn
	s.connections[conn.AccountID] = &c
	log.Printf("[accounts] registered connection %s for account %s", conn.ID, conn.AccountID)
}

// ActiveConnection returns the account's active connection, nil when the
// connection exists but is disabled.
func (s *Service) ActiveConnection(ctx context.Context, accountID string) (*model.BrokerConnection, error) {
	s.mu.RLock()
	conn, ok := s.connections[accountID]
	s.mu.RUnlock()
	if !ok {
		return nil, model.ErrUnknownAccount
	}
	if !conn.Active {
		return nil, nil
	}
	c := *conn
	return &c, nil
}

// NAV returns the account's net asset value in cents, summed over holdings.
func (s *Service) NAV(ctx context.Context, accountID string) (int64, error) {
	holdings, err := s.holdings(ctx, accountID)
	if err != nil {
		return 0, err
	}
	var nav int64
	for _, h := range holdings {
		nav += h.MarketValue
	}
	return nav, nil
}

// Positions returns the account's per-symbol exposure derived from holdings.
func (s *Service) Positions(ctx context.Context, accountID string) ([]model.Position, error) {
	holdings, err := s.holdings(ctx, accountID)
	if err != nil {
		return nil, err
	}
	positions := make([]model.Position, 0, len(holdings))
	for _, h := range holdings {
		positions = append(positions, model.Position{
			Symbol:      h.Symbol,
			Qty:         h.Qty,
			MarketValue: h.MarketValue,
		})
	}
	return positions, nil
}

// RealizedPnLSince replays the account's fills from the activity feed and
// returns realized P&L in cents from sells filled at or after since. Cost
// basis is the weighted average entry price at the time of each sell,
// replayed from pnlBasisLookbackDays before since so positions opened on
// earlier days realize against their true entry price.
func (s *Service) RealizedPnLSince(ctx context.Context, accountID string, since time.Time) (int64, error) {
	s.mu.RLock()
	conn, ok := s.connections[accountID]
	s.mu.RUnlock()
	if !ok {
		return 0, model.ErrUnknownAccount
	}

	basisStart := since.AddDate(0, 0, -pnlBasisLookbackDays)
	fills, err := s.broker.GetActivities(ctx, conn.AuthorizationID, basisStart)
	if err != nil {
		return 0, fmt.Errorf("fetching activities for %s: %w", accountID, err)
	}

	var realized int64
	basis := make(map[string]costEntry)
	for _, f := range fills {
		pnl := applyFill(basis, f)
		// Fills before the window open build basis only.
		if !f.FilledAt.Before(since) {
			realized += pnl
		}
	}
	return realized, nil
}

type costEntry struct {
	qty      int64
	avgPrice int64 // in cents
}

// applyFill updates the per-symbol cost basis and returns the realized P&L
// (cents) this fill produced, non-zero only for sells against an open lot.
func applyFill(basis map[string]costEntry, f model.Fill) int64 {
	entry := basis[f.Symbol]
	var realized int64

	if f.Side == model.SideBuy {
		if entry.qty == 0 {
			entry.qty = f.Qty
			entry.avgPrice = f.Price
		} else {
			totalCost := entry.avgPrice*entry.qty + f.Price*f.Qty
			entry.qty += f.Qty
			if entry.qty > 0 {
				entry.avgPrice = totalCost / entry.qty
			}
		}
	} else {
		sellQty := f.Qty
		if sellQty > entry.qty {
			sellQty = entry.qty
		}
		realized = (f.Price - entry.avgPrice) * sellQty
		entry.qty -= sellQty
		if entry.qty <= 0 {
			entry.qty = 0
			entry.avgPrice = 0
		}
	}

	basis[f.Symbol] = entry
	return realized
}

// holdings returns the account's holdings, served from cache within the TTL.
func (s *Service) holdings(ctx context.Context, accountID string) ([]model.Holding, error) {
	s.mu.RLock()
	conn, connOK := s.connections[accountID]
	cached, cacheOK := s.cache[accountID]
	s.mu.RUnlock()
	if !connOK {
		return nil, model.ErrUnknownAccount
	}
	if cacheOK && s.now().Sub(cached.fetchedAt) < s.ttl {
		return cached.holdings, nil
	}

	holdings, err := s.broker.GetHoldings(ctx, conn.AuthorizationID)
	if err != nil {
		// Serve a stale snapshot over a hard failure when we have one.
		if cacheOK {
			log.Printf("[accounts] holdings refresh for %s failed, serving stale: %v", accountID, err)
			return cached.holdings, nil
		}
		return nil, fmt.Errorf("fetching holdings for %s: %w", accountID, err)
	}

	s.mu.Lock()
	s.cache[accountID] = cachedHoldings{holdings: holdings, fetchedAt: s.now()}
	s.mu.Unlock()
	return holdings, nil
}

// Invalidate drops the cached holdings for an account, forcing the next read
// to hit the brokerage. Called after a copy order is placed.
func (s *Service) Invalidate(accountID string) {
	s.mu.Lock()
	delete(s.cache, accountID)
	s.mu.Unlock()
}
