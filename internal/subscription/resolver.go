// Package subscription resolves the set of followers eligible to replicate a
// leader's trades.
package subscription

import (
	"context"
	"fmt"

	"copy-systemv1/internal/model"
)

// Resolver filters subscription rows down to followers with replication
// enabled and not paused. No side effects; an unknown leader simply resolves
// to an empty set.
type Resolver struct {
	subs model.SubscriptionReader
}

// NewResolver creates a Resolver over a subscription source.
func NewResolver(subs model.SubscriptionReader) *Resolver {
	return &Resolver{subs: subs}
}

// Eligible returns followers of the leader with autoCopyEnabled and not
// paused.
func (r *Resolver) Eligible(ctx context.Context, leaderID string) ([]model.FollowerSubscription, error) {
	all, err := r.subs.Followers(ctx, leaderID)
	if err != nil {
		return nil, fmt.Errorf("resolve followers for %s: %w", leaderID, err)
	}

	out := make([]model.FollowerSubscription, 0, len(all))
	for _, s := range all {
		if s.Eligible() {
			out = append(out, s)
		}
	}
	return out, nil
}
