package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"copy-systemv1/internal/model"
)

// Followers returns every subscription row for the leader, eligible or not.
// Malformed members are skipped with a log line rather than failing the
// whole fan-out.
func (s *Store) Followers(ctx context.Context, leaderID string) ([]model.FollowerSubscription, error) {
	members, err := s.client.SMembers(ctx, subscriptionKey(leaderID)).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", subscriptionKey(leaderID), err)
	}

	subs := make([]model.FollowerSubscription, 0, len(members))
	for _, m := range members {
		var sub model.FollowerSubscription
		if err := json.Unmarshal([]byte(m), &sub); err != nil {
			log.Printf("[redis] skipping malformed subscription under %s: %v", leaderID, err)
			continue
		}
		if sub.FollowerID == "" {
			log.Printf("[redis] skipping subscription with empty follower under %s", leaderID)
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// SaveSubscription upserts a follower subscription. The set member is the
// full JSON row, so changing any flag requires removing the old row first;
// RemoveSubscription handles that by follower id.
func (s *Store) SaveSubscription(ctx context.Context, sub model.FollowerSubscription) error {
	if sub.LeaderID == "" || sub.FollowerID == "" {
		return fmt.Errorf("subscription requires leader and follower ids")
	}
	if err := s.RemoveSubscription(ctx, sub.LeaderID, sub.FollowerID); err != nil {
		return err
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshaling subscription: %w", err)
	}
	if err := s.client.SAdd(ctx, subscriptionKey(sub.LeaderID), data).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", subscriptionKey(sub.LeaderID), err)
	}
	return nil
}

// RemoveSubscription deletes any subscription rows linking the follower to
// the leader.
func (s *Store) RemoveSubscription(ctx context.Context, leaderID, followerID string) error {
	members, err := s.client.SMembers(ctx, subscriptionKey(leaderID)).Result()
	if err != nil {
		return fmt.Errorf("smembers %s: %w", subscriptionKey(leaderID), err)
	}
	for _, m := range members {
		var sub model.FollowerSubscription
		if err := json.Unmarshal([]byte(m), &sub); err != nil {
			continue
		}
		if sub.FollowerID == followerID {
			if err := s.client.SRem(ctx, subscriptionKey(leaderID), m).Err(); err != nil {
				return fmt.Errorf("srem %s: %w", subscriptionKey(leaderID), err)
			}
		}
	}
	return nil
}
