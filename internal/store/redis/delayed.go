package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"time"

	goredis "github.com/go-redis/redis/v8"

	"copy-systemv1/internal/model"
)

// Enqueue adds a delayed order to the pending zset, scored by its cutoff
// time so Due is a single range read.
func (s *Store) Enqueue(ctx context.Context, o model.DelayedCopyOrder) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshaling delayed order: %w", err)
	}
	err = s.client.ZAdd(ctx, delayedOrdersKey, &goredis.Z{
		Score:  float64(o.ScheduledFor.Unix()),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd %s: %w", delayedOrdersKey, err)
	}
	return nil
}

// Due returns all pending orders scheduled at or before asOf, oldest first.
func (s *Store) Due(ctx context.Context, asOf time.Time) ([]model.DelayedCopyOrder, error) {
	members, err := s.client.ZRangeByScore(ctx, delayedOrdersKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(asOf.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", delayedOrdersKey, err)
	}

	orders := make([]model.DelayedCopyOrder, 0, len(members))
	for _, m := range members {
		var o model.DelayedCopyOrder
		if err := json.Unmarshal([]byte(m), &o); err != nil {
			// A member we cannot decode will never flush; drop it.
			log.Printf("[redis] dropping malformed delayed order: %v", err)
			s.client.ZRem(ctx, delayedOrdersKey, m)
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// Remove deletes a processed order from the pending queue. json.Marshal is
// deterministic for a fixed struct, so re-encoding reproduces the stored
// member exactly.
func (s *Store) Remove(ctx context.Context, o model.DelayedCopyOrder) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshaling delayed order: %w", err)
	}
	if err := s.client.ZRem(ctx, delayedOrdersKey, string(data)).Err(); err != nil {
		return fmt.Errorf("zrem %s: %w", delayedOrdersKey, err)
	}
	return nil
}
