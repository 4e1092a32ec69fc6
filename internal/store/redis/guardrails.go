package redis

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"copy-systemv1/internal/model"
)

// Guardrails returns the follower's configured allocation caps, global row
// included. Unparseable values are skipped with a log line.
func (s *Store) Guardrails(ctx context.Context, followerID string) ([]model.Guardrail, error) {
	fields, err := s.client.HGetAll(ctx, guardrailKey(followerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", guardrailKey(followerID), err)
	}

	rails := make([]model.Guardrail, 0, len(fields))
	for symbol, raw := range fields {
		pct, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			log.Printf("[redis] skipping malformed guardrail %s/%s=%q: %v", followerID, symbol, raw, err)
			continue
		}
		rails = append(rails, model.Guardrail{
			FollowerID:       followerID,
			Symbol:           symbol,
			MaxAllocationPct: pct,
		})
	}
	return rails, nil
}

// SetGuardrail writes one guardrail row, validating it first.
func (s *Store) SetGuardrail(ctx context.Context, g model.Guardrail) error {
	if err := g.Validate(); err != nil {
		return err
	}
	value := strconv.FormatFloat(g.MaxAllocationPct, 'f', -1, 64)
	if err := s.client.HSet(ctx, guardrailKey(g.FollowerID), g.Symbol, value).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", guardrailKey(g.FollowerID), err)
	}
	return nil
}

// ClearGuardrail removes the follower's cap for one symbol (or the global
// "*" row).
func (s *Store) ClearGuardrail(ctx context.Context, followerID, symbol string) error {
	if err := s.client.HDel(ctx, guardrailKey(followerID), symbol).Err(); err != nil {
		return fmt.Errorf("hdel %s: %w", guardrailKey(followerID), err)
	}
	return nil
}
