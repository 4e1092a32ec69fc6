// Package redis holds the hot replication state: follower subscriptions,
// per-follower guardrails, and the delayed order queue.
//
// Key layout:
//
//	copysub:{leaderID}      SET   of JSON-encoded FollowerSubscription
//	guardrail:{followerID}  HASH  symbol (or "*") -> max allocation fraction
//	delayed_orders          ZSET  JSON-encoded DelayedCopyOrder scored by
//	                              scheduled_for unix seconds
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Config configures the Redis store.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Store implements the subscription, guardrail, and delayed-queue ports.
type Store struct {
	client *goredis.Client
}

// New creates a Store and pings the server.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Store{client: client}, nil
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// Close releases the client's connections.
func (s *Store) Close() error { return s.client.Close() }

func subscriptionKey(leaderID string) string { return "copysub:" + leaderID }
func guardrailKey(followerID string) string  { return "guardrail:" + followerID }

const delayedOrdersKey = "delayed_orders"
