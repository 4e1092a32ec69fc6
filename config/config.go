package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"copy-systemv1/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Brokerage credentials
	BrokerAPIKey     string
	BrokerClientCode string
	BrokerPassword   string
	BrokerTOTPSecret string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string

	// Leader trade feed
	TradeFeedURL string

	// Replication
	Timezone   string // daily cutoff / trading-day timezone
	CutoffTime string // "HH:MM" local time for deferred order flush
	ShardCount string

	// Registered broker connections:
	// "accountID=connID:accountNumber:authorizationID,..."
	Connections string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		BrokerAPIKey:     mustEnv("BROKER_API_KEY"),
		BrokerClientCode: mustEnv("BROKER_CLIENT_CODE"),
		BrokerPassword:   mustEnv("BROKER_PASSWORD"),
		BrokerTOTPSecret: mustEnv("BROKER_TOTP_SECRET"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/copytrading.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		TradeFeedURL: getEnv("TRADE_FEED_URL", "ws://localhost:9001/ws"),

		Timezone:    getEnv("TIMEZONE", "America/New_York"),
		CutoffTime:  getEnv("CUTOFF_TIME", "15:45"),
		ShardCount:  getEnv("SHARD_COUNT", "8"),
		Connections: getEnv("CONNECTIONS", ""),
	}
}

// ParseShardCount returns the dispatcher shard count, defaulting to 8 on a
// bad value.
func (c *Config) ParseShardCount() int {
	n, err := strconv.Atoi(strings.TrimSpace(c.ShardCount))
	if err != nil || n <= 0 {
		log.Printf("[config] invalid SHARD_COUNT %q, using 8", c.ShardCount)
		return 8
	}
	return n
}

// ParseConnections parses the CONNECTIONS string into broker connection rows.
// Malformed entries are skipped with a log line.
func (c *Config) ParseConnections() []model.BrokerConnection {
	var conns []model.BrokerConnection
	for _, entry := range strings.Split(c.Connections, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		accountID, rest, ok := strings.Cut(entry, "=")
		if !ok {
			log.Printf("[config] skipping malformed connection entry: %q", entry)
			continue
		}
		parts := strings.Split(rest, ":")
		if len(parts) != 3 {
			log.Printf("[config] skipping malformed connection entry: %q", entry)
			continue
		}
		conns = append(conns, model.BrokerConnection{
			ID:              parts[0],
			AccountID:       accountID,
			AccountNumber:   parts[1],
			AuthorizationID: parts[2],
			Active:          true,
		})
	}
	return conns
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
