package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the copy engine.
type Metrics struct {
	TradesTotal     prometheus.Counter
	CopiesPlaced    prometheus.Counter
	CopiesFailed    prometheus.Counter
	WSReconnects    prometheus.Counter
	InvalidTrades   prometheus.Counter
	DuplicateTrades prometheus.Counter

	// Replication pipeline
	RiskDenials     *prometheus.CounterVec // labels: reason
	SizingStrategy  *prometheus.CounterVec // labels: strategy
	AdjustedRetries prometheus.Counter
	QtyUnderflows   prometheus.Counter

	// Brokerage
	BrokerPlaceDur prometheus.Histogram
	BrokerRetries  prometheus.Counter
	BreakerState   *prometheus.GaugeVec // labels: connection; 0=closed, 1=open, 2=half-open
	BreakerTrips   prometheus.Counter

	// Delayed queue
	DelayedEnqueued prometheus.Counter
	DelayedFlushed  prometheus.Counter
	DelayedFailed   prometheus.Counter

	// Backpressure
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copyengine_leader_trades_total",
			Help: "Total leader trades received from the feed",
		}),
		CopiesPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copyengine_copies_placed_total",
			Help: "Copy orders successfully placed at the brokerage",
		}),
		CopiesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copyengine_copies_failed_total",
			Help: "Copy orders that exhausted retries and failed",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copyengine_ws_reconnects_total",
			Help: "Total trade feed reconnection attempts",
		}),
		InvalidTrades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copyengine_invalid_trades_total",
			Help: "Feed messages dropped as malformed or invalid",
		}),
		DuplicateTrades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copyengine_duplicate_trades_total",
			Help: "Replays skipped by the (trade, follower) idempotency key",
		}),

		RiskDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copyengine_risk_denials_total",
			Help: "Replications denied by the risk validator (by reason)",
		}, []string{"reason"}),
		SizingStrategy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copyengine_sizing_strategy_total",
			Help: "Sizing decisions by strategy",
		}, []string{"strategy"}),
		AdjustedRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copyengine_adjusted_retries_total",
			Help: "Replications re-validated at the risk validator's reduced size",
		}),
		QtyUnderflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copyengine_qty_underflows_total",
			Help: "Replications abandoned because the computed quantity was below one share",
		}),

		BrokerPlaceDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "copyengine_broker_place_duration_seconds",
			Help:    "Brokerage order placement latency",
			Buckets: prometheus.DefBuckets,
		}),
		BrokerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copyengine_broker_retries_total",
			Help: "Order placement retry attempts after transient broker errors",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "copyengine_broker_circuit_breaker_state",
			Help: "Brokerage circuit breaker state per connection (0=closed, 1=open, 2=half-open)",
		}, []string{"connection"}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copyengine_broker_circuit_breaker_trips_total",
			Help: "Times a brokerage circuit breaker tripped open",
		}),

		DelayedEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copyengine_delayed_enqueued_total",
			Help: "Replications deferred to the daily cutoff queue",
		}),
		DelayedFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copyengine_delayed_flushed_total",
			Help: "Deferred replications executed at the daily cutoff",
		}),
		DelayedFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copyengine_delayed_failed_total",
			Help: "Deferred replications that failed at flush time",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copyengine_fanout_drops_total",
			Help: "Execution events dropped by the event bus per subscriber",
		}, []string{"subscriber"}),
	}

	prometheus.MustRegister(
		m.TradesTotal,
		m.CopiesPlaced,
		m.CopiesFailed,
		m.WSReconnects,
		m.InvalidTrades,
		m.DuplicateTrades,
		m.RiskDenials,
		m.SizingStrategy,
		m.AdjustedRetries,
		m.QtyUnderflows,
		m.BrokerPlaceDur,
		m.BrokerRetries,
		m.BreakerState,
		m.BreakerTrips,
		m.DelayedEnqueued,
		m.DelayedFlushed,
		m.DelayedFailed,
		m.FanoutDropsTotal,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastTradeTime  time.Time `json:"last_trade_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTradeTime(t time.Time) {
	h.mu.Lock()
	h.LastTradeTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.FeedConnected || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	tradeAge := ""
	if !h.LastTradeTime.IsZero() {
		tradeAge = time.Since(h.LastTradeTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastTradeTime   string  `json:"last_trade_time"`
		TradeAge        string  `json:"trade_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastTradeTime:   h.LastTradeTime.Format(time.RFC3339),
		TradeAge:        tradeAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
