package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"copy-systemv1/config"
	"copy-systemv1/internal/accounts"
	"copy-systemv1/internal/bus"
	"copy-systemv1/internal/copyclock"
	"copy-systemv1/internal/delayed"
	"copy-systemv1/internal/dispatch"
	"copy-systemv1/internal/execution"
	"copy-systemv1/internal/ingest"
	"copy-systemv1/internal/logger"
	"copy-systemv1/internal/metrics"
	"copy-systemv1/internal/model"
	"copy-systemv1/internal/notification"
	"copy-systemv1/internal/risk"
	"copy-systemv1/internal/sizing"
	redisstore "copy-systemv1/internal/store/redis"
	sqlitestore "copy-systemv1/internal/store/sqlite"
	"copy-systemv1/internal/subscription"
	"copy-systemv1/pkg/brokerage"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("copyengine", logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	log.Println("[copyengine] starting...")

	// ---- Staging mode check ----
	stagingMode := strings.EqualFold(os.Getenv("STAGING_MODE"), "true")
	if stagingMode {
		log.Println("[copyengine] *** STAGING MODE — paper broker, no brokerage credentials required ***")
	}

	// ---- Load config from env ----
	var cfg *config.Config
	if !stagingMode {
		cfg = config.Load() // requires brokerage env vars
	}

	metricsAddr := getEnv("METRICS_ADDR", ":9090")
	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	redisPassword := getEnv("REDIS_PASSWORD", "")
	sqlitePath := getEnv("SQLITE_PATH", "data/copytrading.db")
	feedURL := getEnv("TRADE_FEED_URL", "ws://localhost:9001/ws")
	timezone := getEnv("TIMEZONE", "America/New_York")
	cutoffTime := getEnv("CUTOFF_TIME", "15:45")
	connectionsEnv := getEnv("CONNECTIONS", "")
	shardCount := 8
	if !stagingMode {
		metricsAddr = cfg.MetricsAddr
		redisAddr = cfg.RedisAddr
		redisPassword = cfg.RedisPassword
		sqlitePath = cfg.SQLitePath
		feedURL = cfg.TradeFeedURL
		timezone = cfg.Timezone
		cutoffTime = cfg.CutoffTime
		connectionsEnv = cfg.Connections
		shardCount = cfg.ParseShardCount()
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.Fatalf("[copyengine] invalid TIMEZONE %q: %v", timezone, err)
	}
	cutoff, err := copyclock.ParseCutoff(cutoffTime, loc)
	if err != nil {
		log.Fatalf("[copyengine] invalid CUTOFF_TIME %q: %v", cutoffTime, err)
	}

	// ---- Setup metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(metricsAddr, health)
	metricsSrv.Start()

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Durable order journal ----
	os.MkdirAll("data", 0o755)
	orderStore, err := sqlitestore.New(sqlitestore.Config{DBPath: sqlitePath})
	if err != nil {
		log.Fatalf("[copyengine] sqlite init failed: %v", err)
	}
	defer orderStore.Close()
	log.Println("[copyengine] order journal ready")

	// ---- Hot state: subscriptions, guardrails, delayed queue ----
	hotStore, err := redisstore.New(redisstore.Config{
		Addr:     redisAddr,
		Password: redisPassword,
	})
	if err != nil {
		log.Fatalf("[copyengine] redis init failed: %v", err)
	}
	defer hotStore.Close()
	log.Println("[copyengine] subscription store ready")

	health.CheckRedis(ctx, hotStore.Client())
	health.CheckSQLite(ctx, orderStore.DB())
	health.StartLivenessChecker(ctx, hotStore.Client(), orderStore.DB(), 10*time.Second)

	// ---- Brokerage ----
	var broker model.Brokerage
	if stagingMode {
		paper := execution.NewPaperBroker(5)
		// Seed fills for the demo feed symbols and a plausible follower book
		// so sizing has NAVs to work with.
		paper.SetPrice("AAPL", 200_00)
		paper.SetPrice("MSFT", 420_00)
		paper.SetPrice("TSLA", 250_00)
		for _, conn := range parseConnections(connectionsEnv) {
			paper.SeedHoldings(conn.AuthorizationID, []model.Holding{
				{Symbol: "CASH", Qty: 1, MarketValue: 100_000_00},
			})
		}
		broker = paper
		log.Println("[copyengine] paper broker ready (5bps slippage)")
	} else {
		client := brokerage.New(brokerage.Config{
			APIKey:     cfg.BrokerAPIKey,
			ClientCode: cfg.BrokerClientCode,
			Password:   cfg.BrokerPassword,
			TOTPSecret: cfg.BrokerTOTPSecret,
		})
		client.SessionExpiryHook = func() {
			log.Println("[copyengine] brokerage session expired, re-authenticating...")
			if err := client.Login(ctx); err != nil {
				log.Printf("[copyengine] re-login failed: %v", err)
			}
		}
		if err := client.Login(ctx); err != nil {
			log.Fatalf("[copyengine] brokerage login failed: %v", err)
		}
		broker = client
	}

	// ---- Account registry over the brokerage ----
	accountSvc := accounts.NewService(broker)
	conns := parseConnections(connectionsEnv)
	if !stagingMode {
		conns = cfg.ParseConnections()
	}
	for _, conn := range conns {
		accountSvc.Register(conn)
	}
	log.Printf("[copyengine] %d broker connections registered", len(conns))

	// ---- Execution coordinator with per-connection circuit breakers ----
	breakers := execution.NewBreakerSet(5, 30*time.Second)
	breakers.OnStateChange = func(connectionID string, from, to execution.State) {
		prom.BreakerState.WithLabelValues(connectionID).Set(float64(to))
		if to == execution.StateOpen {
			prom.BreakerTrips.Inc()
		}
		log.Printf("[copyengine] breaker %s: %s → %s", connectionID, from, to)
	}

	eventCh := make(chan model.CopyExecutedEvent, 5000)
	coordinator := execution.NewCoordinator(orderStore, accountSvc, broker, breakers,
		execution.DefaultRetryPolicy(), eventCh)
	coordinator.OnUnderflow = func() { prom.QtyUnderflows.Inc() }
	coordinator.OnDuplicate = func() { prom.DuplicateTrades.Inc() }
	coordinator.OnRetry = func() { prom.BrokerRetries.Inc() }
	coordinator.OnPlaceDur = func(d time.Duration) { prom.BrokerPlaceDur.Observe(d.Seconds()) }
	coordinator.OnOutcome = func(status string) {
		switch status {
		case model.OutcomePlaced:
			prom.CopiesPlaced.Inc()
		case model.OutcomeFailed:
			prom.CopiesFailed.Inc()
		}
	}

	// ---- Delayed order scheduler ----
	scheduler := delayed.NewScheduler(hotStore, coordinator, cutoff)
	scheduler.OnEnqueue = func() { prom.DelayedEnqueued.Inc() }
	scheduler.OnFlush = func(executed, failed int) {
		prom.DelayedFlushed.Add(float64(executed))
		prom.DelayedFailed.Add(float64(failed))
	}
	go scheduler.Run(ctx)
	log.Printf("[copyengine] delayed flush scheduled daily at %s %s", cutoffTime, timezone)

	// ---- Notifications ----
	var notifier notification.Notifier = notification.NewLogNotifier()
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		notifier = notification.NewTelegramNotifier(token, os.Getenv("TELEGRAM_CHAT_ID"))
		log.Println("[copyengine] telegram notifier enabled")
	} else if url := os.Getenv("ALERT_WEBHOOK_URL"); url != "" {
		notifier = notification.NewWebhookNotifier(url)
		log.Println("[copyengine] webhook notifier enabled")
	}
	alerter := notification.NewAlerter(notifier)

	// ---- Event fan-out: alerter + audit log ----
	fanout := bus.New(5000)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}
	alertCh := fanout.Subscribe()
	auditCh := fanout.Subscribe()
	go fanout.Run(ctx, eventCh)
	go alerter.Run(ctx, alertCh)
	go func() {
		for ev := range auditCh {
			log.Printf("[audit] order=%d follower=%s trade=%s %s %d %s status=%s",
				ev.CopyOrderID, ev.FollowerID, ev.LeaderTradeID, ev.Side, ev.Qty, ev.Symbol, ev.Status)
			if ev.Status == model.OutcomePlaced {
				// The fill changed the follower's holdings; refetch on next read.
				accountSvc.Invalidate(ev.FollowerID)
			}
		}
	}()

	// ---- Replication pipeline ----
	resolver := subscription.NewResolver(hotStore)
	sizer := sizing.NewEngine(orderStore, accountSvc)
	validator := risk.NewValidator(accountSvc, hotStore, risk.DefaultLimits(), loc)

	dispatcher := dispatch.New(dispatch.Config{Shards: shardCount, QueueSize: 256},
		resolver, sizer, validator, coordinator, scheduler,
		accountSvc, orderStore, orderStore)
	dispatcher.OnTrade = func() {
		prom.TradesTotal.Inc()
		health.SetLastTradeTime(time.Now())
	}
	dispatcher.OnStrategy = func(strategy string) {
		prom.SizingStrategy.WithLabelValues(strategy).Inc()
	}
	dispatcher.OnDenied = func(followerID, reason string) {
		prom.RiskDenials.WithLabelValues(reason).Inc()
		if strings.HasPrefix(reason, "daily loss limit") {
			go alerter.DailyLossHalted(ctx, followerID)
		}
	}
	dispatcher.OnAdjustedRetry = func(followerID, symbol string, from, to float64) {
		prom.AdjustedRetries.Inc()
		go alerter.SizeReduced(ctx, followerID, symbol, from, to)
	}

	tradeCh := make(chan model.LeaderTradeEvent, 10000)
	go dispatcher.Run(ctx, tradeCh)
	log.Printf("[copyengine] pipeline ready (%d shards)", shardCount)

	// ---- Leader trade feed ----
	feed, err := ingest.New(ingest.Config{
		URL:               feedURL,
		ReconnectDelay:    2 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
	})
	if err != nil {
		log.Fatalf("[copyengine] feed init failed: %v", err)
	}
	feed.OnReconnect = func() {
		prom.WSReconnects.Inc()
		health.SetFeedConnected(false)
	}
	feed.OnInvalid = func() { prom.InvalidTrades.Inc() }
	health.SetFeedConnected(true)

	go func() {
		if err := feed.Start(ctx, tradeCh); err != nil {
			log.Printf("[copyengine] feed error: %v", err)
			health.SetFeedConnected(false)
		}
	}()

	log.Println("[copyengine] ╔════════════════════════════════════════════════════════════╗")
	log.Println("[copyengine] ║  Copy Trading Engine                                      ║")
	log.Println("[copyengine] ║                                                           ║")
	log.Println("[copyengine] ║  [Trade Feed] → [Dispatch] → [Size] → [Risk] → [Execute]  ║")
	log.Printf("[copyengine] ║  Feed: %-50s ║", feedURL)
	log.Printf("[copyengine] ║  Daily cutoff: %s %-36s ║", cutoffTime, timezone)
	log.Println("[copyengine] ╚════════════════════════════════════════════════════════════╝")

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[copyengine] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[copyengine] shutdown complete.")
}

// parseConnections mirrors config.ParseConnections for staging mode, where
// the full config (with required brokerage credentials) is not loaded.
func parseConnections(s string) []model.BrokerConnection {
	c := config.Config{Connections: s}
	return c.ParseConnections()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
