// Package main runs the keeper daemon: websocket feed into the
// snapshot cache, one tick loop per strategy against the executor,
// decisions and fills journaled to storage, prometheus + status HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"delta-keeper/internal/breaker"
	"delta-keeper/internal/domain"
	"delta-keeper/internal/executor/paper"
	"delta-keeper/internal/feed"
	"delta-keeper/internal/keeper"
	"delta-keeper/internal/marketdata"
	"delta-keeper/internal/observability"
	"delta-keeper/internal/retry"
	"delta-keeper/internal/storage"
	chstore "delta-keeper/internal/storage/clickhouse"
	"delta-keeper/internal/storage/memory"
	"delta-keeper/internal/storage/migrations"
	pgstore "delta-keeper/internal/storage/postgres"
	redisstore "delta-keeper/internal/storage/redis"
	"delta-keeper/internal/strategy"
)

type config struct {
	feedEndpoint  string
	postgresDSN   string
	clickhouseDSN string
	redisAddr     string
	useMemory     bool

	tickInterval   time.Duration
	sampleInterval time.Duration
	metricsAddr    string

	paperCapital   float64
	exitOnShutdown bool

	fundingAsset     string
	fundingThreshold float64
	fundingSizeUSD   float64
	fundingLeverage  float64

	stableAsset     string
	stableNotional  float64
	stableMinAPY    float64
	stableMinHealth float64

	breakerErrorThreshold   int
	breakerErrorWindow      time.Duration
	breakerCooldown         time.Duration
	breakerHalfOpenAttempts int

	retryMaxRetries   int
	retryInitialDelay time.Duration
	retryMaxDelay     time.Duration
	retryMultiplier   float64
}

func parseFlags() config {
	var cfg config

	flag.StringVar(&cfg.feedEndpoint, "feed-endpoint", envOr("FEED_ENDPOINT", ""), "Market feed websocket endpoint")
	flag.StringVar(&cfg.postgresDSN, "postgres-dsn", envOr("POSTGRES_DSN", ""), "PostgreSQL connection string")
	flag.StringVar(&cfg.clickhouseDSN, "clickhouse-dsn", envOr("CLICKHOUSE_DSN", ""), "ClickHouse connection string")
	flag.StringVar(&cfg.redisAddr, "redis-addr", envOr("REDIS_ADDR", ""), "Redis address for the snapshot cache")
	flag.BoolVar(&cfg.useMemory, "use-memory", envOrBool("USE_MEMORY", false), "Use in-memory storage instead of PostgreSQL/ClickHouse/Redis")

	flag.DurationVar(&cfg.tickInterval, "tick-interval", envOrDuration("TICK_INTERVAL", keeper.DefaultTickInterval), "Strategy evaluation cadence")
	flag.DurationVar(&cfg.sampleInterval, "sample-interval", envOrDuration("SAMPLE_INTERVAL", keeper.DefaultSampleInterval), "Funding-sample journal cadence")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", envOr("METRICS_ADDR", ":9090"), "HTTP address for health/metrics/status")

	flag.Float64Var(&cfg.paperCapital, "paper-capital", envOrFloat("PAPER_CAPITAL", 100_000), "Paper-executor capital per strategy (USD)")
	flag.BoolVar(&cfg.exitOnShutdown, "exit-on-shutdown", envOrBool("EXIT_ON_SHUTDOWN", false), "Emergency-exit all positions on shutdown")

	flag.StringVar(&cfg.fundingAsset, "funding-asset", envOr("FUNDING_ASSET", "ETH-PERP"), "Perp market for the funding strategy (empty disables)")
	flag.Float64Var(&cfg.fundingThreshold, "funding-threshold", envOrFloat("FUNDING_THRESHOLD", 0.0001), "Per-period funding rate required to hold a position")
	flag.Float64Var(&cfg.fundingSizeUSD, "funding-size", envOrFloat("FUNDING_SIZE_USD", 10_000), "Margin per funding entry (USD)")
	flag.Float64Var(&cfg.fundingLeverage, "funding-leverage", envOrFloat("FUNDING_LEVERAGE", 1), "Funding strategy leverage")

	flag.StringVar(&cfg.stableAsset, "stable-asset", envOr("STABLE_ASSET", "USDC-DAI"), "Pool market for the stable-pair strategy (empty disables)")
	flag.Float64Var(&cfg.stableNotional, "stable-notional", envOrFloat("STABLE_NOTIONAL_USD", 100_000), "Liquidity committed to the range (USD)")
	flag.Float64Var(&cfg.stableMinAPY, "stable-min-apy", envOrFloat("STABLE_MIN_APY", 0), "Minimum projected net APY (percent) to open a range")
	flag.Float64Var(&cfg.stableMinHealth, "stable-min-health", envOrFloat("STABLE_MIN_HEALTH", 1.05), "Loan health factor below which the range is exited")

	flag.IntVar(&cfg.breakerErrorThreshold, "breaker-error-threshold", envOrInt("BREAKER_ERROR_THRESHOLD", breaker.DefaultErrorThreshold), "Errors in window before the breaker opens")
	flag.DurationVar(&cfg.breakerErrorWindow, "breaker-error-window", envOrDuration("BREAKER_ERROR_WINDOW", breaker.DefaultErrorWindow), "Sliding window for breaker error counting")
	flag.DurationVar(&cfg.breakerCooldown, "breaker-cooldown", envOrDuration("BREAKER_COOLDOWN", breaker.DefaultCooldown), "Open-state cooldown before half-open probing")
	flag.IntVar(&cfg.breakerHalfOpenAttempts, "breaker-half-open-attempts", envOrInt("BREAKER_HALF_OPEN_ATTEMPTS", breaker.DefaultHalfOpenAttempts), "Successes required to close a half-open breaker")

	flag.IntVar(&cfg.retryMaxRetries, "retry-max", envOrInt("RETRY_MAX", retry.DefaultMaxRetries), "Retries after the first attempt for transient executor failures")
	flag.DurationVar(&cfg.retryInitialDelay, "retry-initial-delay", envOrDuration("RETRY_INITIAL_DELAY", retry.DefaultInitialDelay), "Backoff delay before the first retry")
	flag.DurationVar(&cfg.retryMaxDelay, "retry-max-delay", envOrDuration("RETRY_MAX_DELAY", retry.DefaultMaxDelay), "Backoff delay cap")
	flag.Float64Var(&cfg.retryMultiplier, "retry-multiplier", envOrFloat("RETRY_MULTIPLIER", retry.DefaultMultiplier), "Backoff multiplier per retry")

	flag.Parse()
	return cfg
}

func main() {
	// Missing .env is fine; system env still applies.
	_ = godotenv.Load()

	cfg := parseFlags()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.feedEndpoint == "" {
		logger.Fatal("--feed-endpoint is required")
	}
	if !cfg.useMemory && (cfg.postgresDSN == "" || cfg.clickhouseDSN == "" || cfg.redisAddr == "") {
		logger.Fatal("--postgres-dsn, --clickhouse-dsn and --redis-addr are required (or --use-memory)")
	}

	sessionID := uuid.NewString()
	logger = logger.With(zap.String("session_id", sessionID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg)
	if err != nil {
		logger.Fatal("create stores", zap.Error(err))
	}
	defer cleanup()

	metrics := observability.DefaultMetrics

	assets := strategyAssets(cfg)
	if len(assets) == 0 {
		logger.Fatal("no strategies configured")
	}

	feedClient, err := feed.Dial(ctx, feed.Options{
		Endpoint:  cfg.feedEndpoint,
		Assets:    assets,
		Snapshots: stores.snapshots,
		Samples:   stores.samples,
		Metrics:   metrics,
		Logger:    logger.Named("feed"),
	})
	if err != nil {
		logger.Fatal("dial feed", zap.Error(err))
	}
	defer feedClient.Close()

	// Strategies read through the cache the feed writes, with the
	// staleness check in between.
	provider := marketdata.NewStoreProvider(stores.snapshots, marketdata.StoreProviderConfig{})

	engine := paper.NewEngine(paper.Config{})
	sharedBreaker := breaker.New(breaker.Config{
		ErrorThreshold:   cfg.breakerErrorThreshold,
		ErrorWindow:      cfg.breakerErrorWindow,
		Cooldown:         cfg.breakerCooldown,
		HalfOpenAttempts: cfg.breakerHalfOpenAttempts,
	})
	retryPolicy := retry.New(
		retry.WithMaxRetries(cfg.retryMaxRetries),
		retry.WithInitialDelay(cfg.retryInitialDelay),
		retry.WithMaxDelay(cfg.retryMaxDelay),
		retry.WithMultiplier(cfg.retryMultiplier),
	)

	deps := strategy.Deps{
		Executor: engine,
		Market:   provider,
		Breaker:  sharedBreaker,
		Retry:    retryPolicy,
		Logger:   logger,
	}

	strategies, err := buildStrategies(cfg, deps)
	if err != nil {
		logger.Fatal("build strategies", zap.Error(err))
	}

	capital, err := domain.AmountFromFloat(cfg.paperCapital)
	if err != nil {
		logger.Fatal("paper capital", zap.Error(err))
	}
	for _, s := range strategies {
		engine.Fund(s.ID(), capital)
	}

	logOpenPositions(ctx, stores.positions, logger)

	runner := keeper.NewRunner(keeper.RunnerOptions{
		Strategies:     strategies,
		Executor:       engine,
		Positions:      stores.positions,
		Trades:         stores.trades,
		Decisions:      stores.decisions,
		Samples:        stores.samples,
		Market:         provider,
		TickInterval:   cfg.tickInterval,
		SampleInterval: cfg.sampleInterval,
		Metrics:        metrics,
		Logger:         logger.Named("keeper"),
	})

	go serveHTTP(cfg.metricsAddr, runner, logger)

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()

		select {
		case sig := <-sigCh:
			logger.Warn("second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out")
			os.Exit(1)
		case <-done:
		}
	}()

	logger.Info("keeper starting",
		zap.Strings("assets", assets),
		zap.Int("strategies", len(strategies)),
		zap.Duration("tick_interval", cfg.tickInterval),
		zap.Bool("use_memory", cfg.useMemory),
	)

	runErr := runner.Run(ctx)

	if cfg.exitOnShutdown {
		exitCtx, exitCancel := context.WithTimeout(context.Background(), 20*time.Second)
		if err := runner.EmergencyExitAll(exitCtx); err != nil {
			logger.Error("emergency exit on shutdown", zap.Error(err))
		}
		exitCancel()
	}

	close(done)

	if runErr != nil && runErr != context.Canceled {
		logger.Fatal("keeper stopped", zap.Error(runErr))
	}
	logger.Info("shutdown complete")
}

// allStores bundles the storage tier behind the keeper.
type allStores struct {
	positions storage.PositionStore
	trades    storage.TradeStore
	decisions storage.DecisionStore
	samples   storage.FundingSampleStore
	snapshots storage.SnapshotStore
}

func createStores(ctx context.Context, cfg config) (*allStores, func(), error) {
	if cfg.useMemory {
		return &allStores{
			positions: memory.NewPositionStore(),
			trades:    memory.NewTradeStore(),
			decisions: memory.NewDecisionStore(),
			samples:   memory.NewFundingSampleStore(),
			snapshots: memory.NewSnapshotStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.ApplyPostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.ApplyClickhouse(ctx, cfg.clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.redisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		chConn.Close()
		pool.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	snapshots, err := redisstore.NewSnapshotStore(redisstore.SnapshotStoreOptions{Client: redisClient})
	if err != nil {
		redisClient.Close()
		chConn.Close()
		pool.Close()
		return nil, nil, err
	}

	stores := &allStores{
		positions: pgstore.NewPositionStore(pool),
		trades:    pgstore.NewTradeStore(pool),
		decisions: chstore.NewDecisionStore(chConn),
		samples:   chstore.NewFundingSampleStore(chConn),
		snapshots: snapshots,
	}
	cleanup := func() {
		redisClient.Close()
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

func strategyAssets(cfg config) []string {
	var assets []string
	if cfg.fundingAsset != "" {
		assets = append(assets, cfg.fundingAsset)
	}
	if cfg.stableAsset != "" {
		assets = append(assets, cfg.stableAsset)
	}
	return assets
}

func buildStrategies(cfg config, deps strategy.Deps) ([]strategy.Strategy, error) {
	var strategies []strategy.Strategy

	if cfg.fundingAsset != "" {
		s, err := strategy.New(strategy.Config{
			Kind: strategy.KindFundingRate,
			Funding: &strategy.FundingConfig{
				ID:                  "funding-" + assetSlug(cfg.fundingAsset),
				Asset:               cfg.fundingAsset,
				MinFundingThreshold: cfg.fundingThreshold,
				PositionSizeUSD:     cfg.fundingSizeUSD,
				Leverage:            cfg.fundingLeverage,
				Enabled:             true,
			},
		}, deps)
		if err != nil {
			return nil, fmt.Errorf("funding strategy: %w", err)
		}
		strategies = append(strategies, s)
	}

	if cfg.stableAsset != "" {
		s, err := strategy.New(strategy.Config{
			Kind: strategy.KindStablePair,
			Stable: &strategy.StablePairConfig{
				ID:              "stable-" + assetSlug(cfg.stableAsset),
				Asset:           cfg.stableAsset,
				NotionalUSD:     cfg.stableNotional,
				MinNetAPY:       cfg.stableMinAPY,
				MinHealthFactor: cfg.stableMinHealth,
				Enabled:         true,
			},
		}, deps)
		if err != nil {
			return nil, fmt.Errorf("stable strategy: %w", err)
		}
		strategies = append(strategies, s)
	}

	return strategies, nil
}

func assetSlug(asset string) string {
	return strings.ToLower(strings.ReplaceAll(asset, "/", "-"))
}

// logOpenPositions surfaces what the journal says is open so an
// operator can reconcile after a restart. The paper engine starts
// flat either way.
func logOpenPositions(ctx context.Context, positions storage.PositionStore, logger *zap.Logger) {
	open, err := positions.GetAll(ctx)
	if err != nil {
		logger.Warn("load journaled positions", zap.Error(err))
		return
	}
	for _, p := range open {
		logger.Info("journaled open position",
			zap.String("strategy_id", p.StrategyID),
			zap.String("asset", p.Asset),
			zap.String("side", string(p.Side())),
			zap.String("amount", p.Amount.String()),
		)
	}
}

func serveHTTP(addr string, runner *keeper.Runner, logger *zap.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", observability.Handler())

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statusResponse(runner))
	})

	logger.Info("http server listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error("http server", zap.Error(err))
	}
}

type strategyStatusJSON struct {
	StrategyID   string  `json:"strategy_id"`
	Name         string  `json:"name"`
	Asset        string  `json:"asset"`
	Enabled      bool    `json:"enabled"`
	LastTick     string  `json:"last_tick,omitempty"`
	LastAction   string  `json:"last_action,omitempty"`
	LastReason   string  `json:"last_reason,omitempty"`
	LastExecuted bool    `json:"last_executed"`
	LastError    string  `json:"last_error,omitempty"`
	LastMark     float64 `json:"last_mark,omitempty"`
	Side         string  `json:"side,omitempty"`
	BreakerState string  `json:"breaker_state,omitempty"`
}

func statusResponse(runner *keeper.Runner) []strategyStatusJSON {
	status := runner.Status()
	out := make([]strategyStatusJSON, 0, len(status))
	for _, st := range status {
		row := strategyStatusJSON{
			StrategyID:   st.StrategyID,
			Name:         st.Name,
			Asset:        st.Asset,
			Enabled:      st.Enabled,
			LastAction:   string(st.LastAction),
			LastReason:   st.LastReason,
			LastExecuted: st.LastExecuted,
			LastError:    st.LastError,
			LastMark:     st.LastMark,
			Side:         string(st.Metrics.Side),
			BreakerState: string(st.Metrics.BreakerState),
		}
		if !st.LastTick.IsZero() {
			row.LastTick = st.LastTick.Format(time.RFC3339)
		}
		out = append(out, row)
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envOrBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envOrFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
