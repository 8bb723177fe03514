package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/config"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/handler"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/cache"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/client"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/memory"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/observability"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/postgres"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/rabbitmq"
	redisinfra "github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/redis"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/scheduler"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/supabase"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/port"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("use_supabase", cfg.UseSupabase),
		zap.Bool("postgres_ledger", cfg.DatabaseURL != ""),
		zap.Bool("redis_spend", cfg.RedisURL != ""),
		zap.Bool("rabbitmq_events", cfg.RabbitMQURL != ""),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Duration("approval_ttl", cfg.ApprovalTTL),
		zap.Duration("cooling_off", cfg.CoolingOff),
		zap.Duration("risk_check_timeout", cfg.RiskCheckTimeout),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "guardian-transfer-bfa")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	limitCache := cache.New[*domain.LimitConfig](cfg.CacheTTL)
	defer limitCache.Close()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Stores ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	memStore := memory.NewStore()
	var (
		guardianStore    port.GuardianStore    = memStore
		limitStore       port.LimitConfigStore = memStore
		safeAccountStore port.SafeAccountStore = memStore
		transferStore    port.TransferStore    = memStore
		approvalStore    port.ApprovalStore    = memStore
		spendTracker     port.SpendTracker     = memory.NewSpendTracker()
		dependencies     []handler.DependencyCheck
	)

	if cfg.UseSupabase && cfg.SupabaseURL != "" {
		logger.Info("using Supabase as data backend", zap.String("supabase_url", cfg.SupabaseURL))
		supabaseClient := supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase", logger),
			resilienceCfg,
			logger,
		)
		guardianStore = supabaseClient
		limitStore = supabaseClient
		safeAccountStore = supabaseClient
		transferStore = supabaseClient
		approvalStore = supabaseClient
	} else {
		logger.Warn("Supabase not configured, using in-memory stores")
	}

	if cfg.DatabaseURL != "" {
		ledger, err := postgres.NewLedger(startCtx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("failed to open transfer ledger", zap.Error(err))
		}
		defer ledger.Close()
		transferStore = ledger
		approvalStore = ledger
		dependencies = append(dependencies, handler.DependencyCheck{Name: "postgres", Check: ledger.Ping})
		logger.Info("transfer ledger enabled on postgres")
	}

	if cfg.RedisURL != "" {
		redisClient, err := redisinfra.NewClient(startCtx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		spendTracker = redisinfra.NewSpendTracker(redisClient, "")
		dependencies = append(dependencies, handler.DependencyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
		logger.Info("daily spend tracked in redis")
	}

	// --- Events ---
	var events port.EventPublisher = rabbitmq.NewLogPublisher(metrics, logger)
	if cfg.RabbitMQURL != "" {
		publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.EventsExchange, metrics, logger)
		if err != nil {
			logger.Error("rabbitmq unavailable, events will only be logged", zap.Error(err))
		} else {
			defer publisher.Close()
			events = publisher
			logger.Info("publishing events to rabbitmq", zap.String("exchange", cfg.EventsExchange))
		}
	}

	// --- External collaborators ---
	var fraudRegistry port.FraudRegistry
	if cfg.FraudRegistryURL != "" {
		fraudRegistry = client.NewFraudRegistryClient(httpClient, cfg.FraudRegistryURL,
			resilience.NewCircuitBreaker("fraud-registry", logger), resilienceCfg)
	} else {
		logger.Warn("fraud registry not configured, only local fraud patterns are checked")
	}

	var history port.HistoryFetcher = service.NewTransferHistory(transferStore)
	if cfg.HistoryAPIURL != "" {
		history = client.NewHistoryClient(httpClient, cfg.HistoryAPIURL,
			resilience.NewCircuitBreaker("history", logger), resilienceCfg)
	}

	// --- Services ---
	approvals := service.NewApprovalCoordinator(approvalStore, cfg.ApprovalTTL, metrics, logger)
	defer approvals.Stop()

	guardians := service.NewGuardianRegistry(guardianStore, approvals, logger)
	safeAccounts := service.NewSafeAccountRegistry(safeAccountStore, logger)
	limits := service.NewLimitService(limitStore, limitCache, metrics, logger)

	checks := service.DefaultRiskChecks(
		service.NewAccountValidityCheck(cfg.KnownBanks, cfg.DenyList),
		service.NewFraudPatternCheck(fraudRegistry),
		service.NewAnomalyCheck(cfg.AnomalyMultiplier, cfg.AnomalyWindow, domain.Money(cfg.SuspiciousAmountThreshold)),
	)
	risk := service.NewRiskAssessor(checks, cfg.RiskCheckTimeout, resilience.NewBulkhead(cfg.MaxConcurrency), metrics, logger)

	workflow := service.NewTransferWorkflow(service.TransferWorkflowDeps{
		Limits:        limits,
		SafeAccounts:  safeAccounts,
		Guardians:     guardians,
		Risk:          risk,
		Approvals:     approvals,
		Spend:         spendTracker,
		History:       history,
		Transfers:     transferStore,
		Events:        events,
		Metrics:       metrics,
		Logger:        logger,
		CoolingOff:    cfg.CoolingOff,
		HistoryWindow: cfg.AnomalyWindow,
	})

	// Requests left pending by a previous run get their timers back.
	if _, err := approvals.Restore(startCtx); err != nil {
		logger.Error("failed to restore pending approval requests", zap.Error(err))
	}

	// --- Scheduler ---
	sched := scheduler.New(approvals, logger)
	if err := sched.Start(cfg.ExpirySweepSchedule); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	// --- Router ---
	router := handler.NewRouter(handler.Services{
		Transfers:    workflow,
		Guardians:    guardians,
		Limits:       limits,
		SafeAccounts: safeAccounts,
		Approvals:    approvals,
	}, handler.RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		InternalAPIKey: cfg.InternalAPIKey,
		Dependencies:   dependencies,
	}, metrics, logger)

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, customer routes are unauthenticated")
	}

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	select {
	case <-sched.Stop().Done():
	case <-ctx.Done():
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
