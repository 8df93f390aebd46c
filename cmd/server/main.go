package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	identityapp "github.com/meterly/backend/internal/application/identity"
	"github.com/meterly/backend/internal/application/metering"
	"github.com/meterly/backend/internal/application/subscription"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/domain/subscriber"
	"github.com/meterly/backend/internal/infrastructure/auth"
	"github.com/meterly/backend/internal/infrastructure/billing"
	"github.com/meterly/backend/internal/infrastructure/cache"
	"github.com/meterly/backend/internal/infrastructure/config"
	"github.com/meterly/backend/internal/infrastructure/content"
	"github.com/meterly/backend/internal/infrastructure/logger"
	"github.com/meterly/backend/internal/infrastructure/notification"
	"github.com/meterly/backend/internal/infrastructure/persistence"
	"github.com/meterly/backend/internal/infrastructure/scheduler"
	"github.com/meterly/backend/internal/infrastructure/telemetry"
	"github.com/meterly/backend/internal/interfaces/http/handler"
	"github.com/meterly/backend/internal/interfaces/http/middleware"
	"github.com/meterly/backend/internal/interfaces/http/router"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		Insecure:          cfg.Telemetry.Insecure,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Environment:       cfg.App.Env,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()
	log = tel.Logs.Bridge(log, logger.ParseLevel(cfg.Log.Level))

	log.Info("Starting Meterly backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	db, err := persistence.NewDatabase(&cfg.Database, persistence.Options{
		Logger:    log,
		LogLevel:  logger.MapGormLogLevel(cfg.Log.Level),
		LogSQL:    cfg.Telemetry.DBLogFullSQL,
		SlowQuery: cfg.Telemetry.DBSlowQueryThresh,
		Tracing: telemetry.DBTracingConfig{
			Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
			LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		},
	})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Production refuses to start without Redis: revocation, dedupe and rate
	// limits must be shared across instances there.
	cacheFactory := cache.NewFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	)
	defer func() {
		if err := cacheFactory.Close(); err != nil {
			log.Error("Error closing Redis client", zap.Error(err))
		}
	}()
	redisClient, err := cacheFactory.Client(ctx)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	dedupe, err := cacheFactory.IdempotencyStore(ctx)
	if err != nil {
		log.Fatal("Failed to create webhook dedupe store", zap.Error(err))
	}

	metrics, err := telemetry.NewSubscriptionMetrics(tel.Metrics.Meter("meterly.subscription"))
	if err != nil {
		log.Fatal("Failed to create subscription metrics", zap.Error(err))
	}

	catalog, err := subscriber.NewCatalog(
		subscriber.Plan{PriceRef: cfg.Plans.Monthly.PriceRef, PriceMinor: cfg.Plans.Monthly.PriceMinor, Quota: cfg.Plans.Monthly.Quota},
		subscriber.Plan{PriceRef: cfg.Plans.Annual.PriceRef, PriceMinor: cfg.Plans.Annual.PriceMinor, Quota: cfg.Plans.Annual.Quota},
	)
	if err != nil {
		log.Fatal("Invalid plan catalogue", zap.Error(err))
	}

	gateway, err := billing.NewStripeGateway(billing.StripeConfig{
		SecretKey:         cfg.Stripe.SecretKey,
		IsTestMode:        cfg.Stripe.IsTestMode,
		APIURL:            cfg.Stripe.APIURL,
		MaxNetworkRetries: cfg.Stripe.MaxNetworkRetries,
	}, log, billing.WithMetrics(metrics))
	if err != nil {
		log.Fatal("Invalid payment processor configuration", zap.Error(err))
	}

	provisioner, err := auth.NewProvisioner(
		persistence.NewGormIdentityStore(db.DB),
		auth.NewJWTService(cfg.JWT),
		newBlacklist(redisClient),
		auth.ProvisionerConfig{
			BcryptCost:       cfg.Identity.BcryptCost,
			MaxLoginAttempts: cfg.Identity.MaxLoginAttempts,
			LockDuration:     cfg.Identity.LockDuration,
		},
		log,
	)
	if err != nil {
		log.Fatal("Failed to initialize identity provisioner", zap.Error(err))
	}

	notifier := notification.NewAsyncSender(notification.NewLogSender(log), log, 256, 2)
	notifier.Start()

	subscribers := persistence.NewGormSubscriberRepository(db.DB)
	cases := persistence.NewGormReconciliationRepository(db.DB)
	ledger := persistence.NewGormUsageLedger(db.DB, shared.SystemClock)

	orchestrator := subscription.NewOrchestrator(subscription.OrchestratorConfig{
		Identities:  provisioner,
		Gateway:     gateway,
		Subscribers: subscribers,
		Cases:       cases,
		Catalog:     catalog,
		Notifier:    notifier,
		Metrics:     metrics,
		Timeouts:    cfg.Timeouts,
		Logger:      log,
	})
	webhooks := subscription.NewWebhookService(subscription.WebhookServiceConfig{
		Gateway:   gateway,
		Events:    persistence.NewGormEventLog(db.DB),
		Dedupe:    dedupe,
		Notifier:  notifier,
		Metrics:   metrics,
		Secret:    cfg.Webhook.Secret,
		DedupeTTL: cfg.Webhook.DedupeTTL,
	})
	accounts := subscription.NewAccountService(gateway, subscribers, catalog, cfg.Timeouts, cfg.App.BaseURL, cfg.Stripe.Currency)
	gate := metering.NewGate(provisioner, subscribers, ledger, catalog, content.NewGenerator(shared.SystemClock), metrics, cfg.Timeouts)
	usageService := metering.NewUsageService(subscribers, ledger, catalog, shared.SystemClock)
	authService := identityapp.NewAuthService(provisioner, subscribers, cfg.Timeouts.Identity, log)

	reconciler := scheduler.NewReconciliationScheduler(
		subscription.NewReconciliationService(cases, subscribers, shared.SystemClock),
		log,
		scheduler.ReconciliationSchedulerConfig{
			Enabled:   cfg.Reconciliation.Enabled,
			Interval:  cfg.Reconciliation.Interval,
			BatchSize: cfg.Reconciliation.BatchSize,
			Timeout:   cfg.Reconciliation.Timeout,
		},
	)
	reconciler.Start(ctx)

	checks := map[string]handler.Pinger{"database": db}
	if redisClient != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	var authLimiter middleware.Limiter
	if cfg.HTTP.AuthRateLimitEnabled {
		authLimiter = newAuthLimiter(redisClient, cfg.HTTP)
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsCfg.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsCfg.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}

	engine, err := router.New(router.Config{
		Logger:       log,
		Sessions:     provisioner,
		AuthLimiter:  authLimiter,
		CORS:         corsCfg,
		Tracing:      middleware.TracingConfig{ServiceName: cfg.Telemetry.ServiceName, Enabled: cfg.Telemetry.Enabled},
		Meter:        tel.Metrics,
		MaxBodyBytes: cfg.HTTP.MaxBodySize,
	}, router.Handlers{
		Signup:   handler.NewSignupHandler(orchestrator),
		Actions:  handler.NewMeteredActionHandler(gate),
		Billing:  handler.NewBillingHandler(accounts),
		Webhooks: handler.NewWebhookHandler(webhooks, cfg.Webhook.MaxBodySize),
		Auth:     handler.NewAuthHandler(authService),
		Usage:    handler.NewUsageHandler(usageService),
		System:   handler.NewSystemHandler(version, checks),
	})
	if err != nil {
		log.Fatal("Failed to build router", zap.Error(err))
	}
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := reconciler.Stop(shutdownCtx); err != nil {
		log.Warn("Reconciliation run interrupted by shutdown", zap.Error(err))
	}
	// Queued notifications are flushed after the last request has finished
	if err := notifier.Stop(shutdownCtx); err != nil {
		log.Warn("Notifications dropped on shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

func newBlacklist(client redis.UniversalClient) auth.TokenBlacklist {
	if client == nil {
		return auth.NewInMemoryTokenBlacklist()
	}
	return auth.NewRedisTokenBlacklist(client, "")
}

func newAuthLimiter(client redis.UniversalClient, cfg config.HTTPConfig) middleware.Limiter {
	if client == nil {
		return middleware.NewMemoryLimiter(cfg.AuthRateLimitRequests, cfg.AuthRateLimitWindow)
	}
	return cache.NewRedisRateLimiter(client, cache.DefaultRateLimitPrefix+"auth:", cfg.AuthRateLimitRequests, cfg.AuthRateLimitWindow)
}
