package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/core/events"
	"github.com/frahmantamala/payment-orchestration/internal/gateway"
	"github.com/frahmantamala/payment-orchestration/internal/gateway/inicis"
	"github.com/frahmantamala/payment-orchestration/internal/gateway/kakaopay"
	"github.com/frahmantamala/payment-orchestration/internal/gateway/toss"
	"github.com/frahmantamala/payment-orchestration/internal/order/postgres"
	"github.com/frahmantamala/payment-orchestration/internal/payment"
	paymentpostgres "github.com/frahmantamala/payment-orchestration/internal/payment/postgres"
	"github.com/frahmantamala/payment-orchestration/internal/payment/retry"
	"github.com/frahmantamala/payment-orchestration/internal/transport"
	"github.com/frahmantamala/payment-orchestration/internal/transport/rest"
	"github.com/frahmantamala/payment-orchestration/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server that terminates webhooks and the operator payment API`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config    *internal.Config
	DB        *sqlx.DB
	Redis     *goredis.Client
	Router    *chi.Mux
	Service   *payment.Service
	Scheduler *retry.Scheduler
	Pool      *retry.Pool
	Logger    *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	deps.Pool.Start()

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		deps.Pool.Shutdown()
		closeDependencies(deps)
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	env := os.Getenv("APP_ENV")
	logger.Init(env, config.Observability.Logging.Level)
	log := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	redisClient := initRedis(config.Redis)

	registry := buildRegistry(config.Gateways, log)
	eventBus := events.NewEventBus(log)

	txRepo := paymentpostgres.NewTransactionRepository(gormDB)
	orderRepo := postgres.NewOrderRepository(gormDB)

	service := payment.NewService(txRepo, registry, orderRepo, eventBus, log,
		config.Gateways.ReturnURL, config.Gateways.CancelURL)

	queue := buildQueue(redisClient, config.Redis.QueuePrefix)
	scheduler := retry.NewScheduler(txRepo, service, queue, retry.Config{
		BaseDelay:   config.Retry.BaseDelay,
		Multiplier:  config.Retry.BackoffMultiplier,
		MaxAttempts: config.Retry.MaxAttempts,
		Cooldown:    config.Retry.Cooldown,
	}, log)
	retry.NewEventHandler(scheduler, log).RegisterEventHandlers(eventBus)

	pool := retry.NewPool(scheduler, queue, retry.PoolConfig{
		WorkerCount:   config.Retry.WorkerCount,
		SweepInterval: config.Retry.SweepInterval,
	}, log)

	baseHandler := transport.NewBaseHandler(log)
	paymentHandler := payment.NewHandler(service, orderRepo, registry, log)
	webhookHandler := payment.NewWebhookHandler(baseHandler, service, log)
	retryHandler := retry.NewHandler(scheduler, log)

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, db.DB, redisClient,
		paymentHandler, webhookHandler, retryHandler,
		config.Observability.Metrics.Path, log)

	return &Dependencies{
		Config:    config,
		DB:        db,
		Redis:     redisClient,
		Router:    router,
		Service:   service,
		Scheduler: scheduler,
		Pool:      pool,
		Logger:    log,
	}, nil
}

func closeDependencies(deps *Dependencies) {
	if deps.Redis != nil {
		if err := deps.Redis.Close(); err != nil {
			deps.Logger.Error("redis close error", "error", err)
		}
	}
	if err := deps.DB.Close(); err != nil {
		deps.Logger.Error("database close error", "error", err)
	}
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initRedis returns nil when no address is configured; the retry queue
// then falls back to the in-memory implementation.
func initRedis(cfg internal.RedisConfig) *goredis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func buildQueue(redisClient *goredis.Client, prefix string) retry.DelayedQueue {
	if redisClient != nil {
		return retry.NewRedisQueue(redisClient, prefix)
	}
	return retry.NewMemoryQueue()
}

// buildRegistry constructs every configured gateway adapter. Adapters with
// missing credentials stay registered but inactive.
func buildRegistry(cfg internal.GatewaysConfig, log *slog.Logger) *gateway.Registry {
	inicisAdapter := inicis.New(inicis.Config{
		MerchantID:  cfg.Inicis.MerchantID,
		SignKey:     cfg.Inicis.SecretKey,
		APIBaseURL:  cfg.Inicis.APIBaseURL,
		TestMode:    cfg.Inicis.TestMode,
		FixedFee:    cfg.Inicis.FixedFee,
		PercentRate: cfg.Inicis.PercentRate,
		Timeout:     cfg.Inicis.Timeout,
	}, log)

	tossAdapter := toss.New(toss.Config{
		MerchantID:  cfg.Toss.MerchantID,
		SecretKey:   cfg.Toss.SecretKey,
		APIBaseURL:  cfg.Toss.APIBaseURL,
		TestMode:    cfg.Toss.TestMode,
		FixedFee:    cfg.Toss.FixedFee,
		PercentRate: cfg.Toss.PercentRate,
		Timeout:     cfg.Toss.Timeout,
	}, log)

	kakaoAdapter := kakaopay.New(kakaopay.Config{
		CID:         cfg.KakaoPay.MerchantID,
		AdminKey:    cfg.KakaoPay.SecretKey,
		APIBaseURL:  cfg.KakaoPay.APIBaseURL,
		TestMode:    cfg.KakaoPay.TestMode,
		FixedFee:    cfg.KakaoPay.FixedFee,
		PercentRate: cfg.KakaoPay.PercentRate,
		Timeout:     cfg.KakaoPay.Timeout,
	}, log)

	return gateway.NewRegistry(log, inicisAdapter, tossAdapter, kakaoAdapter)
}
