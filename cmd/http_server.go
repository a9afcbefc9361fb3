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

	"github.com/frahmantamala/service-marketplace/api"
	"github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/auth"
	"github.com/frahmantamala/service-marketplace/internal/chat"
	"github.com/frahmantamala/service-marketplace/internal/core/events"
	"github.com/frahmantamala/service-marketplace/internal/otp"
	"github.com/frahmantamala/service-marketplace/internal/payment"
	paymentPostgres "github.com/frahmantamala/service-marketplace/internal/payment/postgres"
	"github.com/frahmantamala/service-marketplace/internal/paymentgateway"
	"github.com/frahmantamala/service-marketplace/internal/request"
	requestPostgres "github.com/frahmantamala/service-marketplace/internal/request/postgres"
	"github.com/frahmantamala/service-marketplace/internal/transport/middleware"
	"github.com/frahmantamala/service-marketplace/internal/transport/rest"
	"github.com/frahmantamala/service-marketplace/internal/transport/swagger"
	"github.com/frahmantamala/service-marketplace/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var withRepair bool

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config      *internal.Config
	DB          *sqlx.DB
	Gorm        *gorm.DB
	Router      *chi.Mux
	EventBus    *events.EventBus
	RateLimiter *middleware.RateLimiter
	OTPStore    otp.Store
	Repairer    *payment.Repairer
	Logger      *slog.Logger
	closers     []func() error
}

func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.Logger.Error("close error", "error", err)
		}
	}
}

func startHTTPServer() {
	deps, err := initializeDependencies(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	repairDone := make(chan struct{})
	if withRepair {
		go func() {
			defer close(repairDone)
			_ = deps.Repairer.Run(workerCtx)
		}()
	} else {
		close(repairDone)
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("Server failed to start", "error", err)
			stopWorkers()
			deps.Close()
			os.Exit(1)
		}
	}

	stopWorkers()
	<-repairDone
	deps.EventBus.Wait()
	deps.Close()

	deps.Logger.Info("Server stopped")
}

func initializeDependencies(ctx context.Context) (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	initLogger(config)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	deps := &Dependencies{
		Config: config,
		DB:     db,
		Router: chi.NewRouter(),
		Logger: lg,
	}
	deps.closers = append(deps.closers, db.Close)

	gormDB, err := initGorm(db)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}
	deps.Gorm = gormDB

	eventBus := events.NewEventBus(lg)
	deps.EventBus = eventBus
	chat.NewOpener(chat.LogStarter{Logger: lg}, lg).RegisterEventHandlers(eventBus)

	currency := request.NewCurrencyPolicy(config.Payment.CurrencyFallbacks, config.Payment.SupportedCurrencies)
	requestRepo := requestPostgres.NewRequestRepository(gormDB)
	ledgerRepo := paymentPostgres.NewLedgerRepository(gormDB)
	payoutRepo := paymentPostgres.NewPayoutRepository(gormDB)

	requestService := request.NewService(requestRepo, currency, eventBus, lg)

	processor := paymentgateway.NewClient(paymentgateway.Config{
		SecretKey:     config.Payment.StripeSecretKey,
		WebhookSecret: config.Payment.WebhookSecret,
		Timeout:       config.Payment.Timeout,
	}, lg)
	broker := payment.NewBroker(requestRepo, ledgerRepo, processor, payoutRepo, currency, config.Payment.PlatformFeePercent, lg)
	reconciler := payment.NewReconciler(requestRepo, ledgerRepo, processor, eventBus, lg)
	payment.NewEventHandler(ledgerRepo, lg).RegisterEventHandlers(eventBus)

	deps.Repairer = payment.NewRepairer(requestRepo, payment.RepairConfig{
		Interval:  config.Worker.RepairInterval,
		BatchSize: config.Worker.RepairBatchSize,
		Workers:   config.Worker.RepairWorkers,
	}, lg)

	tokens := auth.NewJWTTokenGenerator(config.Security.JWTSecret, config.Security.AccessTokenDuration)

	health := map[string]rest.Pinger{"postgres": db}

	otpStore, err := initOTPStore(ctx, config.Redis)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.OTPStore = otpStore
	switch s := otpStore.(type) {
	case *otp.RedisStore:
		deps.closers = append(deps.closers, s.Close)
		health["redis"] = rest.PingFunc(s.Ping)
	case *otp.MemoryStore:
		deps.closers = append(deps.closers, func() error { s.Close(); return nil })
	}
	otpService := otp.NewService(otpStore, otp.LogSender{Logger: lg}, tokens, otp.Config{
		TTL:         config.OTP.TTL,
		MaxAttempts: config.OTP.MaxAttempts,
		BCryptCost:  config.OTP.BCryptCost,
	}, lg)

	deps.RateLimiter = middleware.NewRateLimiter(config.Server.RateLimit.RequestsPerSecond, config.Server.RateLimit.Burst)
	deps.closers = append(deps.closers, func() error { deps.RateLimiter.Close(); return nil })

	doc, err := swagger.Load(ctx, api.OpenAPISpec)
	if err != nil {
		// The API still serves; only /openapi.json is skipped.
		lg.Warn("openapi document failed validation", "error", err)
	}

	rest.RegisterAllRoutes(deps.Router, rest.Handlers{
		Requests: request.NewHandler(requestService),
		Payments: payment.NewHandler(broker, reconciler, ledgerRepo),
		OTP:      otp.NewHandler(otpService, lg),
	}, rest.RouterConfig{
		Tokens:         tokens,
		Health:         health,
		RateLimiter:    deps.RateLimiter,
		AllowedOrigins: config.Server.AllowedOrigins,
		OpenAPISpec:    api.OpenAPISpec,
		OpenAPIDoc:     doc,
	}, lg)

	return deps, nil
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

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm shares the sqlx pool with gorm so both use one set of connections.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
}

func initOTPStore(ctx context.Context, cfg internal.RedisConfig) (otp.Store, error) {
	if !cfg.Enabled {
		return otp.NewMemoryStore(time.Minute), nil
	}
	store, err := otp.NewRedisStore(ctx, otp.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return store, nil
}

func init() {
	httpServerCmd.Flags().BoolVar(&withRepair, "repair", true, "run the settlement repair worker in-process")
}
