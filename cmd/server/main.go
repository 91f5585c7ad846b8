package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/commerce/revenuecat"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/commerce/stream"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/lib/sl"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/logging"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/routes"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/services"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/session"
)

// updateStream is both ends of the transaction stream.
type updateStream interface {
	stream.Sink
	stream.Source
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env", sl.Err(err))
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", sl.Err(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", sl.Err(err))
		os.Exit(1)
	}

	// Structured logging (JSON to stdout)
	stdout := logging.NewJSONHandler(os.Stdout, logging.LevelFor(cfg.AppEnv))
	log := logging.Setup(os.Stdout, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, err := entitlement.LoadCatalog(cfg.ProductsConfigPath)
	if err != nil {
		log.Error("failed to load product catalog", slog.String("path", cfg.ProductsConfigPath), sl.Err(err))
		os.Exit(1)
	}
	log.Info("product catalog loaded", slog.Int("products", len(catalog.IDs())))

	policy, err := entitlement.ParseExpiryPolicy(cfg.ExpiryPolicy)
	if err != nil {
		log.Error("invalid expiry policy", sl.Err(err))
		os.Exit(1)
	}

	// Database
	db, err := database.Connect(cfg, log)
	if err != nil {
		log.Error("database connection failed", sl.Err(err))
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		log.Error("migration failed", sl.Err(err))
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(db)
	log = slog.New(logging.NewMultiHandler(stdout, pgLogHandler))
	slog.SetDefault(log)

	// Log cleanup (30-day retention)
	logging.StartCleanup(ctx, db, log)

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			log.Error("sentry init failed", sl.Err(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Transaction stream: durable when a broker is configured.
	var updates updateStream = stream.NewMemory()
	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			log.Error("amqp connection failed", sl.Err(err))
			os.Exit(1)
		}
		defer conn.Close()
		broker, err := stream.NewAMQP(conn, cfg.AMQPQueue, log)
		if err != nil {
			log.Error("amqp queue setup failed", slog.String("queue", cfg.AMQPQueue), sl.Err(err))
			os.Exit(1)
		}
		updates = broker
		log.Info("transaction stream on amqp", slog.String("queue", cfg.AMQPQueue))
	}

	// Session fan-out: relayed through Redis when several instances run.
	presenter := session.NewPresenter()
	var sessions session.Publisher = presenter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		relay := session.NewRedisRelay(rdb, session.DefaultChannel, presenter, log)
		sessions = relay
		go func() {
			if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("session relay stopped", sl.Err(err))
				sentry.CaptureException(err)
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewEntitlements(reg)

	// Services
	feed := revenuecat.NewClient(revenuecat.Options{
		BaseURL: cfg.RevenueCatBaseURL,
		APIKey:  cfg.RevenueCatAPIKey,
		Sandbox: cfg.Sandbox(),
		Timeout: cfg.RevenueCatTimeout,
	}, catalog, updates)
	store := identity.NewStore(db)
	reconciler := entitlement.NewReconciler(feed, catalog,
		entitlement.WithExpiryPolicy(policy),
		entitlement.WithLogger(log),
	)
	entitlementService := services.NewEntitlementService(store, feed, reconciler, sessions, m, log)

	apple, err := services.NewAppleVerifier(ctx, cfg.AppleJWKSURL, cfg.AppleBundleID)
	if err != nil {
		log.Error("apple verifier setup failed", sl.Err(err))
		os.Exit(1)
	}
	authService := services.NewAuthService(cfg, store, store, apple, sessions, log)

	listener := services.NewTransactionListener(feed, entitlementService, cfg.StreamRestartInterval, m, log)
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		listener.Run(ctx)
	}()

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    4 * 1024 * 1024,
		ErrorHandler: handlers.ErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(middleware.SecurityHeaders())

	routes.Setup(app, cfg, routes.Handlers{
		Auth:     handlers.NewAuthHandler(authService, log),
		Session:  handlers.NewSessionHandler(authService, presenter, log),
		Purchase: handlers.NewPurchaseHandler(entitlementService, catalog, log),
		Products: handlers.NewProductsHandler(catalog),
		Webhook:  handlers.NewWebhookHandler(updates, cfg.RevenueCatWebhookAuth, cfg.Sandbox(), log),
		Health:   handlers.NewHealthHandler(database.Pinger(db), len(catalog.IDs())),
	}, reg)

	go func() {
		log.Info("server starting", slog.String("port", cfg.Port))
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("server failed to start", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("server shutdown error", sl.Err(err))
	}
	<-listenerDone

	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if err := database.Close(db); err != nil {
		log.Error("database close error", sl.Err(err))
	}

	log.Info("server stopped")
}
