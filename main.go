package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/etag"
	"gorm.io/gorm"

	"kapalku_backend/internals/configs"
	database "kapalku_backend/internals/databases"
	"kapalku_backend/internals/events"
	ticketService "kapalku_backend/internals/features/booking/tickets/service"
	paymentController "kapalku_backend/internals/features/payment/payments/controller"
	paymentService "kapalku_backend/internals/features/payment/payments/service"
	jobsController "kapalku_backend/internals/features/payment/reconciliation/controller"
	"kapalku_backend/internals/features/payment/reconciliation/scheduler"
	recon "kapalku_backend/internals/features/payment/reconciliation/service"
	helper "kapalku_backend/internals/helpers"
	"kapalku_backend/internals/helpers/resilience"
	middlewares "kapalku_backend/internals/middlewares"
	requestLogger "kapalku_backend/internals/middlewares/logger"
	"kapalku_backend/internals/repositories"
	routes "kapalku_backend/internals/route"
	"kapalku_backend/internals/seeds"
)

const appName = "kapalku-backend"

func main() {
	helper.InitLogger(appName)
	configs.LoadEnv()

	cfg, err := configs.Load()
	if err != nil {
		helper.Logger.WithError(err).Fatal("❌ Config tidak valid")
	}

	shutdownTracer, err := configs.InitTracer(context.Background(), cfg)
	if err != nil {
		helper.Logger.WithError(err).Fatal("❌ Gagal init tracer")
	}

	// 🔌 DB connect + pool
	db, err := database.ConnectDB(cfg.DB)
	if err != nil {
		helper.Logger.WithError(err).Fatal("❌ Gagal konek DB")
	}
	if cfg.DB.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			helper.Logger.WithError(err).Fatal("❌ AutoMigrate gagal")
		}
	}
	if cfg.SeedDir != "" {
		if err := seeds.RunAllSeeds(db, cfg.SeedDir); err != nil {
			helper.Logger.WithError(err).Fatal("❌ Seed gagal")
		}
	}

	// 🛡 circuit breakers (satu registry per proses)
	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Cooldown:         cfg.BreakerCooldown,
	})

	// 📣 events: RabbitMQ kalau ada, kalau tidak cukup log; outbox di DB tetap sumber kebenaran
	var sink events.Sink = events.LogSink{}
	var rabbit *events.RabbitPublisher
	if cfg.RabbitURL != "" {
		rabbit, err = events.NewRabbitPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			helper.Logger.WithError(err).Warn("RabbitMQ tidak tersedia, events hanya di-log")
		} else {
			sink = rabbit
		}
	}
	store := repositories.NewGormStore(db, sql.LevelReadCommitted)
	dispatcher := events.NewAsyncDispatcher(sink, 512, breakers.Get(resilience.BreakerEvents)).
		WithAcknowledger(store)

	// 💳 core services
	dbRetry := repositories.DBRetryPolicy(cfg.DBRetryAttempts)
	gateway := paymentService.NewMidtransGateway(
		cfg.MidtransServerKey,
		cfg.MidtransUseProd,
		breakers.Get(resilience.BreakerMidtrans),
		resilience.GatewayRetryPolicy(cfg.GatewayRetryAttempts),
	)
	issuer := ticketService.NewIssuer(store, cfg.TicketSigningSecret)
	processor := paymentService.NewProcessor(store, issuer, dispatcher, paymentService.ProcessorConfig{
		LockLease:       cfg.WebhookLockLease,
		LockWait:        cfg.WebhookLockWait,
		AuditPayloadMax: cfg.AuditPayloadMaxBytes,
		DBRetry:         dbRetry,
	})
	verifier := paymentService.NewSignatureVerifier(cfg.WebhookHMACSecret, cfg.MidtransServerKey, cfg.WebhookTolerance)
	bookings := paymentService.NewBookingService(store, gateway, dbRetry, time.Duration(cfg.PaymentExpiryHours)*time.Hour)

	sweeps := recon.New(store, gateway, processor, issuer, dispatcher, recon.Config{
		StaleAfter:       cfg.RecoveryStaleAfter,
		BatchSize:        cfg.RecoveryBatchSize,
		BatchDelay:       cfg.RecoveryBatchDelay,
		ScanLimit:        cfg.RecoveryScanLimit,
		RedeliverAfter:   cfg.EventRedeliverAfter,
		EventMaxAttempts: cfg.EventMaxAttempts,
	})

	// ⏱ scheduler setelah DB siap
	cronJobs, err := scheduler.New(sweeps, scheduler.Specs{
		RecoverStuck:    cfg.CronRecoverStuck,
		Expire:          cfg.CronExpire,
		Reconcile:       cfg.CronReconcile,
		TicketBackfill:  cfg.CronTicketBackfill,
		EventRedelivery: cfg.CronEventRedelivery,
	})
	if err != nil {
		helper.Logger.WithError(err).Fatal("❌ Cron spec tidak valid")
	}
	cronJobs.Start()

	app := fiber.New(fiber.Config{
		// 🚀 JSON super cepat
		JSONEncoder:             sonic.Marshal,
		JSONDecoder:             sonic.Unmarshal,
		DisableStartupMessage:   true,
		ProxyHeader:             fiber.HeaderXForwardedFor,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          []string{"0.0.0.0/0"},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return helper.HandleAppError(c, err)
		},
	})

	app.Use(middlewares.RecoveryMiddleware())
	app.Use(middlewares.RequestID(10 * time.Second))
	app.Use(requestLogger.LoggerMiddleware())
	app.Use(middlewares.CorsMiddleware())
	app.Use(compress.New(compress.Config{Level: compress.LevelDefault}))
	app.Use(etag.New())

	routes.SetupRoutes(app, routes.Deps{
		Ping:      func(ctx context.Context) error { return database.Ping(ctx, db) },
		Breakers:  breakers,
		Payments:  paymentController.NewPaymentController(processor, verifier, bookings),
		Jobs:      jobsController.NewJobsController(sweeps, breakers),
		OpsSecret: cfg.InternalJobToken,
	})

	// 🔒 Keep-Alive & timeout koneksi server
	app.Server().ReadTimeout = 15 * time.Second
	app.Server().WriteTimeout = 30 * time.Second
	app.Server().IdleTimeout = 90 * time.Second

	go func() {
		helper.Logger.Infof("✅ Listening on :%s", cfg.Port)
		if err := app.Listen("0.0.0.0:" + cfg.Port); err != nil {
			helper.Logger.WithError(err).Fatal("server error")
		}
	}()

	// graceful shutdown: HTTP → cron → events → tracer → DB
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	helper.Logger.Info("shutting down...")

	shutdown(app, cronJobs.Stop(), dispatcher, rabbit, shutdownTracer, db)
}

func shutdown(app *fiber.App, cronDone context.Context, dispatcher *events.AsyncDispatcher, rabbit *events.RabbitPublisher, shutdownTracer func(context.Context) error, db *gorm.DB) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		helper.Logger.WithError(err).Warn("http shutdown")
	}

	// tunggu job cron yang sedang jalan
	select {
	case <-cronDone.Done():
	case <-ctx.Done():
		helper.Logger.Warn("cron job masih jalan saat shutdown")
	}

	if err := dispatcher.Close(ctx); err != nil {
		helper.Logger.WithError(err).Warn("events not fully drained")
	}
	if rabbit != nil {
		_ = rabbit.Close()
	}
	if err := shutdownTracer(ctx); err != nil {
		helper.Logger.WithError(err).Warn("tracer shutdown")
	}
	database.Close(db)
}
