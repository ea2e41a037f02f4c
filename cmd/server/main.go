package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldday/fieldday-backend/internal/config"
	"github.com/fieldday/fieldday-backend/internal/database"
	"github.com/fieldday/fieldday-backend/internal/handler"
	"github.com/fieldday/fieldday-backend/internal/logger"
	"github.com/fieldday/fieldday-backend/internal/repository"
	"github.com/fieldday/fieldday-backend/internal/router"
	"github.com/fieldday/fieldday-backend/internal/service"
	"github.com/fieldday/fieldday-backend/internal/validator"
	"github.com/fieldday/fieldday-backend/internal/worker"
	"github.com/rs/zerolog"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting FieldDay Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	parentRepo := repository.NewParentRepository(pool)
	childRepo := repository.NewChildRepository(pool)
	offeringRepo := repository.NewOfferingRepository(pool)
	waiverRepo := repository.NewWaiverRepository(pool)
	discountRepo := repository.NewDiscountRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	waitlistRepo := repository.NewWaitlistRepository(pool)
	snapshotRepo := repository.NewSnapshotRepository(rdb, cfg.CheckoutTTL)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	waiverService := service.NewWaiverService(waiverRepo, log)
	pricingService := service.NewPricingService(cfg.ProcessingFeeBps)
	paymentService := service.NewPaymentService(cfg.MidtransServerKey, cfg.MidtransProduction, log)
	publisher := service.NewRedisEventPublisher(rdb, log)
	checkoutService := service.NewCheckoutService(
		offeringRepo,
		childRepo,
		parentRepo,
		waiverService,
		discountRepo,
		orderRepo,
		waitlistRepo,
		paymentService,
		snapshotRepo,
		pricingService,
		publisher,
		log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:           handler.NewAuthHandler(authService, parentRepo),
		Catalog:        handler.NewCatalogHandler(offeringRepo, waitlistRepo),
		Child:          handler.NewChildHandler(childRepo),
		Checkout:       handler.NewCheckoutHandler(checkoutService),
		PaymentWebhook: handler.NewPaymentWebhookHandler(rdb, paymentService, log),
		WS:             handler.NewWSHandler(rdb, checkoutService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	settlementWorker := worker.NewSettlementWorker(pool, rdb, snapshotRepo, publisher, log)
	reaperWorker := worker.NewCheckoutReaperWorker(pool, snapshotRepo, publisher, cfg.PendingOrderTTL, log)

	go settlementWorker.Start(workerCtx)
	go reaperWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
