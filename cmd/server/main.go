package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ride-realtime/internal/config"
	"github.com/example/ride-realtime/internal/directory"
	httpapi "github.com/example/ride-realtime/internal/http"
	"github.com/example/ride-realtime/internal/ingest"
	"github.com/example/ride-realtime/internal/lifecycle"
	"github.com/example/ride-realtime/internal/logging"
	"github.com/example/ride-realtime/internal/matcher"
	"github.com/example/ride-realtime/internal/otp"
	"github.com/example/ride-realtime/internal/payments"
	"github.com/example/ride-realtime/internal/presence"
	"github.com/example/ride-realtime/internal/rides"
	"github.com/example/ride-realtime/internal/storage"
	"github.com/example/ride-realtime/internal/ws"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	registry := presence.NewRegistry()
	store := rides.NewStore()

	var archive storage.RideArchive = storage.NewMemoryArchive()
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresArchive(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres archive unavailable", "error", err)
			os.Exit(1)
		}
		archive = pg
	}

	engine := &matcher.Engine{
		Store:           store,
		Drivers:         registry,
		Notify:          registry,
		Logger:          logger,
		RadiusKm:        cfg.SearchRadiusKm,
		ResponseTimeout: cfg.ResponseTimeout,
		RequestTimeout:  cfg.RequestTimeout,
	}

	coord := &lifecycle.Coordinator{
		Store:        store,
		Drivers:      registry,
		Notify:       registry,
		Matcher:      engine,
		Logger:       logger,
		Archive:      archive,
		CancelWindow: cfg.CancelWindow,
	}
	if cfg.StripeAPIKey != "" {
		coord.Payments = payments.NewClient(cfg.StripeAPIKey, os.Getenv("STRIPE_CURRENCY"))
	}
	if cfg.DirectoryURL != "" {
		coord.Profiles = directory.NewClient(cfg.DirectoryURL)
	}

	otpSvc := otp.NewService(store, registry, logger, cfg.OTPTTL, cfg.OTPSweepInterval)

	handler := &ws.Handler{
		Registry:  registry,
		Engine:    engine,
		Lifecycle: coord,
		OTP:       otpSvc,
		Logger:    logger,
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() { _ = kp.Close() }()
		handler.Publisher = kp
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go otpSvc.RunSweeper(ctx)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(logger, handler),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("ride-realtime listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
