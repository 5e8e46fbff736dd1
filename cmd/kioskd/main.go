// Package main запускает HTTP-сервер авторизации налива для киосков.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/water-kiosk/internal/config"
	"github.com/mmeshcher/water-kiosk/internal/dedup"
	"github.com/mmeshcher/water-kiosk/internal/directory"
	"github.com/mmeshcher/water-kiosk/internal/docstore"
	"github.com/mmeshcher/water-kiosk/internal/gate"
	"github.com/mmeshcher/water-kiosk/internal/handler"
	"github.com/mmeshcher/water-kiosk/internal/middleware"
	"github.com/mmeshcher/water-kiosk/internal/repository"
	"github.com/mmeshcher/water-kiosk/internal/service"
)

// kioskIdleTTL задаёт, сколько хранится лимитер киоска без запросов.
const kioskIdleTTL = 10 * time.Minute

// customerStore объединяет поиск абонента и проверку доступности хранилища.
type customerStore interface {
	directory.Source
	handler.Pinger
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var (
		source    customerStore
		store     handler.DocumentStore
		retryable func(error) bool
	)

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		defer repo.Close()

		source = repo
		retryable = repository.IsTransient
	default:
		client := docstore.NewClient(docstore.Config{
			Endpoint:   cfg.AppwriteEndpoint,
			ProjectID:  cfg.AppwriteProjectID,
			DatabaseID: cfg.AppwriteDatabaseID,
			APIKey:     cfg.AppwriteAPIKey,
			Timeout:    cfg.StoreTimeout,
		})

		source = docstore.NewCustomerSource(client, cfg.CustomersCollectionID)
		store = client
		retryable = docstore.IsTransient
	}

	g := gate.New(cfg.LockWait, cfg.BackendConcurrency, cfg.BackendQueueWait)
	dir := directory.New(source, logger,
		directory.WithLimiter(g),
		directory.WithCountryCode(cfg.CountryCode),
		directory.WithRetryable(retryable),
	)

	tracker := dedup.NewTracker(cfg.DedupTTL, cfg.DedupMaxEntries, logger)
	limiter := gate.NewKioskLimiter(cfg.KioskRPS, cfg.KioskBurst)

	svc := service.NewService(dir, g, tracker, limiter, service.Config{
		MaxVolumeML: cfg.MaxVolumeML,
		Retry: directory.RetryPolicy{
			MaxAttempts:    cfg.RetryMaxAttempts,
			BaseDelay:      cfg.RetryBaseDelay,
			MaxDelay:       cfg.RetryMaxDelay,
			AttemptTimeout: cfg.AttemptTimeout,
			Timeout:        cfg.LookupTimeout,
		},
		NonceBucket: cfg.DedupBucket,
		CountryCode: cfg.CountryCode,
		PINLength:   cfg.PINLength,
	}, logger)

	var authMiddleware *middleware.AuthMiddleware
	if cfg.AdminToken != "" {
		authMiddleware = middleware.NewAuthMiddleware(cfg.AdminToken)
	} else {
		sugar.Info("admin token is not set, document store endpoints are disabled")
	}

	h := handler.NewHandler(svc, store, source, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)

	// Очистка таблицы повторов
	eg.Go(func() error {
		tracker.Run(ctx, cfg.SweepInterval)
		return nil
	})

	// Очистка лимитеров неактивных киосков
	eg.Go(func() error {
		limiter.Run(ctx, cfg.SweepInterval, kioskIdleTTL)
		return nil
	})

	// Запуск HTTP-сервера
	eg.Go(func() error {
		sugar.Infow("starting kiosk server", "addr", cfg.RunAddress, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	eg.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := eg.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
