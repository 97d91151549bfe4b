// Package main запускает HTTP-сервер маркетплейса Pi.
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

	"github.com/mmeshcher/pi-marketplace/internal/config"
	"github.com/mmeshcher/pi-marketplace/internal/handler"
	"github.com/mmeshcher/pi-marketplace/internal/metrics"
	"github.com/mmeshcher/pi-marketplace/internal/middleware"
	"github.com/mmeshcher/pi-marketplace/internal/payment"
	"github.com/mmeshcher/pi-marketplace/internal/repository"
	"github.com/mmeshcher/pi-marketplace/internal/scheduler"
	"github.com/mmeshcher/pi-marketplace/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var store repository.Store
	if cfg.DatabaseURI != "" {
		store, err = repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
	} else {
		sugar.Warn("DATABASE_URI is empty, using in-memory storage")
		store = repository.NewMemoryRepository()
	}

	if cfg.MockPay {
		sugar.Warn("mock payments enabled, Pi Network is not consulted")
	}
	piClient := payment.NewClient(cfg.PiAPIAddress, cfg.PiAPIKey, cfg.MockPay)

	collector := metrics.NewCollector()

	svc := service.NewService(store, piClient, logger, collector, service.Options{
		PointsPerPi:     cfg.PointsPerPi,
		FeePercent:      cfg.FeePercent,
		SellerDepositPi: cfg.SellerDepositPi,
		AdminPiUserID:   cfg.AdminPiUser,
	})
	defer svc.Close()

	autoConfirm, err := scheduler.New(svc, cfg.AutoConfirmSchedule, logger, collector)
	if err != nil {
		sugar.Fatalw("auto-confirm schedule error", "error", err.Error())
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, 2*cfg.RateLimitPerSecond, logger)
	h := handler.NewHandler(svc, logger, authMiddleware,
		handler.WithRateLimiter(rateLimiter),
		handler.WithMetrics(collector),
	)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Автоподтверждение отправленных заказов по расписанию
	g.Go(func() error {
		autoConfirm.Start(ctx)
		<-ctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return autoConfirm.Stop(stopCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				rateLimiter.Cleanup(now)
			}
		}
	})

	g.Go(func() error {
		sugar.Infow("starting marketplace server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
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

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
