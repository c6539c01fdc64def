// Package main запускает HTTP-сервер сервиса коинзон.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tdnguyen/coinzone-system/internal/config"
	"github.com/tdnguyen/coinzone-system/internal/googleauth"
	"github.com/tdnguyen/coinzone-system/internal/handler"
	"github.com/tdnguyen/coinzone-system/internal/middleware"
	"github.com/tdnguyen/coinzone-system/internal/offers"
	"github.com/tdnguyen/coinzone-system/internal/repository"
	"github.com/tdnguyen/coinzone-system/internal/service"
	"github.com/tdnguyen/coinzone-system/internal/sheet"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	_ = godotenv.Load()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	offersClient := offers.NewClient(cfg.OffersAPIAddress, cfg.OffersAPIKey, cfg.OffersTimeout)
	verifier := googleauth.NewVerifier(cfg.GoogleAudience)
	sink := sheet.NewClient(cfg.SheetSinkAddress, cfg.SheetSinkToken)

	svc := service.NewService(repo, verifier, sink, service.Options{
		SignupBonus:    cfg.SignupBonus,
		ReferralBonus:  cfg.ReferralBonus,
		DailyBonus:     cfg.DailyBonus,
		AdGrantCeiling: cfg.AdGrantCeiling,
		AdminSecret:    cfg.AdminSecret,
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.SessionSecret)
	h := handler.NewHandler(svc, offersClient, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting coinzone server", "addr", cfg.RunAddress)
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
