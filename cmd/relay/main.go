package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/relaychat/internal/adapter/hf"
	"github.com/xiaot623/relaychat/internal/config"
	"github.com/xiaot623/relaychat/internal/logging"
	"github.com/xiaot623/relaychat/internal/policy"
	"github.com/xiaot623/relaychat/internal/repository"
	"github.com/xiaot623/relaychat/internal/service"
	handler "github.com/xiaot623/relaychat/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg := config.LoadRelay()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting relay",
		zap.Int("port", cfg.HTTPPort),
		zap.String("upstream", cfg.UpstreamURL),
		zap.String("database", cfg.DatabaseURL),
		zap.String("mode", cfg.Mode))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Upstream presets
	models, err := config.LoadUpstreamModels(cfg.ModelsFile)
	if err != nil {
		return err
	}

	// Initialize call ledger
	db, err := store.OpenWithRetry(ctx, cfg.DatabaseURL, 10*time.Second, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	// Initialize policy engine
	policyEngine, err := policy.NewEngineFromFile(ctx, cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	// Initialize service
	inferencer := hf.NewInferencer(cfg.Mode, cfg.UpstreamURL, cfg.UpstreamAPIKey, cfg.UpstreamTimeout, logger)
	svc := service.New(db, inferencer, models, policyEngine, service.NewMetrics(), cfg.UpstreamTimeout, logger)

	var limiter *handler.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = handler.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	server := handler.NewRelayServer(svc, limiter, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("relay listening", zap.String("addr", addr))
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		svc.RunStaleCallMonitor(gctx, time.Minute)
		return nil
	})

	if limiter != nil {
		g.Go(func() error {
			limiter.RunCleanup(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down relay")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("relay stopped")
	return nil
}
