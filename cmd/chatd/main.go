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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/relaychat/internal/config"
	"github.com/xiaot623/relaychat/internal/hub"
	"github.com/xiaot623/relaychat/internal/logging"
	"github.com/xiaot623/relaychat/internal/relayclient"
	handler "github.com/xiaot623/relaychat/internal/transport/http"
	"github.com/xiaot623/relaychat/internal/transport/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg := config.LoadChat()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting chatd",
		zap.Int("port", cfg.HTTPPort),
		zap.String("relay_url", cfg.RelayURL),
		zap.Duration("request_timeout", cfg.RequestTimeout))
	if cfg.RelayToken == "" {
		logger.Warn("RELAY_TOKEN is empty, relay calls carry no credential")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize hub
	connectionHub := hub.NewHub(logger)

	// Initialize relay client and sessions
	relay := relayclient.NewClient(cfg.RelayURL, cfg.RelayToken, cfg.RequestTimeout)
	sessions := ws.NewSessionManager(connectionHub, ws.NewControllerFactory(cfg, relay, logger), logger)

	// Create WebSocket Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(handler.RequestLogger(logger))
	e.Use(middleware.Recover())
	ws.NewServer(cfg, connectionHub, sessions, logger).RegisterRoutes(e)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		connectionHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("chatd listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down chatd")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := e.Shutdown(shutdownCtx)
		sessions.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("chatd stopped")
	return nil
}
