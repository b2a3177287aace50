// Package http provides the HTTP server implementation for the inference relay.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/xiaot623/relaychat/internal/service"
	"github.com/xiaot623/relaychat/internal/transport/http/relay"
	v1 "github.com/xiaot623/relaychat/internal/transport/http/v1"
)

// NewRelayServer creates and configures the relay HTTP server.
// A nil limiter disables rate limiting.
func NewRelayServer(svc *service.Service, limiter *RateLimiter, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(RequestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(CORSHeaders())
	if limiter != nil {
		e.Use(limiter.Middleware())
	}

	// Handlers
	relayHandler := relay.NewHandler(svc)
	v1Handler := v1.NewHandler(svc)

	// Register Routes
	relayHandler.RegisterRoutes(e)
	v1Handler.RegisterRoutes(e)

	return e
}
