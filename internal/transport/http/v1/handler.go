// Package v1 provides the relay's operational endpoints.
package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xiaot623/relaychat/internal/domain"
	"github.com/xiaot623/relaychat/internal/repository"
	"github.com/xiaot623/relaychat/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers operational routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/calls", h.ListCalls)
	e.GET("/v1/calls/:call_id", h.GetCall)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.service.Metrics().Registry(), promhttp.HandlerOpts{})))
	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// ListCalls returns recent relay calls from the ledger.
// GET /v1/calls?model=&limit=
func (h *Handler) ListCalls(c echo.Context) error {
	filter := store.CallFilter{Model: c.QueryParam("model")}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 500 {
			return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "limit must be between 1 and 500"})
		}
		filter.Limit = limit
	}

	calls, err := h.service.Store().ListCalls(c.Request().Context(), filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: err.Error()})
	}
	if calls == nil {
		calls = []domain.InferenceCall{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"calls": calls,
	})
}

// GetCall returns one ledger row.
// GET /v1/calls/:call_id
func (h *Handler) GetCall(c echo.Context) error {
	call, err := h.service.Store().GetCall(c.Request().Context(), c.Param("call_id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, domain.ErrorResponse{Error: "call not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, call)
}
