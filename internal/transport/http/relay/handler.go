// Package relay serves the inference relay endpoint.
package relay

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/relaychat/internal/domain"
	"github.com/xiaot623/relaychat/internal/service"
)

// Handler handles relay requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new relay handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers relay routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/", h.Infer)
	e.OPTIONS("/", h.Preflight)
}

// Infer forwards one inference request upstream.
// POST /
func (h *Handler) Infer(c echo.Context) error {
	ctx := c.Request().Context()

	// Decoded directly: clients are not required to send a JSON content type.
	var req domain.InferenceRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: "invalid request body"})
	}

	result, err := h.service.Infer(ctx, &req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}

// Preflight answers CORS pre-flight requests without touching the dispatcher.
// OPTIONS /
func (h *Handler) Preflight(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
