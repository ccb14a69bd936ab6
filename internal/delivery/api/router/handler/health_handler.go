package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"shopdesk/internal/delivery/api/response"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether a database session can be opened.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerReporter exposes the session circuit breaker state.
type BreakerReporter interface {
	BreakerState() string
}

// HealthHandlerParams holds dependencies for HealthHandler, injected by Fx.
type HealthHandlerParams struct {
	fx.In

	Pinger  Pinger
	Breaker BreakerReporter `optional:"true"`
	Logger  *slog.Logger
}

// HealthHandler serves liveness and readiness
type HealthHandler struct {
	pinger  Pinger
	breaker BreakerReporter
	logger  *slog.Logger
}

// NewHealthHandler is the constructor for HealthHandler
func NewHealthHandler(params HealthHandlerParams) *HealthHandler {
	return &HealthHandler{
		pinger:  params.Pinger,
		breaker: params.Breaker,
		logger:  params.Logger,
	}
}

type healthStatus struct {
	Status  string `json:"status"`
	Breaker string `json:"breaker,omitempty"`
}

// Live always answers once the process is serving.
func (h *HealthHandler) Live(c echo.Context) error {
	return response.Success(c, http.StatusOK, healthStatus{Status: "ok"})
}

// Ready checks that a database session can be opened.
func (h *HealthHandler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	status := healthStatus{Status: "ok"}
	if h.breaker != nil {
		status.Breaker = h.breaker.BreakerState()
	}

	if err := h.pinger.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "Readiness check failed", slog.Any("error", err))

		return response.ServiceUnavailable(c, "NOT_READY", "database is unavailable")
	}

	return response.Success(c, http.StatusOK, status)
}
