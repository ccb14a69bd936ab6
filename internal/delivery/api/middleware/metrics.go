package middleware

import (
	"net/http"
	"strconv"
	"time"

	domainerrors "shopdesk/internal/domain/errors"
	"shopdesk/internal/errors"

	"github.com/labstack/echo/v4"
)

// HTTPMetrics receives one observation per served request.
type HTTPMetrics interface {
	ObserveHTTPRequestDuration(method, path, code string, duration float64)
}

// MetricsMiddleware times requests by route template.
type MetricsMiddleware struct {
	metrics HTTPMetrics
}

// NewMetricsMiddleware creates a new request metrics middleware
func NewMetricsMiddleware(metrics HTTPMetrics) *MetricsMiddleware {
	return &MetricsMiddleware{metrics: metrics}
}

// Handle observes the request once the handler returns
func (m *MetricsMiddleware) Handle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		start := time.Now()

		defer func() {
			path := c.Path()
			if path == "" {
				path = "unknown"
			}

			m.metrics.ObserveHTTPRequestDuration(
				c.Request().Method,
				path,
				strconv.Itoa(statusOf(c, err)),
				time.Since(start).Seconds(),
			)
		}()

		return next(c)
	}
}

// statusOf reports the status the error handler will write for an
// uncommitted response.
func statusOf(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}

	var appErr domainerrors.AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPCode()
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}

	return http.StatusInternalServerError
}
