package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// AccessLogMiddleware logs failed requests always and successful ones only
// in verbose mode.
type AccessLogMiddleware struct {
	logger  *slog.Logger
	verbose bool
}

// NewAccessLogMiddleware creates a new access log middleware
func NewAccessLogMiddleware(logger *slog.Logger, verbose bool) *AccessLogMiddleware {
	return &AccessLogMiddleware{logger: logger, verbose: verbose}
}

// Handle logs the request after the handler returns
func (m *AccessLogMiddleware) Handle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		start := time.Now()

		defer func() {
			status := statusOf(c, err)
			if status < http.StatusBadRequest && !m.verbose {
				return
			}

			req := c.Request()
			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("route", c.Path()),
				slog.String("uri", req.URL.Path),
				slog.Int("status", status),
				slog.Duration("latency", time.Since(start)),
				slog.String("remote_ip", c.RealIP()),
			}
			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
			}

			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			m.logger.LogAttrs(req.Context(), level, "HTTP request", attrs...)
		}()

		return next(c)
	}
}
