package middleware

import (
	"log/slog"
	"net/http"

	"shopdesk/internal/delivery/api/response"
	domainerrors "shopdesk/internal/domain/errors"
	"shopdesk/internal/errors"

	"github.com/labstack/echo/v4"
)

// ErrorMiddleware is the echo HTTPErrorHandler. Application errors keep
// their status and code; anything unrecognised becomes an opaque 500.
type ErrorMiddleware struct {
	logger *slog.Logger
}

// NewErrorMiddleware creates a new error handling middleware
func NewErrorMiddleware(logger *slog.Logger) *ErrorMiddleware {
	return &ErrorMiddleware{logger: logger}
}

// HandleHTTPError writes the error response unless the handler already did.
func (m *ErrorMiddleware) HandleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	ctx := c.Request().Context()

	var appErr domainerrors.AppError
	if errors.As(err, &appErr) {
		// Busy and exhausted retries are "try again" outcomes, not faults.
		if errors.IsAny(err, domainerrors.ErrBusy, domainerrors.ErrUnavailable) {
			m.logger.InfoContext(ctx, "Request deferred",
				slog.String("code", appErr.ErrorCode()),
				slog.Any("error", err),
			)
		} else if appErr.HTTPCode() >= http.StatusInternalServerError {
			m.logger.ErrorContext(ctx, "Request failed",
				slog.String("code", appErr.ErrorCode()),
				slog.Any("error", err),
			)
		}
		_ = response.HandleAppError(c, err)

		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		message := http.StatusText(httpErr.Code)
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		}
		_ = response.Error(c, httpErr.Code, "HTTP_ERROR", message, nil)

		return
	}

	m.logger.ErrorContext(ctx, "Unhandled error",
		slog.Any("error", err),
		slog.String("method", c.Request().Method),
		slog.String("route", c.Path()),
	)
	_ = response.InternalServerError(c, "INTERNAL_ERROR", "Internal server error, please try again later")
}
