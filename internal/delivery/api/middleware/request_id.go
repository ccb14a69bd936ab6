package middleware

import (
	logs "shopdesk/internal/infra/log"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const maxRequestIDLength = 128

// RequestID keeps the caller's X-Request-Id or assigns a new one, echoes it
// on the response and stores it on the request context for logging.
func RequestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		id := req.Header.Get(echo.HeaderXRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}

		c.Response().Header().Set(echo.HeaderXRequestID, id)
		c.SetRequest(req.WithContext(logs.WithRequestID(req.Context(), id)))

		return next(c)
	}
}
