package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const requestIDHeader = "X-Request-ID"

// RequestID propagates the caller's request id, minting one when absent. The
// id rides on the response header and in the request context so logs and
// trace spans correlate with what the client saw.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}

			c.Set("request_id", id)
			c.Response().Header().Set(requestIDHeader, id)

			return next(c)
		}
	}
}
