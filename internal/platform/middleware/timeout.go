package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// streaming reports record file downloads and multipart uploads.
func streaming(c echo.Context) bool {
	req := c.Request()
	if strings.HasSuffix(req.URL.Path, "/file") {
		return true
	}
	return strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}

// RequestTimeout puts a deadline on each request's context and answers 504
// when the handler has not finished in time. The websocket endpoint has no
// deadline. Streaming requests get twice the deadline and are never cut off
// with a 504.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().URL.Path == "/ws" {
				return next(c)
			}
			if streaming(c) {
				ctx, cancel := context.WithTimeout(c.Request().Context(), 2*timeout)
				defer cancel()
				c.SetRequest(c.Request().WithContext(ctx))
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")
				}
				return ctx.Err()
			}
		}
	}
}
