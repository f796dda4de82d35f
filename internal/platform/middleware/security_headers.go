package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	apiCSP  = "default-src 'none'; frame-ancestors 'none'"
	fileCSP = "default-src 'none'; img-src 'self'; object-src 'self'; frame-ancestors 'self'"
)

// SecurityHeaders marks every portal response as uncacheable and locks down
// framing and content sniffing. Record file downloads get a CSP that still
// lets the portal's own viewer embed the attachment. HSTS is only sent when
// the server sits behind TLS.
func SecurityHeaders(secureTransport bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")

			if strings.HasSuffix(c.Request().URL.Path, "/file") {
				h.Set("X-Frame-Options", "SAMEORIGIN")
				h.Set("Content-Security-Policy", fileCSP)
			} else {
				h.Set("X-Frame-Options", "DENY")
				h.Set("Content-Security-Policy", apiCSP)
			}

			if secureTransport {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			return next(c)
		}
	}
}
