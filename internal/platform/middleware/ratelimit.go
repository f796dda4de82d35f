package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/healthportal/portal/internal/platform/auth"
)

// RateLimitConfig sets the per-caller budgets. Writes to record and consent
// routes draw from their own, tighter budget.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int

	WriteRequestsPerSecond float64
	WriteBurstSize         int
	WritePrefixes          []string

	// IdleTTL is how long a caller's bucket survives without traffic.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns the budgets used when nothing is configured.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond:      100,
		BurstSize:              200,
		WriteRequestsPerSecond: 5,
		WriteBurstSize:         20,
		WritePrefixes:          []string{"/api/v1/records", "/api/v1/consents"},
		IdleTTL:                3 * time.Minute,
	}
}

func (cfg RateLimitConfig) isWrite(c echo.Context) bool {
	switch c.Request().Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	path := c.Request().URL.Path
	for _, prefix := range cfg.WritePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// retryAfter is the whole number of seconds until one token refills.
func retryAfter(perSecond float64) string {
	if perSecond <= 0 {
		return "1"
	}
	return strconv.Itoa(int(math.Ceil(1 / perSecond)))
}

// RateLimit limits each caller, keyed by account when authenticated and by
// IP otherwise. Buckets idle for longer than IdleTTL are evicted.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	reads := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.RequestsPerSecond),
		Burst:     cfg.BurstSize,
		ExpiresIn: cfg.IdleTTL,
	})
	writes := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.WriteRequestsPerSecond),
		Burst:     cfg.WriteBurstSize,
		ExpiresIn: cfg.IdleTTL,
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
				key = "user:" + uid
			}

			store, perSecond := reads, cfg.RequestsPerSecond
			if cfg.isWrite(c) {
				store, perSecond = writes, cfg.WriteRequestsPerSecond
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.FormatFloat(perSecond, 'f', -1, 64))
			allowed, err := store.Allow(key)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "rate limiter unavailable")
			}
			if !allowed {
				h.Set("Retry-After", retryAfter(perSecond))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
