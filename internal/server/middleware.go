package server

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/checkout/internal/apperror"
	"github.com/smallbiznis/checkout/internal/ratelimit"
	"github.com/smallbiznis/checkout/pkg/log/ctxlogger"
	"go.uber.org/zap"
)

// RequestLogger writes one access line per request. Server errors log at
// error level with the underlying cause, client errors at warn.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}

		entry := ctxlogger.WithContext(c.Request.Context(), log)
		lastErr := c.Errors.Last()
		switch {
		case status >= 500:
			if lastErr != nil {
				fields = append(fields, zap.Error(lastErr.Err))
			}
			entry.Error("request failed", fields...)
		case status >= 400:
			if lastErr != nil {
				fields = append(fields, zap.String("error_kind", string(apperror.KindOf(lastErr.Err))))
			}
			entry.Warn("request rejected", fields...)
		default:
			entry.Info("request", fields...)
		}
	}
}

// RateLimit throttles a route per client address. Limiter faults fail open.
func RateLimit(limiter *ratelimit.Limiter, scope string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Enabled() {
			c.Next()
			return
		}

		res, err := limiter.Allow(c.Request.Context(), scope, c.ClientIP())
		if err != nil {
			ctxlogger.WithContext(c.Request.Context(), log).Warn("rate limiter unavailable",
				zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			AbortWithError(c, apperror.ErrRateLimited)
			return
		}
		c.Next()
	}
}
