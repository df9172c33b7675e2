package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"globetales-service/internal/apperr"
	"globetales-service/internal/observability"
	"globetales-service/internal/ratelimit"
)

// RateLimit rejects callers over their budget with 429. Limiter failures let
// the request through.
func RateLimit(limiter ratelimit.Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := UserID(c)
		if key == "" {
			key = c.ClientIP()
		}

		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request", zap.Error(err), zap.String("key", key))
			c.Next()
			return
		}
		if !allowed {
			observability.IncRateLimited(c.FullPath())
			abort(c, apperr.RateLimited("Too many messages, slow down"))
			return
		}
		c.Next()
	}
}
