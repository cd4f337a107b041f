package ratelimit

import (
	"fmt"
	"net/http"

	"voice-bridge/internal/observability"

	"github.com/gin-gonic/gin"
)

// Middleware limits requests per client IP. Redis errors let the request through.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.Enabled() {
			c.Next()
			return
		}

		clientIP := observability.GetRealClientIP(c)
		ctx := observability.WithFields(c.Request.Context(),
			observability.Field{Key: "client_ip", Value: clientIP},
			observability.Field{Key: "rate_limit_rpm", Value: s.limit},
		)

		result, err := s.CheckRateLimit(ctx, clientIP)
		if err != nil {
			s.logger.Error(ctx, "rate limit check failed, allowing request", err)
			c.Next()
			return
		}

		// Add rate limit headers
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetAt.Unix()))

		if !result.Allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", (result.RetryAfterMs+999)/1000))
			s.logger.Warn(ctx, "rate limit exceeded")

			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"code":        "RATE_LIMIT_EXCEEDED",
				"limit":       result.Limit,
				"retry_after": (result.RetryAfterMs + 999) / 1000,
				"reset_at":    result.ResetAt.Unix(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
