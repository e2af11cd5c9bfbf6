package ratelimit

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Middleware struct {
	limiter RateLimiter
}

func NewMiddleware(limiter RateLimiter) *Middleware {
	return &Middleware{
		limiter: limiter,
	}
}

// IPRateLimit middleware for general IP-based rate limiting
func (m *Middleware) IPRateLimit() gin.HandlerFunc {
	return limit(m.limiter.AllowIPRequest, "Rate limit exceeded. Please try again later.", "RATE_LIMIT_IP")
}

// MapSessionLimit caps how many map connections one IP may open per hour.
func (m *Middleware) MapSessionLimit() gin.HandlerFunc {
	return limit(m.limiter.AllowMapSession, "Too many map sessions. Please try again later.", "RATE_LIMIT_SESSION")
}

func limit(allow func(ctx context.Context, ip string) (bool, error), message, code string) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to check rate limit",
			})
			c.Abort()
			return
		}

		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": message,
				"code":  code,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
