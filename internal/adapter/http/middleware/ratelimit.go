package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/allinbloomus-wq/allinbloom/internal/logging"
	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

// RateLimit enforces a per-client-IP fixed window via the shared limiter.
// Limiter trouble fails open: dropping checkouts because Redis blinked is
// worse than briefly losing the limit.
func RateLimit(limiter usecase.RateLimiter, name string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := name + ":" + c.ClientIP()
		allowed, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			logging.From(c).Warn("rate limiter unavailable", "error", err.Error())
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests."})
			return
		}
		c.Next()
	}
}
