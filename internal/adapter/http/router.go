package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/allinbloomus-wq/allinbloom/internal/adapter/http/middleware"
	"github.com/allinbloomus-wq/allinbloom/internal/logging"
	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

type RateLimits struct {
	CheckoutPerMinute int
	WebhookPerMinute  int
	Window            time.Duration
}

func NewRouter(ch *CheckoutHandler, wh *WebhookHandler, identity *middleware.Identity, limiter usecase.RateLimiter, limits RateLimits) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.MetricsMiddleware())

	l := logging.New("http")
	r.Use(middleware.Logging(l))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})
	// Prometheus endpoint (scraped by Prometheus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	checkoutLimit := middleware.RateLimit(limiter, "checkout", limits.CheckoutPerMinute, limits.Window)
	webhookLimit := middleware.RateLimit(limiter, "webhook", limits.WebhookPerMinute, limits.Window)

	api := r.Group("/api")
	{
		checkout := api.Group("/checkout", identity.Optional())
		{
			checkout.POST("", checkoutLimit, ch.Checkout)
			checkout.POST("/cancel", checkoutLimit, ch.Cancel)
			checkout.POST("/status", ch.Status)
		}

		api.POST("/paypal/capture", identity.Optional(), checkoutLimit, wh.Capture)

		webhooks := api.Group("/webhooks", webhookLimit)
		{
			webhooks.POST("/stripe", wh.Stripe)
			webhooks.POST("/paypal", wh.PayPal)
		}
	}

	return r
}
