package routers

import (
	"net/http"

	"BookEmpire-server/logger"
	"BookEmpire-server/metrics"
	"BookEmpire-server/middleware"
	"BookEmpire-server/routers/api"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type Options struct {
	DB          *gorm.DB
	Auth        middleware.AuthConfig
	RateLimiter *middleware.RateLimiter
	Log         zerolog.Logger
}

func NewRouter(h *api.Handler, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(logger.GinLogger(opts.Log), gin.Recovery(), metrics.Middleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())

	// Payment-provider callbacks carry their own signature instead of a session.
	r.POST("/api/stripe/webhook", h.StripeWebhook)

	authed := r.Group("/api", middleware.Auth(opts.DB, opts.Auth, opts.Log))
	{
		authed.GET("/me", h.Me)

		generate := []gin.HandlerFunc{h.GenerateBook}
		if opts.RateLimiter != nil {
			generate = append([]gin.HandlerFunc{middleware.RateLimit(opts.RateLimiter)}, generate...)
		}
		authed.POST("/books/generate", generate...)
		authed.GET("/books", h.ListBooks)
		authed.GET("/books/:id", h.GetBook)
		authed.GET("/books/:id/export", h.ExportBook)
		authed.GET("/books/:id/publishing/:platform", h.PublishingMetadata)
		authed.GET("/books/:id/ws", h.BookProgressWebSocket)

		authed.POST("/stripe/checkout", h.Checkout)
	}
	return r
}
