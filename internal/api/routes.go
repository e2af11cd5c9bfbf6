package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/askwhyharsh/geotrack/internal/observability"
	"github.com/askwhyharsh/geotrack/internal/ratelimit"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

type MapSocketHandler interface {
	HandleMap(c *gin.Context)
}

type RouteOptions struct {
	AllowedOrigins []string
	Metrics        *observability.Collector
	// MetricsEnabled exposes /metrics.
	MetricsEnabled bool
	Logger         logger.Logger
}

func SetupRoutes(r *gin.Engine, handler *Handler, wsHandler MapSocketHandler, rlMiddleware *ratelimit.Middleware, opts RouteOptions) {
	// Apply global middleware
	r.Use(RecoveryMiddleware(opts.Logger))
	r.Use(RequestLogger(opts.Logger))
	r.Use(MetricsMiddleware(opts.Metrics))
	r.Use(CORSMiddleware(opts.AllowedOrigins))

	api := r.Group("/api")
	{
		// Health check (no rate limit)
		api.GET("/health", handler.Health)

		limited := api.Group("", rlMiddleware.IPRateLimit())
		limited.GET("/geocode/reverse", handler.ReverseGeocode)

		location := limited.Group("/location")
		{
			location.GET("/order/:orderId", handler.OrderLocation)
			location.GET("/order/:orderId/history", handler.OrderHistory)
			location.GET("/nearby", handler.NearbyOrders)
		}
	}

	r.GET("/map", handler.MapPage)
	r.GET("/ws/map", rlMiddleware.MapSessionLimit(), wsHandler.HandleMap)

	if opts.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse("Not found", "NOT_FOUND"))
	})
}
