package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/askwhyharsh/geotrack/internal/api"
	"github.com/askwhyharsh/geotrack/internal/config"
	"github.com/askwhyharsh/geotrack/internal/geocode"
	"github.com/askwhyharsh/geotrack/internal/observability"
	"github.com/askwhyharsh/geotrack/internal/publish"
	"github.com/askwhyharsh/geotrack/internal/ratelimit"
	"github.com/askwhyharsh/geotrack/internal/routing"
	"github.com/askwhyharsh/geotrack/internal/storage"
	"github.com/askwhyharsh/geotrack/internal/websocket"
	"github.com/askwhyharsh/geotrack/pkg/logger"
	"github.com/askwhyharsh/geotrack/pkg/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.NewLogger(cfg.Server.Env, cfg.Monitoring.LogLevel)
	appLogger.Info("Starting geotrack map server...")

	redisClient := connectRedis(cfg, appLogger)
	defer redisClient.Close()

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics, err := observability.NewCollector(nil)
	if err != nil {
		appLogger.Error("Failed to register metrics", "error", err)
		os.Exit(1)
	}

	rateLimiter := ratelimit.NewLimiter(redisClient, cfg.RateLimit, cfg.Geocoder.RequestsPerS)

	nominatim := geocode.NewNominatimProvider(cfg.Geocoder.BaseURL, cfg.Geocoder.UserAgent, cfg.Geocoder.Timeout,
		geocode.WithLimiter(rateLimiter))
	resolver := geocode.NewResolver(appLogger, metrics,
		geocode.NewCache(nominatim, redisClient, cfg.Geocoder.CacheTTL, appLogger))

	routingClient := routing.NewClient(cfg.Routing.BaseURL, cfg.Routing.Timeout)
	locationStore := publish.NewLocationStore(redisClient, cfg.Publish.LocationTTL, 0)

	hub := websocket.NewHub(ctx, redisClient, appLogger)
	go hub.Run()

	sessions := api.NewMapSessionFactory(routingClient, resolver, metrics, cfg, appLogger)
	wsHandler := websocket.NewHandler(hub, sessions, cfg.Server.AllowedOrigins, appLogger)

	apiHandler := api.NewHandler(resolver, locationStore, hub, redisClient, validator.NewValidator(), appLogger)

	if cfg.Postgres.Enabled {
		pg, err := storage.NewPostgresClient(cfg.Postgres.DSN)
		if err != nil {
			appLogger.Warn("Postgres unavailable, history disabled", "error", err)
		} else {
			defer pg.Close()
			apiHandler.SetHistory(pg)
			appLogger.Info("Connected to Postgres")
		}
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	api.SetupRoutes(router, apiHandler, wsHandler, ratelimit.NewMiddleware(rateLimiter), api.RouteOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        metrics,
		MetricsEnabled: cfg.Monitoring.EnableMetrics,
		Logger:         appLogger,
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: map websockets stay open for the whole session
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		appLogger.Info("Server starting", "address", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Cancel context to close bridge connections and their sessions
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server stopped")
}

// connectRedis falls back to an in-process store so a single instance still
// works without Redis.
func connectRedis(cfg *config.Config, log logger.Logger) storage.RedisClient {
	if !cfg.Redis.Enabled {
		log.Info("Redis disabled, using in-memory store")
		return storage.NewMemoryClient()
	}
	client, err := storage.NewRedisClient(cfg)
	if err != nil {
		log.Warn("Failed to connect to Redis, using in-memory store", "address", cfg.RedisAddr(), "error", err)
		return storage.NewMemoryClient()
	}
	log.Info("Connected to Redis", "address", cfg.RedisAddr())
	return client
}
