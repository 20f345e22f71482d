package main

import (
	"context"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/duynhne/pkg/logger/zerolog"
	"github.com/duynhne/sync-gateway/config"
	database "github.com/duynhne/sync-gateway/internal/core"
	"github.com/duynhne/sync-gateway/internal/core/cache"
	"github.com/duynhne/sync-gateway/internal/core/domain"
	"github.com/duynhne/sync-gateway/internal/core/electric"
	"github.com/duynhne/sync-gateway/internal/core/identity"
	"github.com/duynhne/sync-gateway/internal/core/repository"
	logicv1 "github.com/duynhne/sync-gateway/internal/logic/v1"
	v1 "github.com/duynhne/sync-gateway/internal/web/v1"
	"github.com/duynhne/sync-gateway/middleware"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic("Configuration validation failed: " + err.Error())
	}

	// Initialize Zerolog with LOG_LEVEL from config
	zerolog.Setup(cfg.Logging.Level)

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("env", cfg.Service.Env).
		Str("port", cfg.Service.Port).
		Msg("Service starting")

	// Initialize OpenTelemetry tracing
	var tp interface{ Shutdown(context.Context) error }
	if cfg.Tracing.Enabled {
		provider, err := middleware.InitTracing(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing")
		} else {
			tp = provider
			log.Info().
				Str("endpoint", cfg.Tracing.Endpoint).
				Float64("sample_rate", cfg.Tracing.SampleRate).
				Msg("Tracing initialized")
		}
	} else {
		log.Info().Msg("Tracing disabled (TRACING_ENABLED=false)")
	}

	// Initialize Pyroscope profiling
	if cfg.Profiling.Enabled {
		if err := middleware.InitProfiling(cfg); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize profiling")
		} else {
			log.Info().
				Str("endpoint", cfg.Profiling.Endpoint).
				Msg("Profiling initialized")
			defer middleware.StopProfiling()
		}
	} else {
		log.Info().Msg("Profiling disabled (PROFILING_ENABLED=false)")
	}

	// Initialize database connection pool (pgx)
	pool, err := database.Connect(context.Background(), cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()
	log.Info().Msg("Database connection pool established")

	// Session cache: Redis when configured, in-process otherwise
	var sessionCache domain.SessionCache
	var closeCache func() error
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisSessionCache(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
		}
		sessionCache = redisCache
		closeCache = redisCache.Close
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis session cache connected")
	} else {
		sessionCache = cache.NewMemorySessionCache(cfg.Session.CacheSize, cfg.GetSessionCacheMaxTTLDuration(), nil)
		log.Info().Int("size", cfg.Session.CacheSize).Msg("In-process session cache (REDIS_ADDR not set)")
	}

	identityClient, err := identity.NewClient(identity.Options{
		BaseURL:        cfg.Identity.BaseURL,
		APIKey:         cfg.Identity.APIKey,
		ClientID:       cfg.Identity.ClientID,
		CookiePassword: cfg.Identity.CookiePassword,
		Timeout:        cfg.GetIdentityTimeoutDuration(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create identity client")
	}

	shapeClient, err := electric.NewClient(electric.Options{
		BaseURL:               cfg.Electric.URL,
		SourceID:              cfg.Electric.SourceID,
		Secret:                cfg.Electric.Secret,
		ResponseHeaderTimeout: cfg.GetElectricResponseHeaderTimeoutDuration(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create shape service client")
	}

	// Wire logic layer
	validator, err := logicv1.NewSessionValidator(identityClient, sessionCache, logicv1.SessionValidatorOptions{
		KeySecret: cfg.Identity.CookiePassword,
		MaxTTL:    cfg.GetSessionCacheMaxTTLDuration(),
		Skew:      cfg.GetSessionCacheSkewDuration(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create session validator")
	}

	policy, err := logicv1.NewPolicyEngine(logicv1.DefaultRules())
	if err != nil {
		log.Fatal().Err(err).Msg("Table policy is incomplete")
	}

	gateway := logicv1.NewGatewayService(
		validator,
		repository.NewUserRepository(pool),
		logicv1.NewAccessContextBuilder(repository.NewAccessRepository(pool)),
		policy,
	)
	handler := v1.NewHandler(gateway, shapeClient, cfg.Session.CookieName)

	if cfg.Service.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	// gin.Default's logger prints raw query strings; access lines come from LoggingMiddleware.
	r := gin.New()
	r.Use(gin.Recovery())

	var isShuttingDown atomic.Bool

	// Tracing middleware
	r.Use(middleware.TracingMiddleware(cfg.Service.Name))

	// Logging middleware
	r.Use(middleware.LoggingMiddleware())

	// Prometheus middleware
	r.Use(middleware.PrometheusMiddleware())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Readiness check
	// Returns 503 once shutdown has started, to drain traffic before HTTP shutdown.
	r.GET("/ready", func(c *gin.Context) {
		if isShuttingDown.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database_unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Shape proxy
	handler.RegisterRoutes(r.Group(""))

	// Create HTTP server. No WriteTimeout: live shape requests are long polls.
	srv := &http.Server{
		Addr:              ":" + cfg.Service.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.Service.Port).Msg("Starting sync gateway")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	// Fail readiness first and wait for propagation.
	isShuttingDown.Store(true)
	drainDelay := cfg.GetReadinessDrainDelayDuration()
	if drainDelay > 0 {
		log.Info().Dur("delay", drainDelay).Msg("Readiness drain delay started")
		time.Sleep(drainDelay)
		log.Info().Dur("delay", drainDelay).Msg("Readiness drain delay completed")
	}

	// Shutdown context with configurable timeout
	shutdownTimeout := cfg.GetShutdownTimeoutDuration()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info().Dur("timeout", shutdownTimeout).Msg("Shutting down server...")

	// 1. Shutdown HTTP server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		log.Info().Msg("HTTP server shutdown complete")
	}

	// 2. Close session cache
	if closeCache != nil {
		if err := closeCache(); err != nil {
			log.Error().Err(err).Msg("Session cache close error")
		} else {
			log.Info().Msg("Session cache closed")
		}
	}

	// 3. Close database connections
	pool.Close()
	log.Info().Msg("Database pool closed")

	// 4. Shutdown tracer
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Tracer shutdown error")
		} else {
			log.Info().Msg("Tracer shutdown complete")
		}
	}

	log.Info().Msg("Graceful shutdown complete")
}
