package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/storefront/libs/auth"
	"github.com/md-rashed-zaman/storefront/libs/httpx"
	otelx "github.com/md-rashed-zaman/storefront/libs/otel"
	"github.com/md-rashed-zaman/storefront/libs/runtime"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := runtime.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.ServiceName)

	ctx, stop := runtime.SignalContext()
	defer stop()

	defer otelx.Start(ctx, cfg.ServiceName, logger)()

	upstream, err := newUpstreamHealth(cfg.SchedulingGRPCAddr, cfg.SchedulingHealth)
	if err != nil {
		logger.Error("scheduling health client setup failed", "err", err)
		return
	}
	defer upstream.Close()
	mux := runtime.NewBaseMuxWithReady(runtime.ReadyCheck{Name: "scheduling", Check: upstream.Check})

	var jwks *auth.JWKSClient
	if cfg.JWKSURL != "" {
		jwks = auth.NewJWKSClient(cfg.JWKSURL, cfg.JWKSCacheTTL)
	}
	registerRoutes(mux, cfg.scheduling, auth.NewVerifier(cfg.JWTSecret, jwks))

	limiter, closeLimiter := newRateLimit(cfg, logger)
	defer closeLimiter()

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   cfg.CORSMethods,
			AllowedHeaders:   cfg.CORSHeaders,
			ExposedHeaders:   []string{httpx.RequestIDHeader, "Retry-After"},
			AllowCredentials: cfg.CORSCredentials,
			MaxAge:           cfg.CORSMaxAge,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(cfg.BodyLimitBytes),
		httpx.WithTimeout(cfg.RequestTimeout),
		limiter,
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler, "gateway"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "scheduling_url", cfg.scheduling.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// newRateLimit prefers the shared Redis window when REDIS_ADDR is set so all
// gateway replicas count against one budget.
func newRateLimit(cfg gatewayConfig, logger *slog.Logger) (httpx.Middleware, func()) {
	if cfg.RedisAddr == "" {
		logger.Info("rate limiting enabled (in-memory)", "per_minute", cfg.RateLimitPerMin)
		return httpx.NewRateLimiter(cfg.RateLimitPerMin, time.Minute).Middleware(), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	rl := httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMin, time.Minute, cfg.RateLimitPrefix)
	logger.Info("rate limiting enabled (redis)", "per_minute", cfg.RateLimitPerMin, "redis_addr", cfg.RedisAddr)
	return rl.Middleware(logger, cfg.RateLimitFailOpen), func() { _ = rdb.Close() }
}
