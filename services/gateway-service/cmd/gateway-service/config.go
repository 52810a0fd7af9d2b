package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/md-rashed-zaman/storefront/libs/config"
)

type gatewayConfig struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"gateway-service"`
	Port        string `envconfig:"PORT" default:"8080"`

	SchedulingURL      string `envconfig:"SCHEDULING_URL" default:"http://scheduling-service:8083"`
	SchedulingGRPCAddr string `envconfig:"SCHEDULING_GRPC_ADDR" default:"scheduling-service:9093"`
	SchedulingHealth   string `envconfig:"SCHEDULING_HEALTH_SERVICE" default:"scheduling-service"`

	JWTSecret    string        `envconfig:"JWT_SECRET" default:"dev-secret"`
	JWKSURL      string        `envconfig:"JWKS_URL"`
	JWKSCacheTTL time.Duration `envconfig:"JWKS_CACHE_TTL" default:"5m"`

	RedisAddr         string `envconfig:"REDIS_ADDR"`
	RedisPassword     string `envconfig:"REDIS_PASSWORD"`
	RedisDB           int    `envconfig:"REDIS_DB" default:"0"`
	RateLimitPerMin   int    `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`
	RateLimitPrefix   string `envconfig:"RATE_LIMIT_PREFIX" default:"rl"`
	RateLimitFailOpen bool   `envconfig:"RATE_LIMIT_FAIL_OPEN" default:"true"`

	CORSOrigins     []string      `envconfig:"CORS_ALLOWED_ORIGINS"`
	CORSMethods     []string      `envconfig:"CORS_ALLOWED_METHODS" default:"GET,POST,PUT,DELETE,OPTIONS"`
	CORSHeaders     []string      `envconfig:"CORS_ALLOWED_HEADERS" default:"Authorization,Content-Type,X-Request-Id"`
	CORSCredentials bool          `envconfig:"CORS_ALLOW_CREDENTIALS" default:"false"`
	CORSMaxAge      time.Duration `envconfig:"CORS_MAX_AGE" default:"10m"`

	BodyLimitBytes int64         `envconfig:"REQUEST_BODY_LIMIT_BYTES" default:"1048576"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`

	scheduling *url.URL
}

func loadConfig() (gatewayConfig, error) {
	var cfg gatewayConfig
	if err := config.Process("", &cfg); err != nil {
		return gatewayConfig{}, err
	}
	if err := config.ValidatePort("PORT", cfg.Port); err != nil {
		return gatewayConfig{}, err
	}
	if cfg.RateLimitPerMin <= 0 {
		return gatewayConfig{}, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	u, err := url.Parse(cfg.SchedulingURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return gatewayConfig{}, fmt.Errorf("SCHEDULING_URL must be an absolute URL (got %q)", cfg.SchedulingURL)
	}
	cfg.scheduling = u
	cfg.CORSOrigins = trimList(cfg.CORSOrigins)
	cfg.CORSMethods = trimList(cfg.CORSMethods)
	cfg.CORSHeaders = trimList(cfg.CORSHeaders)
	return cfg, nil
}

func trimList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
