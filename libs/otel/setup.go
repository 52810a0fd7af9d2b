// Package otelx wires OpenTelemetry tracing for the services.
package otelx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/storefront/libs/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

type Config struct {
	Enabled      bool    `envconfig:"OTEL_ENABLED" default:"true"`
	OTLPEndpoint string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"jaeger:4317"`
	SampleRatio  float64 `envconfig:"OTEL_SAMPLING_RATIO" default:"1"`
	Environment  string  `envconfig:"DEPLOY_ENV" default:"dev"`
	ServiceName  string  `ignored:"true"`
}

// ConfigFromEnv reads the OTEL_* settings for serviceName.
func ConfigFromEnv(serviceName string) (Config, error) {
	var cfg Config
	if err := config.Process("", &cfg); err != nil {
		return Config{}, err
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return Config{}, fmt.Errorf("OTEL_SAMPLING_RATIO must be within [0,1] (got %v)", cfg.SampleRatio)
	}
	cfg.ServiceName = serviceName
	return cfg, nil
}

// Setup installs the W3C propagators and, when enabled, an OTLP batch
// exporter. The returned func flushes and stops the provider.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Start reads the environment, installs tracing and returns a stop func for
// deferred use. Setup failures are logged and leave tracing disabled.
func Start(ctx context.Context, serviceName string, logger *slog.Logger) func() {
	cfg, err := ConfigFromEnv(serviceName)
	if err != nil {
		logger.Error("otel config invalid", "err", err)
		return func() {}
	}
	shutdown, err := Setup(ctx, cfg)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown failed", "err", err)
		}
	}
}
