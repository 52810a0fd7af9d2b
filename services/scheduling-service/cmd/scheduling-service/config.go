package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/storefront/libs/config"
)

type serviceConfig struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"scheduling-service"`
	Port        string `envconfig:"PORT" default:"8083"`
	GRPCPort    string `envconfig:"GRPC_PORT" default:"9093"`

	StorageDriver string        `envconfig:"STORAGE_DRIVER" default:"postgres"`
	DatabaseURL   string        `envconfig:"DATABASE_URL"`
	SQLitePath    string        `envconfig:"SQLITE_PATH" default:"scheduling.db"`
	StoreTimeout  time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	DBMaxConns    int32         `envconfig:"DB_MAX_CONNS" default:"10"`

	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"30s"`
	CacheSize     int           `envconfig:"CACHE_SIZE" default:"1024"`

	EventsSink      string        `envconfig:"EVENTS_SINK" default:"kafka"`
	KafkaBrokers    string        `envconfig:"KAFKA_BROKERS"`
	KafkaGroupID    string        `envconfig:"KAFKA_GROUP_ID" default:"scheduling-service"`
	StorefrontTopic string        `envconfig:"KAFKA_STOREFRONT_TOPIC" default:"catalog.storefront.upserted.v1"`
	AMQPURL         string        `envconfig:"AMQP_URL"`
	AMQPExchange    string        `envconfig:"AMQP_EXCHANGE" default:"scheduling"`
	OutboxPollEvery time.Duration `envconfig:"OUTBOX_POLL_EVERY" default:"2s"`
	OutboxBatchSize int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`
}

func loadConfig() (serviceConfig, error) {
	var cfg serviceConfig
	if err := config.Process("", &cfg); err != nil {
		return serviceConfig{}, err
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.EventsSink = strings.ToLower(strings.TrimSpace(cfg.EventsSink))

	for name, port := range map[string]string{"PORT": cfg.Port, "GRPC_PORT": cfg.GRPCPort} {
		if err := config.ValidatePort(name, port); err != nil {
			return serviceConfig{}, err
		}
	}
	switch cfg.StorageDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return serviceConfig{}, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case "sqlite":
	default:
		return serviceConfig{}, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	switch cfg.EventsSink {
	case "kafka", "none":
	case "amqp":
		if cfg.AMQPURL == "" {
			return serviceConfig{}, fmt.Errorf("AMQP_URL is required for the amqp sink")
		}
	default:
		return serviceConfig{}, fmt.Errorf("unknown EVENTS_SINK %q", cfg.EventsSink)
	}
	return cfg, nil
}
