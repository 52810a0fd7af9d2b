package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/storefront/libs/db"
	"github.com/md-rashed-zaman/storefront/libs/grpcx"
	"github.com/md-rashed-zaman/storefront/libs/httpx"
	"github.com/md-rashed-zaman/storefront/libs/kafkax"
	otelx "github.com/md-rashed-zaman/storefront/libs/otel"
	"github.com/md-rashed-zaman/storefront/libs/runtime"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/cache"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/consumer"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/scheduling"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/storage/sqlite"
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

	store, storeReady, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("storage init failed", "err", err, "driver", cfg.StorageDriver)
		panic(err)
	}
	defer closeStore()

	checks := []runtime.ReadyCheck{{Name: "db", Check: storeReady}}

	var availability scheduling.AvailabilityCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer func() { _ = rdb.Close() }()
		redisCache := cache.NewRedis(rdb, cfg.CacheTTL, "availability", logger)
		availability = redisCache
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: redisCache.Ping})
	} else {
		availability = cache.NewLRU(cfg.CacheSize, cfg.CacheTTL)
	}

	svc := scheduling.NewService(store, logger, scheduling.Options{
		Cache:   availability,
		Timeout: cfg.StoreTimeout,
	})

	sink, err := openSink(cfg)
	if err != nil {
		logger.Error("event sink init failed; outbox publishing disabled", "err", err, "sink", cfg.EventsSink)
	}
	publisher := outbox.NewPublisher(store, sink, logger, outbox.PublisherConfig{
		PollEvery: cfg.OutboxPollEvery,
		BatchSize: cfg.OutboxBatchSize,
	})
	go publisher.Run(ctx)

	if cfg.KafkaBrokers != "" {
		storefronts := consumer.New(logger, store, consumer.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
			Topic:   cfg.StorefrontTopic,
		}, consumer.StorefrontHandler(svc))
		go storefronts.Run(ctx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	} else {
		logger.Warn("storefront consumer disabled (no kafka brokers configured)")
	}

	grpcServer, _ := grpcx.NewServer(cfg.ServiceName)
	grpcLis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		panic(err)
	}
	go func() {
		logger.Info("grpc server starting", "addr", grpcLis.Addr().String())
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.NewSchedulingHandler(svc, logger).Register(mux)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "storage", cfg.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	grpcServer.GracefulStop()
	logger.Info("servers stopped")
}

func openStore(ctx context.Context, cfg serviceConfig) (storage.Store, func(context.Context) error, func(), error) {
	switch cfg.StorageDriver {
	case "sqlite":
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		store := sqlite.New(conn)
		if err := store.Migrate(ctx); err != nil {
			_ = conn.Close()
			return nil, nil, nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return store, db.SQLiteReadyCheck(conn), func() { _ = conn.Close() }, nil
	default:
		pool, err := db.OpenWithOptions(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns})
		if err != nil {
			return nil, nil, nil, err
		}
		store := storage.NewPostgres(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return store, db.ReadyCheck(pool), pool.Close, nil
	}
}

func openSink(cfg serviceConfig) (outbox.Sink, error) {
	switch cfg.EventsSink {
	case "kafka":
		if cfg.KafkaBrokers == "" {
			return nil, nil
		}
		return outbox.NewKafkaSink(cfg.KafkaBrokers), nil
	case "amqp":
		sink, err := outbox.NewAMQPSink(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, nil
	}
}
