package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "shopfloor/configs"
	"shopfloor/pkg/api"
	"shopfloor/pkg/auth"
	"shopfloor/pkg/coordination"
	"shopfloor/pkg/coordination/etcd"
	"shopfloor/pkg/logger"
	tracing "shopfloor/pkg/observability"
	"shopfloor/pkg/storage"
	"shopfloor/pkg/storage/postgres"
	"shopfloor/pkg/storage/redis"
)

const serviceName = "shopfloor-api"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logCfg := logger.DefaultConfig(serviceName)
	logCfg.Level = cfg.LogLevel
	if _, err := logger.Init(logCfg); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracingProvider, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  serviceName,
		Endpoint:     cfg.OTLPEndpoint,
		Enabled:      cfg.TracingEnabled,
		SamplingRate: 1.0,
	})
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			_ = tracingProvider.Shutdown(shutdownCtx)
		}()
	}

	store, err := postgres.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()
	logger.Info("postgres connected")

	// Redis and etcd are optional: without them the API still serves, the
	// workers just fall back to polling and the worker listing is empty.
	var notifier storage.Notifier
	if cfg.RedisAddr != "" {
		n, err := redis.NewNotifier(cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, enqueue notifications disabled", zap.Error(err))
		} else {
			notifier = n
			defer n.Close()
			logger.Info("redis connected")
		}
	}

	var coordinator coordination.Coordinator
	if len(cfg.EtcdEndpoints) > 0 {
		coord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, 15)
		if err != nil {
			logger.Warn("etcd unavailable, worker listing disabled", zap.Error(err))
		} else {
			coordinator = coord
			defer coord.Close()
			logger.Info("etcd connected")
		}
	}

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}
	jwtConfig := auth.DefaultJWTConfig()
	jwtConfig.SecretKey = jwtSecret
	jwtService, err := auth.NewJWTService(jwtConfig)
	if err != nil {
		logger.Fatal("failed to initialize JWT service", zap.Error(err))
	}

	server := api.NewServer(api.Config{
		Port:        cfg.APIPort,
		JWTService:  jwtService,
		JobStore:    store,
		Schedules:   store,
		Notifier:    notifier,
		Coordinator: coordinator,
		ServiceName: serviceName,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()
	logger.Info("API server started", zap.String("port", cfg.APIPort))

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
