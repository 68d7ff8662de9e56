package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	config "shopfloor/configs"
	"shopfloor/pkg/coordination"
	"shopfloor/pkg/coordination/etcd"
	"shopfloor/pkg/logger"
	"shopfloor/pkg/models"
	tracing "shopfloor/pkg/observability"
	"shopfloor/pkg/storage"
	"shopfloor/pkg/storage/postgres"
	"shopfloor/pkg/storage/redis"
	"shopfloor/pkg/worker"
)

const serviceName = "shopfloor-worker"

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

	var notifier storage.Notifier
	if cfg.RedisAddr != "" {
		n, err := redis.NewNotifier(cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, falling back to plain polling", zap.Error(err))
		} else {
			notifier = n
			defer n.Close()
			logger.Info("redis connected")
		}
	}

	var coordinator coordination.Coordinator
	var election coordination.Election
	if len(cfg.EtcdEndpoints) > 0 {
		coord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, 15)
		if err != nil {
			logger.Warn("etcd unavailable, running without coordination", zap.Error(err))
		} else {
			coordinator = coord
			defer coord.Close()
			election = coord.NewElection("workers")
			logger.Info("etcd connected")
		}
	}

	var archive storage.ArchiveStore
	if cfg.ArchiveBucket != "" {
		a, err := storage.NewS3ArchiveStore(storage.S3ArchiveStoreConfig{
			Bucket:   cfg.ArchiveBucket,
			Prefix:   cfg.ArchivePrefix,
			Region:   cfg.ArchiveRegion,
			Endpoint: cfg.ArchiveEndpoint,
		})
		if err != nil {
			logger.Warn("archive store unavailable, runs will not be archived", zap.Error(err))
		} else {
			archive = a
			logger.Info("archive store ready", zap.String("bucket", cfg.ArchiveBucket))
		}
	}

	registry := worker.NewRegistry()
	registry.Register(models.JobTypeAIEnrich, worker.NewAIEnrichHandler(store).Handle)
	registry.Register(models.JobTypeScheduleRun,
		worker.NewScheduleRunHandler(store, store, store, archive).Handle)

	w := worker.New(worker.Config{
		ID:           cfg.WorkerID,
		Jobs:         store,
		Registry:     registry,
		Notifier:     notifier,
		PollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	if coordinator != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.NewHeartbeat(coordinator, cfg.WorkerID).Run(ctx)
		}()

		// Campaign blocks until this node wins or ctx ends; the reaper
		// and auto-trigger check leadership on every tick, so a late win
		// simply activates them then.
		go func() {
			if err := election.Campaign(ctx, cfg.WorkerID); err != nil && ctx.Err() == nil {
				logger.Warn("leader election campaign failed", zap.Error(err))
			}
		}()
	}

	staleness := time.Duration(cfg.StaleLockMinutes) * time.Minute
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.NewReaper(store, election, cfg.WorkerID, staleness).Run(ctx)
	}()

	if cfg.AutoTriggerCron != "" && len(cfg.AutoTriggerOrgs) > 0 {
		orgIDs := make([]uuid.UUID, 0, len(cfg.AutoTriggerOrgs))
		for _, raw := range cfg.AutoTriggerOrgs {
			id, err := uuid.Parse(raw)
			if err != nil {
				logger.Warn("skipping invalid auto-trigger org", zap.String("org", raw))
				continue
			}
			orgIDs = append(orgIDs, id)
		}
		trigger, err := worker.NewAutoTrigger(worker.AutoTriggerConfig{
			Jobs:      store,
			Schedules: store,
			Election:  election,
			NodeID:    cfg.WorkerID,
			OrgIDs:    orgIDs,
			CronSpec:  cfg.AutoTriggerCron,
		})
		if err != nil {
			logger.Fatal("invalid auto-trigger configuration", zap.Error(err))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			trigger.Run(ctx)
		}()
	}

	logger.Info("worker started", zap.String("worker_id", cfg.WorkerID))

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")
	wg.Wait()
	logger.Info("shutdown complete")
}
