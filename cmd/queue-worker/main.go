package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hackgods/department-scheduling/internal/appointment"
	"github.com/hackgods/department-scheduling/internal/config"
	"github.com/hackgods/department-scheduling/internal/db"
	"github.com/hackgods/department-scheduling/internal/events"
	"github.com/hackgods/department-scheduling/internal/logger"
	"github.com/hackgods/department-scheduling/internal/metrics"
	redisclient "github.com/hackgods/department-scheduling/internal/redis"
	"github.com/hackgods/department-scheduling/internal/scheduling"
)

const runTimeout = 50 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "queue-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("queue-worker starting up",
		zap.String("env", cfg.Env),
		zap.String("schedule", cfg.WorkerSchedule),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()

	// the worker must share locks with the api-server, so only Redis works
	// across processes
	var locker redisclient.Locker
	if cfg.LockBackend == config.LockBackendRedis {
		rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("redis connection: %w", err)
		}
		defer rdb.Close()
		locker = redisclient.NewRedisQueueLocker(rdb, cfg.LockTTL, cfg.LockWait)
	} else {
		log.Warn("process-local locks only protect this worker; queue version checks still reject lost updates")
		locker = redisclient.NewLocalLocker(cfg.LockWait)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.QueueEventTopic)
	}
	defer publisher.Close()

	reorderer, err := scheduling.NewReorderer(scheduling.Policy(cfg.ReorderPolicy))
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("department_scheduling_worker", prometheus.DefaultRegisterer)
	svc := appointment.NewQueueService(appointment.NewPgRepository(pgPool), locker, reorderer, publisher, collector, log.Named("queue")).
		WithLocation(cfg.Location)

	runOnce(rootCtx, svc, log)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.WorkerSchedule, func() { runOnce(rootCtx, svc, log) }); err != nil {
		return fmt.Errorf("invalid WORKER_SCHEDULE %q: %w", cfg.WorkerSchedule, err)
	}
	c.Start()

	<-rootCtx.Done()
	log.Info("shutdown signal received, stopping queue worker")
	<-c.Stop().Done()
	return nil
}

func runOnce(ctx context.Context, svc *appointment.QueueService, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	start := time.Now()
	n, err := svc.RenormalizeAll(runCtx)
	if err != nil {
		log.Error("renormalize run failed", zap.Int("queues", n), zap.Error(err))
		return
	}
	log.Info("renormalize run complete", zap.Int("queues", n), zap.Duration("took", time.Since(start)))
}
