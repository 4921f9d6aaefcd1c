package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/department-scheduling/internal/api"
	"github.com/hackgods/department-scheduling/internal/appointment"
	"github.com/hackgods/department-scheduling/internal/config"
	"github.com/hackgods/department-scheduling/internal/db"
	"github.com/hackgods/department-scheduling/internal/events"
	"github.com/hackgods/department-scheduling/internal/logger"
	"github.com/hackgods/department-scheduling/internal/metrics"
	redisclient "github.com/hackgods/department-scheduling/internal/redis"
	"github.com/hackgods/department-scheduling/internal/scheduling"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api-server: %v\n", err)
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

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("lock_backend", cfg.LockBackend),
		zap.String("reorder_policy", cfg.ReorderPolicy),
		zap.String("scheduling_tz", cfg.SchedulingTZ),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	if cfg.RunMigrations {
		n, err := db.NewMigrator(pgPool, log).Up(rootCtx)
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		log.Info("migrations complete", zap.Int("applied", n))
	}

	var (
		locker     redisclient.Locker
		redisProbe api.Pinger
	)
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("redis connection: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
		locker = redisclient.NewRedisQueueLocker(rdb, cfg.LockTTL, cfg.LockWait)
		redisProbe = redisPinger(rdb)
	default:
		log.Warn("using process-local queue locks; run a single replica")
		locker = redisclient.NewLocalLocker(cfg.LockWait)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.QueueEventTopic)
		log.Info("publishing queue events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.QueueEventTopic))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("error closing event publisher", zap.Error(err))
		}
	}()

	reorderer, err := scheduling.NewReorderer(scheduling.Policy(cfg.ReorderPolicy))
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("department_scheduling", prometheus.DefaultRegisterer)
	repo := appointment.NewPgRepository(pgPool)

	availability := appointment.NewAvailabilityService(repo, cfg.MaxSlotRange, collector, log.Named("availability")).
		WithLocation(cfg.Location)
	queues := appointment.NewQueueService(repo, locker, reorderer, publisher, collector, log.Named("queue")).
		WithLocation(cfg.Location)

	router := api.NewRouter(api.RouterConfig{
		Availability:   availability,
		Queues:         queues,
		Health:         api.NewHealthHandler(pgPool, redisProbe, cfg.Env, version),
		Metrics:        collector,
		MetricsHandler: metrics.MetricsHandler(),
		Logger:         log.Named("http"),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down api-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func redisPinger(rdb *redis.Client) api.PingFunc {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
