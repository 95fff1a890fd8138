// Omnipost Scheduler — запускает публикацию постов по расписанию.
//
// На каждом тике cron выбирает посты, время которых наступило,
// атомарно отмечает их и ставит шаги action в RabbitMQ.
// Несколько экземпляров scheduler могут работать одновременно:
// пост забирает тот, кто первым отметил его в БД.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/omnipost/internal/config"
	"github.com/shaiso/omnipost/internal/lock"
	"github.com/shaiso/omnipost/internal/media"
	"github.com/shaiso/omnipost/internal/mq"
	"github.com/shaiso/omnipost/internal/posts"
	"github.com/shaiso/omnipost/internal/repo"
	"github.com/shaiso/omnipost/internal/runner"
	"github.com/shaiso/omnipost/internal/scheduler"
	"github.com/shaiso/omnipost/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger("omnipost-scheduler")
	logger.Info("starting omnipost-scheduler")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.RabbitMQURL == "" {
		logger.Error("RABBITMQ_URL is required; use omnipost-worker for standalone mode")
		os.Exit(1)
	}
	if err := scheduler.ValidateSpec(cfg.SchedulerSpec); err != nil {
		logger.Error("invalid scheduler spec", "spec", cfg.SchedulerSpec, "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	store := repo.NewStore(pool)
	metrics := telemetry.DefaultMetrics()

	// RabbitMQ
	conn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := mq.SetupTopology(ctx, conn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}
	logger.Info("RabbitMQ connected")

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.RedisURL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis not available, using in-process locks", "error", err)
		} else {
			defer client.Close()
			locker = lock.NewRedisLocker(lock.RedisConfig{Client: client, Logger: logger})
		}
	}

	var uploader posts.Uploader
	if cfg.MediaEnabled() {
		s3, err := media.NewS3Uploader(ctx, media.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.BucketURL,
		})
		if err != nil {
			logger.Error("failed to configure media storage", "error", err)
			os.Exit(1)
		}
		uploader = s3
	}

	postService := posts.New(posts.Config{
		Posts:     store,
		Platforms: store,
		Locker:    locker,
		Uploader:  uploader,
		Logger:    logger,
	})

	actions := runner.New(runner.Config{
		Runs:      store,
		Instances: store,
		Enqueuer:  mq.NewPublisher(conn, logger),
		Metrics:   metrics,
		Logger:    logger,
	})

	sched := scheduler.New(scheduler.Config{
		Posts:         store,
		Preparer:      postService,
		Runner:        actions,
		Notifications: store,
		StepDelay:     cfg.StepDelay,
		Logger:        logger,
	})

	stopScheduler, err := sched.Start(ctx, cfg.SchedulerSpec)
	if err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !conn.IsConnected() {
			http.Error(w, "rabbitmq disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	stopScheduler()
	logger.Info("omnipost-scheduler stopped")
}
