// Omnipost Worker — выполняет шаги actions.
//
// Worker:
//   - Получает шаги из RabbitMQ (steps.ready)
//   - Выполняет HTTP-запрос шага и извлекает значения из ответа
//   - Откладывает шаг, если предыдущий ещё не завершён
//   - Создаёт уведомление на финальном исходе run
//
// Без RABBITMQ_URL worker работает в standalone режиме: шаги идут
// через очередь в памяти, а scheduler запускается в том же процессе.
//
// Workers масштабируются горизонтально (только с RabbitMQ).
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/omnipost/internal/config"
	"github.com/shaiso/omnipost/internal/engine"
	"github.com/shaiso/omnipost/internal/event"
	"github.com/shaiso/omnipost/internal/lock"
	"github.com/shaiso/omnipost/internal/media"
	"github.com/shaiso/omnipost/internal/mq"
	"github.com/shaiso/omnipost/internal/posts"
	"github.com/shaiso/omnipost/internal/queue"
	"github.com/shaiso/omnipost/internal/repo"
	"github.com/shaiso/omnipost/internal/runner"
	"github.com/shaiso/omnipost/internal/scheduler"
	"github.com/shaiso/omnipost/internal/telemetry"
	"github.com/shaiso/omnipost/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("omnipost-worker")
	logger.Info("starting omnipost-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Tracing {
		shutdown, err := telemetry.InitTracer("omnipost-worker")
		if err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			defer shutdown(context.Background())
		}
	}

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

	// Блокировка состояния поста: Redis между процессами, иначе в памяти
	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.RedisURL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis not available, using in-process locks", "error", err)
		} else {
			defer client.Close()
			locker = lock.NewRedisLocker(lock.RedisConfig{Client: client, Logger: logger})
			logger.Info("Redis connected")
		}
	}

	postService := posts.New(posts.Config{
		Posts:     store,
		Platforms: store,
		Locker:    locker,
		Uploader:  newUploader(ctx, cfg, logger),
		Logger:    logger,
	})

	events := event.NewPublisher(cfg.NATSURL, logger)
	defer events.Close()

	substitution := engine.Options{
		Strict:    cfg.StrictTemplates,
		Delimited: cfg.DelimitedTemplates,
	}

	executorCfg := worker.ExecutorConfig{
		Runs:          store,
		Instances:     store,
		Notifications: store,
		State:         postService,
		Events:        events,
		HTTP:          worker.NewHTTPExecutor(cfg.HTTPTimeout),
		Substitution:  substitution,
		MaxDeferrals:  cfg.MaxDeferrals,
		Metrics:       metrics,
		Logger:        logger,
	}

	var stop func()
	if cfg.RabbitMQURL != "" {
		stop = startDistributed(ctx, cfg, executorCfg, logger)
	} else {
		stop = startStandalone(ctx, cfg, executorCfg, store, postService, logger)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
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

	// Ожидаем сигнал завершения
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	stop()
	logger.Info("omnipost-worker stopped")
}

// startDistributed подключается к RabbitMQ и запускает consumer steps.ready.
// Откладываемые шаги публикуются в очереди ожидания steps.delay.*.
func startDistributed(ctx context.Context, cfg config.Config, executorCfg worker.ExecutorConfig, logger *slog.Logger) func() {
	conn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	logger.Info("RabbitMQ connected")

	// Создаём топологию
	if err := mq.SetupTopology(ctx, conn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		conn.Close()
		os.Exit(1)
	}
	logger.Debug("topology ready", "layout", mq.TopologyInfo())

	executorCfg.Enqueuer = mq.NewPublisher(conn, logger)

	w := worker.New(worker.Config{
		Conn:        conn,
		Executor:    worker.NewStepExecutor(executorCfg),
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
	})
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		conn.Close()
		os.Exit(1)
	}

	return func() {
		w.Stop()
		conn.Close()
	}
}

// startStandalone запускает очередь в памяти и scheduler в этом процессе.
func startStandalone(ctx context.Context, cfg config.Config, executorCfg worker.ExecutorConfig, store *repo.Store, postService *posts.Service, logger *slog.Logger) func() {
	logger.Warn("RABBITMQ_URL is not set, running in standalone mode")

	local := queue.NewLocal(queue.Config{
		Concurrency: cfg.WorkerConcurrency,
		Metrics:     executorCfg.Metrics,
		Logger:      logger,
	})
	executorCfg.Enqueuer = local
	local.SetHandler(worker.NewStepExecutor(executorCfg).Execute)
	local.Start(ctx)

	actions := runner.New(runner.Config{
		Runs:      store,
		Instances: store,
		Enqueuer:  local,
		Metrics:   executorCfg.Metrics,
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

	return func() {
		stopScheduler()
		local.Stop()
	}
}

// newUploader возвращает S3-загрузчик или nil, если хранилище не настроено.
func newUploader(ctx context.Context, cfg config.Config, logger *slog.Logger) posts.Uploader {
	if !cfg.MediaEnabled() {
		return nil
	}

	uploader, err := media.NewS3Uploader(ctx, media.S3Config{
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
	return uploader
}
