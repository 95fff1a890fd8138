package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shaiso/omnipost/internal/mq"
)

const defaultConcurrency = 5

// Worker потребляет шаги из очереди RabbitMQ и выполняет их.
//
// Worker — stateless компонент: всё состояние выполнения хранится
// в ActionRun, поэтому несколько экземпляров могут потреблять
// из одной очереди steps.ready.
type Worker struct {
	conn        *mq.Connection
	executor    *StepExecutor
	concurrency int

	consumer *mq.Consumer

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// Conn — подключение к RabbitMQ.
	Conn *mq.Connection

	// Executor — исполнитель шагов.
	Executor *StepExecutor

	// Concurrency — сколько шагов выполняется одновременно (default: 5).
	Concurrency int

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		conn:        cfg.Conn,
		executor:    cfg.Executor,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Start запускает consumer для steps.ready.
func (w *Worker) Start(ctx context.Context) error {
	if w.IsStopped() {
		return ErrWorkerStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker", "concurrency", w.concurrency)

	w.consumer = mq.NewConsumer(w.conn, mq.ConsumerConfig{
		Queue:       mq.QueueStepsReady,
		Handler:     w.handleStep,
		Requeue:     mq.NewPublisher(w.conn, w.logger),
		Concurrency: w.concurrency,
		Logger:      w.logger,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("step consumer error", "error", err)
		}
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения текущего шага.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}
