package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/omnipost/internal/domain"
)

// StepHandler выполняет доставленный шаг.
// Ошибка означает, что исход шага не записан: сообщение возвращается
// в очередь один раз, при повторной неудаче уходит в DLQ.
type StepHandler func(ctx context.Context, job *domain.StepJob) error

// Enqueuer ставит шаг в очередь на время at.
type Enqueuer interface {
	EnqueueAt(ctx context.Context, at time.Time, job *domain.StepJob) error
}

// Consumer читает шаги из очереди и выполняет до Concurrency штук параллельно.
type Consumer struct {
	conn        *Connection
	logger      *slog.Logger
	queue       Queue
	handler     StepHandler
	requeue     Enqueuer
	concurrency int
	now         func() time.Time

	cancelFunc context.CancelFunc
	inflight   sync.WaitGroup
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	// Queue — очередь (по умолчанию steps.ready).
	Queue Queue

	// Handler — обработчик шага (обязателен).
	Handler StepHandler

	// Requeue — куда вернуть шаг, доставленный раньше RunAt.
	// Если nil, шаг выполняется сразу.
	Requeue Enqueuer

	// Concurrency — сколько шагов выполняется одновременно.
	// Совпадает с prefetch канала (default: 1).
	Concurrency int

	Logger *slog.Logger
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, cfg ConsumerConfig) *Consumer {
	queue := cfg.Queue
	if queue == "" {
		queue = QueueStepsReady
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:        conn,
		logger:      logger,
		queue:       queue,
		handler:     cfg.Handler,
		requeue:     cfg.Requeue,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Start потребляет сообщения до отмены ctx или Stop.
// Перед возвратом дожидается выполняющихся шагов.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer c.inflight.Wait()

	for {
		reconnected := c.conn.ReconnectNotify()

		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to subscribe", "queue", c.queue, "error", err)
		} else {
			c.logger.Info("consumer started", "queue", c.queue, "concurrency", c.concurrency)
			c.drain(ctx, deliveries)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Канал закрыт или не открылся: ждём переподключения
		c.logger.Warn("waiting for reconnect", "queue", c.queue)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reconnected:
		}
	}
}

// subscribe настраивает prefetch и начинает потребление.
func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		string(c.queue),
		"",    // consumer tag (auto-generated)
		false, // ack вручную, после записи исхода шага
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return deliveries, nil
}

// drain раздаёт сообщения обработчикам, пока канал открыт.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	slots := make(chan struct{}, c.concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				return
			}

			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				// Не подтверждённое сообщение вернётся в очередь при закрытии канала
				return
			}

			c.inflight.Add(1)
			go func() {
				defer c.inflight.Done()
				defer func() { <-slots }()
				c.handle(ctx, raw)
			}()
		}
	}
}

// handle выполняет одно сообщение и подтверждает его.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	job, err := DecodeStep(raw.Body)
	if err != nil {
		// Сообщение никогда не станет корректным — сразу в DLQ
		c.logger.Error("rejecting malformed message", "queue", c.queue, "message_id", raw.MessageId, "error", err)
		raw.Nack(false, false)
		return
	}

	// Очередь ожидания отдала шаг раньше срока: ждём остаток
	if c.requeue != nil && job.RunAt.After(c.now()) {
		if err := c.requeue.EnqueueAt(ctx, job.RunAt, job); err != nil {
			c.logger.Error("failed to requeue early step", "job_id", job.ID, "run_at", job.RunAt, "error", err)
			raw.Nack(false, true)
			return
		}
		raw.Ack(false)
		return
	}

	if err := c.handler(ctx, job); err != nil {
		c.logger.Error("step handler failed",
			"queue", c.queue,
			"job_id", job.ID,
			"run_id", job.RunID,
			"step", job.Index,
			"redelivered", raw.Redelivered,
			"error", err,
		)
		raw.Nack(false, !raw.Redelivered)
		return
	}

	raw.Ack(false)
}

// Stop прекращает потребление. Start вернётся после завершения текущих шагов.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// DecodeStep разбирает тело сообщения step.ready.
func DecodeStep(body []byte) (*domain.StepJob, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type != MessageTypeStepReady {
		return nil, fmt.Errorf("%w: unexpected type %q", ErrMalformedMessage, msg.Type)
	}

	job, err := ParsePayload[domain.StepJob](&msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if job.RunID == uuid.Nil || job.Index < 1 {
		return nil, fmt.Errorf("%w: job without run or step index", ErrMalformedMessage)
	}
	return &job, nil
}

// ParsePayload переводит payload сообщения в тип T.
// После json.Unmarshal в Message payload — это map[string]any.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
