package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/omnipost/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// MessageTypeStepReady — задание шага action.
const MessageTypeStepReady MessageType = "step.ready"

// Message — конверт сообщения.
type Message struct {
	// ID — идентификатор сообщения (равен ID задания).
	ID string `json:"id"`

	Type MessageType `json:"type"`

	// Payload — задание. После разбора consumer'ом — map[string]any.
	Payload any `json:"payload"`

	// Timestamp — время публикации.
	Timestamp time.Time `json:"timestamp"`
}

// Publisher ставит шаги в RabbitMQ. Реализует runner.Enqueuer и worker.Enqueuer.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
		now:    time.Now,
	}
}

// EnqueueAt ставит шаг в очередь на время at.
//
// Если время уже наступило, шаг публикуется сразу в steps.ready.
// Иначе — в очередь ожидания (см. DelayBuckets), по истечении TTL
// RabbitMQ перекладывает сообщение в steps.ready. Если at дальше TTL
// очереди, consumer откладывает шаг повторно. Возвращается после
// подтверждения брокера.
func (p *Publisher) EnqueueAt(ctx context.Context, at time.Time, job *domain.StepJob) error {
	job.RunAt = at
	msg := stepMessage(job, p.now())

	key, expiration := RoutingKeyReady, ""
	if delay := at.Sub(msg.Timestamp); delay > 0 {
		bucket, ttl := delayRoute(delay)
		key, expiration = bucket.RoutingKey, expirationMillis(ttl)
	}

	if err := p.publish(ctx, ExchangeSteps, key, msg, expiration); err != nil {
		return fmt.Errorf("enqueue step %d of run %s: %w", job.Index, job.RunID, err)
	}
	return nil
}

// publish сериализует и публикует сообщение; expiration — TTL в миллисекундах.
func (p *Publisher) publish(ctx context.Context, exchange Exchange, key RoutingKey, msg *Message, expiration string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = p.conn.PublishConfirmed(ctx, string(exchange), string(key), amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // шаг переживёт рестарт RabbitMQ
		MessageId:    msg.ID,
		Type:         string(msg.Type),
		Timestamp:    msg.Timestamp,
		Expiration:   expiration,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", exchange, key, err)
	}

	p.logger.Debug("step published",
		"routing_key", key,
		"message_id", msg.ID,
		"expiration_ms", expiration,
	)
	return nil
}

// stepMessage оборачивает задание в Message. ID сообщения совпадает с ID задания.
func stepMessage(job *domain.StepJob, now time.Time) *Message {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	return &Message{
		ID:        job.ID.String(),
		Type:      MessageTypeStepReady,
		Payload:   job,
		Timestamp: now,
	}
}

// expirationMillis форматирует задержку для поля Expiration (не меньше 1 мс).
func expirationMillis(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}
