package mq

import (
	"context"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeSteps Exchange = "omnipost.steps"
	ExchangeDLQ   Exchange = "omnipost.dlq"
)

// Queues — имена очередей.
const (
	// QueueStepsReady — шаги, которые пора выполнять.
	QueueStepsReady Queue = "steps.ready"

	// QueueDLQSteps — шаги, дважды упавшие с ошибкой доставки.
	QueueDLQSteps Queue = "dlq.steps"
)

// Routing keys.
const (
	RoutingKeyReady RoutingKey = "ready"
	RoutingKeyDLQ   RoutingKey = "steps"
)

// DelayBucket — очередь ожидания с одинаковым TTL для всех сообщений.
//
// Без потребителей: по истечении TTL сообщения уходят в steps.ready.
// RabbitMQ снимает истёкшие сообщения только с головы очереди, а при
// одинаковом TTL голова истекает первой.
type DelayBucket struct {
	TTL        time.Duration
	Queue      Queue
	RoutingKey RoutingKey
}

// DelayBuckets — очереди ожидания по возрастанию TTL.
var DelayBuckets = []DelayBucket{
	{time.Second, "steps.delay.1s", "delay.1s"},
	{10 * time.Second, "steps.delay.10s", "delay.10s"},
	{time.Minute, "steps.delay.1m", "delay.1m"},
	{10 * time.Minute, "steps.delay.10m", "delay.10m"},
	{time.Hour, "steps.delay.1h", "delay.1h"},
}

// delayRoute выбирает очередь ожидания для задержки и TTL сообщения.
//
// Берётся самая длинная очередь с TTL не больше задержки, сообщение
// живёт ровно TTL очереди; остаток consumer доотложит после доставки.
// Задержка короче минимального TTL идёт в первую очередь со своим TTL.
func delayRoute(delay time.Duration) (DelayBucket, time.Duration) {
	bucket := DelayBuckets[0]
	if delay < bucket.TTL {
		return bucket, delay
	}
	for _, b := range DelayBuckets[1:] {
		if b.TTL > delay {
			break
		}
		bucket = b
	}
	return bucket, bucket.TTL
}

// SetupTopology объявляет exchanges, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch); err != nil {
			return err
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeSteps, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// queueArgs возвращает аргументы очередей.
func queueArgs() map[Queue]amqp.Table {
	args := map[Queue]amqp.Table{
		// steps.ready — с DLQ (повторно упавшие доставки)
		QueueStepsReady: {
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQ),
		},

		// dlq.steps — сама DLQ очередь
		QueueDLQSteps: nil,
	}

	// steps.delay.* — истёкшие сообщения возвращаются в steps.ready
	for _, b := range DelayBuckets {
		args[b.Queue] = amqp.Table{
			"x-message-ttl":             b.TTL.Milliseconds(),
			"x-dead-letter-exchange":    string(ExchangeSteps),
			"x-dead-letter-routing-key": string(RoutingKeyReady),
		}
	}
	return args
}

// topologyQueues возвращает все очереди в порядке объявления.
func topologyQueues() []Queue {
	queues := []Queue{QueueStepsReady}
	for _, b := range DelayBuckets {
		queues = append(queues, b.Queue)
	}
	return append(queues, QueueDLQSteps)
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	args := queueArgs()

	for _, name := range topologyQueues() {
		_, err := ch.QueueDeclare(
			string(name), // name
			true,         // durable
			false,        // delete when unused
			false,        // exclusive
			false,        // no-wait
			args[name],   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	type binding struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}

	bindings := []binding{
		{QueueStepsReady, RoutingKeyReady, ExchangeSteps},
		{QueueDLQSteps, RoutingKeyDLQ, ExchangeDLQ},
	}
	for _, b := range DelayBuckets {
		bindings = append(bindings, binding{b.Queue, b.RoutingKey, ExchangeSteps})
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	var b strings.Builder
	b.WriteString(`
  Omnipost RabbitMQ Topology:

    omnipost.steps (direct)
    ├── steps.ready [routing: ready]
    │       Consumer: Worker
    │       DLQ: dlq.steps
`)
	for i, bucket := range DelayBuckets {
		branch, pad := "├──", "│  "
		if i == len(DelayBuckets)-1 {
			branch, pad = "└──", "   "
		}
		fmt.Fprintf(&b, "    %s %s [routing: %s]\n", branch, bucket.Queue, bucket.RoutingKey)
		fmt.Fprintf(&b, "    %s     No consumer, TTL %s -> omnipost.steps / ready\n", pad, bucket.TTL)
	}
	b.WriteString(`
    omnipost.dlq (direct)
    └── dlq.steps [routing: steps]
            Manual processing
  `)
	return b.String()
}
