package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Пределы задержки между попытками переподключения.
const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
)

// Connection — AMQP соединение с автоматическим переподключением.
//
// Держит два канала: consumeCh для потребления и топологии,
// publishCh в режиме publisher confirms. Шаг считается поставленным
// в очередь только после подтверждения брокера.
type Connection struct {
	url    string
	logger *slog.Logger

	mu        sync.RWMutex
	conn      *amqp.Connection
	consumeCh *amqp.Channel
	publishCh *amqp.Channel
	closed    bool

	done chan struct{}

	// reconnected закрывается при следующем успешном переподключении
	// и сразу заменяется новым.
	reconnected chan struct{}
}

// NewConnection подключается к RabbitMQ и следит за соединением.
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		url:         url,
		logger:      logger,
		done:        make(chan struct{}),
		reconnected: make(chan struct{}),
	}

	conn, err := c.dial()
	if err != nil {
		return nil, err
	}

	go c.watch(conn)
	return c, nil
}

// dial открывает соединение и оба канала и подменяет текущие.
func (c *Connection) dial() (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat:  10 * time.Second,
		Properties: amqp.Table{"connection_name": "omnipost"},
	})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	consumeCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open consume channel: %w", err)
	}

	publishCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := publishCh.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.consumeCh = consumeCh
	c.publishCh = publishCh
	c.mu.Unlock()

	c.logger.Info("connected to RabbitMQ")
	return conn, nil
}

// watch ждёт разрыва соединения и переподключается.
func (c *Connection) watch(conn *amqp.Connection) {
	for {
		closeErr := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.done:
			return
		case err := <-closeErr:
			if err != nil {
				c.logger.Warn("RabbitMQ connection lost", "error", err)
			}
		}

		next, ok := c.redial()
		if !ok {
			return
		}
		conn = next
	}
}

// redial повторяет dial с экспоненциальной задержкой до успеха или Close.
func (c *Connection) redial() (*amqp.Connection, bool) {
	delay := minReconnectDelay

	for {
		select {
		case <-c.done:
			return nil, false
		case <-time.After(delay):
		}

		conn, err := c.dial()
		if err != nil {
			c.logger.Warn("reconnect failed", "error", err, "next_attempt_in", delay)
			delay = min(delay*2, maxReconnectDelay)
			continue
		}

		c.mu.Lock()
		close(c.reconnected)
		c.reconnected = make(chan struct{})
		c.mu.Unlock()

		c.logger.Info("reconnected to RabbitMQ")
		return conn, true
	}
}

// Channel возвращает канал потребления (nil во время переподключения).
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.consumeCh
}

// ReconnectNotify возвращает канал, который закроется при следующем
// переподключении. Подписчиков может быть сколько угодно.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnected
}

// Close закрывает каналы и соединение. Повторный вызов ничего не делает.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	var errs []error
	for name, ch := range map[string]*amqp.Channel{"consume": c.consumeCh, "publish": c.publishCh} {
		if ch != nil && !ch.IsClosed() {
			if err := ch.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s channel: %w", name, err))
			}
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	c.logger.Info("RabbitMQ connection closed")
	return errors.Join(errs...)
}

// IsConnected проверяет, что соединение открыто.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// WithChannel выполняет fn на канале потребления (объявление топологии).
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	ch, err := c.channel(ctx, false)
	if err != nil {
		return err
	}
	return fn(ch)
}

// PublishConfirmed публикует сообщение и ждёт подтверждения брокера.
func (c *Connection) PublishConfirmed(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	ch, err := c.channel(ctx, true)
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return ErrNotConfirmed
	}
	return nil
}

// channel возвращает открытый канал нужного вида.
func (c *Connection) channel(ctx context.Context, publish bool) (*amqp.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	ch := c.consumeCh
	if publish {
		ch = c.publishCh
	}
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return nil, ErrConnectionClosed
	}
	if ch == nil || ch.IsClosed() {
		return nil, ErrNoChannel
	}
	return ch, nil
}
