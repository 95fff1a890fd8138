// Package event рассылает созданные уведомления через NATS JetStream.
//
// Если NATS не настроен или недоступен, используется noop: уведомления
// всё равно сохраняются в хранилище, рассылка необязательна.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/shaiso/omnipost/internal/domain"
)

const (
	// StreamName — JetStream поток уведомлений.
	StreamName = "OMNIPOST_NOTIFICATIONS"

	subjectPrefix  = "omnipost.notifications."
	envelopeType   = "omnipost.notification.created"
	envelopeSchema = "1.0.0"
)

// Publisher рассылает уведомления.
type Publisher interface {
	PublishNotification(ctx context.Context, n *domain.Notification) error
	Close() error
}

// Envelope — обёртка события.
type Envelope struct {
	Type       string               `json:"type"`
	Version    string               `json:"version"`
	OccurredAt time.Time            `json:"occurredAt"`
	Payload    *domain.Notification `json:"payload"`
}

// Subject возвращает subject уведомлений пользователя.
func Subject(userID string) string {
	return subjectPrefix + userID
}

// Noop — Publisher, который ничего не делает.
type Noop struct{}

func (Noop) PublishNotification(context.Context, *domain.Notification) error { return nil }
func (Noop) Close() error { return nil }

// natsPub публикует в JetStream.
type natsPub struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewPublisher подключается к NATS по url.
// Пустой url или ошибка подключения дают Noop с предупреждением в лог.
func NewPublisher(url string, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		return Noop{}
	}

	nc, err := nats.Connect(url, nats.Name("omnipost"))
	if err != nil {
		logger.Warn("NATS connect failed, using noop publisher", "error", err)
		return Noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		logger.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return Noop{}
	}

	if err := initStream(js); err != nil {
		logger.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return Noop{}
	}

	logger.Info("notification events enabled", "stream", StreamName)
	return &natsPub{nc: nc, js: js}
}

// initStream создаёт поток уведомлений, если его нет.
func initStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(StreamName); err == nil {
		return nil
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectPrefix + "*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// PublishNotification публикует уведомление в subject получателя.
// ID уведомления используется как Nats-Msg-Id для дедупликации.
func (p *natsPub) PublishNotification(ctx context.Context, n *domain.Notification) error {
	body, err := encode(n, time.Now())
	if err != nil {
		return err
	}

	_, err = p.js.Publish(Subject(n.UserID.String()), body,
		nats.Context(ctx),
		nats.MsgId(n.ID.String()),
	)
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func encode(n *domain.Notification, now time.Time) ([]byte, error) {
	body, err := json.Marshal(Envelope{
		Type:       envelopeType,
		Version:    envelopeSchema,
		OccurredAt: now.UTC(),
		Payload:    n,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal notification event: %w", err)
	}
	return body, nil
}
