package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/omnipost/internal/domain"
	"github.com/shaiso/omnipost/internal/telemetry"
)

const defaultBatchSize = 100

// PostStore — выборка и отметка постов по расписанию.
type PostStore interface {
	// ListDuePosts возвращает посты с Schedule <= now, ещё не запущенные.
	ListDuePosts(ctx context.Context, now time.Time, limit int) ([]domain.Post, error)

	// MarkDispatched атомарно отмечает пост; false — уже отмечен другим.
	MarkDispatched(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

// PostPreparer готовит пост к публикации.
type PostPreparer interface {
	InitializeStateIfEmpty(ctx context.Context, post *domain.Post) error
	AttachMedia(ctx context.Context, post *domain.Post) error
}

// ActionRunner запускает action на всех платформах поста.
type ActionRunner interface {
	RunActionOnAllPlatforms(ctx context.Context, post *domain.Post, action, password string, delay time.Duration) ([]*domain.ActionRun, error)
}

// NotificationStore — хранилище уведомлений.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
}

// Scheduler запускает публикацию постов, время которых наступило.
type Scheduler struct {
	posts         PostStore
	preparer      PostPreparer
	runner        ActionRunner
	notifications NotificationStore
	delay         time.Duration
	batchSize     int
	logger        *slog.Logger
	now           func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Posts    PostStore
	Preparer PostPreparer
	Runner   ActionRunner

	// Notifications — для уведомления о неудачной подготовке поста (опционально).
	Notifications NotificationStore

	// StepDelay — интервал между шагами action (0 — runner.DefaultDelay).
	StepDelay time.Duration

	// BatchSize — количество постов за один тик (default: 100).
	BatchSize int

	Logger *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		posts:         cfg.Posts,
		preparer:      cfg.Preparer,
		runner:        cfg.Runner,
		notifications: cfg.Notifications,
		delay:         cfg.StepDelay,
		batchSize:     batchSize,
		logger:        logger,
		now:           time.Now,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит посты с наступившим Schedule
// 2. Атомарно отмечает каждый запущенным (второй scheduler его пропустит)
// 3. Готовит состояние и медиа
// 4. Запускает action варианта поста на всех платформах
//
// Ошибки одного поста не блокируют обработку остальных.
// Возвращает количество запущенных постов.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()

	// 1. Находим due posts
	due, err := s.posts.ListDuePosts(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due posts: %w", err)
	}

	if len(due) == 0 {
		return 0, nil
	}

	s.logger.Debug("found due posts", "count", len(due))

	// 2. Обрабатываем каждый пост
	dispatched := 0
	for i := range due {
		post := &due[i]

		ok, err := s.dispatch(ctx, post, now)
		if err != nil {
			s.logger.Error("failed to dispatch post",
				"post_id", post.ID,
				"error", err,
			)
			// Продолжаем обработку остальных
			continue
		}
		if ok {
			dispatched++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(due),
		"dispatched", dispatched,
	)

	return dispatched, nil
}

// dispatch запускает один пост. Возвращает false, если пост уже забрал другой scheduler.
func (s *Scheduler) dispatch(ctx context.Context, post *domain.Post, now time.Time) (bool, error) {
	logger := telemetry.WithPostID(s.logger, post.ID.String())

	// 1. Отмечаем пост первым: повторный запуск хуже пропущенного
	ok, err := s.posts.MarkDispatched(ctx, post.ID, now)
	if err != nil {
		return false, fmt.Errorf("mark dispatched: %w", err)
	}
	if !ok {
		logger.Debug("post already dispatched")
		return false, nil
	}
	post.MarkDispatched(now)

	action := post.Kind.DefaultAction()
	if action == "" {
		return true, fmt.Errorf("%w: post kind %q", domain.ErrUnknownAction, post.Kind)
	}

	// 2. Состояние и медиа
	if err := s.preparer.InitializeStateIfEmpty(ctx, post); err != nil {
		return true, fmt.Errorf("initialize state: %w", err)
	}
	if err := s.preparer.AttachMedia(ctx, post); err != nil {
		s.notifyFailure(ctx, logger, post, err)
		return true, fmt.Errorf("attach media: %w", err)
	}

	// 3. Запуск. Пароль у scheduler отсутствует: зашифрованные
	// экземпляры завершатся уведомлением об ошибке расшифровки.
	runs, err := s.runner.RunActionOnAllPlatforms(ctx, post, action, "", s.delay)
	if err != nil {
		logger.Warn("action not started on some platforms", "action", action, "error", err)
	}

	logger.Info("scheduled post dispatched",
		"action", action,
		"runs", len(runs),
	)
	return true, nil
}

// notifyFailure сообщает владельцу, что пост не удалось подготовить.
func (s *Scheduler) notifyFailure(ctx context.Context, logger *slog.Logger, post *domain.Post, cause error) {
	if s.notifications == nil {
		return
	}

	n := domain.NewErrorNotification(post.OwnerID, nil, "Something went wrong. "+cause.Error())
	if err := s.notifications.CreateNotification(ctx, n); err != nil {
		logger.Error("failed to create notification", "error", err)
	}
}
