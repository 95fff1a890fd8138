package posts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/google/uuid"

	"github.com/shaiso/omnipost/internal/domain"
	"github.com/shaiso/omnipost/internal/lock"
)

const defaultMaxConflictRetries = 5

// PostStore — хранилище постов.
type PostStore interface {
	GetPost(ctx context.Context, id uuid.UUID) (*domain.Post, error)

	// UpdatePost записывает пост, если версия в хранилище равна post.Version,
	// и увеличивает post.Version. Иначе domain.ErrVersionConflict.
	UpdatePost(ctx context.Context, post *domain.Post) error
}

// PlatformLister возвращает все известные платформы.
type PlatformLister interface {
	ListPlatforms(ctx context.Context) ([]domain.Platform, error)
}

// Uploader загружает локальный файл и возвращает публичный URL.
type Uploader interface {
	Upload(ctx context.Context, localPath, remoteName string) (string, error)
}

// Service — операции над состоянием постов.
type Service struct {
	posts      PostStore
	platforms  PlatformLister
	locker     lock.Locker
	uploader   Uploader
	maxRetries int
	logger     *slog.Logger
}

// Config — конфигурация Service.
type Config struct {
	Posts     PostStore
	Platforms PlatformLister

	// Locker — блокировка по ID поста (если nil — lock.NewKeyedMutex()).
	Locker lock.Locker

	// Uploader — объектное хранилище для AttachMedia (опционально).
	Uploader Uploader

	// MaxConflictRetries — попыток CAS на одну запись (default: 5).
	MaxConflictRetries int

	Logger *slog.Logger
}

// New создаёт Service.
func New(cfg Config) *Service {
	locker := cfg.Locker
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}

	maxRetries := cfg.MaxConflictRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxConflictRetries
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		posts:      cfg.Posts,
		platforms:  cfg.Platforms,
		locker:     locker,
		uploader:   cfg.Uploader,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// GetPlatformState возвращает копию состояния поста для платформы.
func (s *Service) GetPlatformState(ctx context.Context, postID uuid.UUID, platform string) (map[string]string, error) {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	return post.Configs.Platform(platform), nil
}

// SetPlatformState записывает одно поле состояния платформы.
func (s *Service) SetPlatformState(ctx context.Context, postID uuid.UUID, platform, key, value string) error {
	return s.ApplyPlatformState(ctx, postID, platform, map[string]string{key: value})
}

// ApplyPlatformState атомарно записывает набор полей состояния платформы.
// Поля других платформ не затрагиваются.
func (s *Service) ApplyPlatformState(ctx context.Context, postID uuid.UUID, platform string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	return s.mutate(ctx, postID, func(post *domain.Post) (bool, error) {
		if post.Configs == nil {
			post.Configs = make(domain.PostConfigs)
		}
		for k, v := range fields {
			post.Configs.Set(platform, k, v)
		}
		return true, nil
	})
}

// InitializeStateIfEmpty заполняет Configs полями по умолчанию
// для каждой известной платформы. Повторный вызов ничего не меняет.
func (s *Service) InitializeStateIfEmpty(ctx context.Context, post *domain.Post) error {
	if len(post.Configs) > 0 {
		return nil
	}

	platforms, err := s.platforms.ListPlatforms(ctx)
	if err != nil {
		return fmt.Errorf("list platforms: %w", err)
	}
	names := make([]string, 0, len(platforms))
	for _, p := range platforms {
		names = append(names, p.Name)
	}

	return s.mutateInto(ctx, post, func(p *domain.Post) (bool, error) {
		return p.InitializeConfigs(names), nil
	})
}

// AttachMedia загружает медиа поста и прописывает публичный URL
// в поле IMAGE_URL/VIDEO_URL каждой платформы.
//
// Ничего не делает, если медиа нет или URL уже получен.
func (s *Service) AttachMedia(ctx context.Context, post *domain.Post) error {
	field := post.Kind.MediaField()
	if field == "" || post.Content.MediaPath == "" || post.Content.MediaURL != "" {
		return nil
	}
	if s.uploader == nil {
		return ErrNoUploader
	}

	// Загрузка вне блокировки: она может занять много времени
	remoteName := path.Base(post.Content.MediaPath)
	url, err := s.uploader.Upload(ctx, post.Content.MediaPath, remoteName)
	if err != nil {
		return fmt.Errorf("upload media: %w", err)
	}

	s.logger.Info("media uploaded",
		"post_id", post.ID,
		"remote_name", remoteName,
		"url", url,
	)

	return s.mutateInto(ctx, post, func(p *domain.Post) (bool, error) {
		if p.Content.MediaURL != "" {
			return false, nil
		}
		p.Content.MediaURL = url
		for platform := range p.Configs {
			p.Configs.Set(platform, field, url)
		}
		return true, nil
	})
}

// mutate выполняет read-modify-write поста под блокировкой.
func (s *Service) mutate(ctx context.Context, postID uuid.UUID, fn func(*domain.Post) (bool, error)) error {
	_, err := s.update(ctx, postID, fn)
	return err
}

// mutateInto — как mutate, но обновляет переданный пост финальным состоянием.
func (s *Service) mutateInto(ctx context.Context, post *domain.Post, fn func(*domain.Post) (bool, error)) error {
	updated, err := s.update(ctx, post.ID, fn)
	if err != nil {
		return err
	}
	*post = *updated
	return nil
}

func (s *Service) update(ctx context.Context, postID uuid.UUID, fn func(*domain.Post) (bool, error)) (*domain.Post, error) {
	unlock, err := s.locker.Lock(ctx, postID.String())
	if err != nil {
		return nil, fmt.Errorf("lock post %s: %w", postID, err)
	}
	defer unlock()

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		// 1. Читаем актуальную версию
		post, err := s.posts.GetPost(ctx, postID)
		if err != nil {
			return nil, fmt.Errorf("get post: %w", err)
		}

		// 2. Изменяем
		changed, err := fn(post)
		if err != nil {
			return nil, err
		}
		if !changed {
			return post, nil
		}

		// 3. Пишем с проверкой версии
		err = s.posts.UpdatePost(ctx, post)
		if err == nil {
			return post, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, fmt.Errorf("update post: %w", err)
		}

		s.logger.Debug("post version conflict, retrying",
			"post_id", postID,
			"attempt", attempt,
		)
	}

	return nil, fmt.Errorf("%w: post %s", ErrConflictRetriesExhausted, postID)
}
