package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/omnipost/internal/domain"
)

// Store — потокобезопасное in-memory хранилище.
type Store struct {
	mu            sync.RWMutex
	platforms     map[uuid.UUID]*domain.Platform
	instances     map[uuid.UUID]*domain.PlatformInstance
	posts         map[uuid.UUID]*domain.Post
	notifications []*domain.Notification
	runs          map[uuid.UUID]*domain.ActionRun
}

// New создаёт пустой Store.
func New() *Store {
	return &Store{
		platforms: make(map[uuid.UUID]*domain.Platform),
		instances: make(map[uuid.UUID]*domain.PlatformInstance),
		posts:     make(map[uuid.UUID]*domain.Post),
		runs:      make(map[uuid.UUID]*domain.ActionRun),
	}
}

// --- Platforms ---

// CreatePlatform сохраняет платформу.
func (s *Store) CreatePlatform(_ context.Context, p *domain.Platform) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *p
	s.platforms[p.ID] = &copied
	return nil
}

// GetPlatform возвращает платформу по ID.
func (s *Store) GetPlatform(_ context.Context, id uuid.UUID) (*domain.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.platforms[id]
	if !ok {
		return nil, fmt.Errorf("platform %s: %w", id, domain.ErrNotFound)
	}
	copied := *p
	return &copied, nil
}

// ListPlatforms возвращает все платформы, отсортированные по имени.
func (s *Store) ListPlatforms(_ context.Context) ([]domain.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Platform, 0, len(s.platforms))
	for _, p := range s.platforms {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Instances ---

// CreateInstance сохраняет экземпляр платформы.
func (s *Store) CreateInstance(_ context.Context, inst *domain.PlatformInstance) error {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.platforms[inst.PlatformID]; !ok {
		return fmt.Errorf("platform %s: %w", inst.PlatformID, domain.ErrNotFound)
	}
	s.instances[inst.ID] = copyInstance(inst)
	return nil
}

// GetInstance возвращает экземпляр с загруженной платформой.
func (s *Store) GetInstance(_ context.Context, id uuid.UUID) (*domain.PlatformInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
	}

	out := copyInstance(inst)
	if p, ok := s.platforms[inst.PlatformID]; ok {
		platform := *p
		out.Platform = &platform
	}
	return out, nil
}

// --- Posts ---

// CreatePost сохраняет новый пост с версией 0.
func (s *Store) CreatePost(_ context.Context, post *domain.Post) error {
	if post.ID == uuid.Nil {
		post.ID = uuid.New()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}
	post.Version = 0

	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[post.ID] = copyPost(post)
	return nil
}

// GetPost возвращает пост по ID.
func (s *Store) GetPost(_ context.Context, id uuid.UUID) (*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	post, ok := s.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %s: %w", id, domain.ErrNotFound)
	}
	return copyPost(post), nil
}

// UpdatePost записывает пост с compare-and-swap по Version.
func (s *Store) UpdatePost(_ context.Context, post *domain.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.posts[post.ID]
	if !ok {
		return fmt.Errorf("post %s: %w", post.ID, domain.ErrNotFound)
	}
	if current.Version != post.Version {
		return domain.ErrVersionConflict
	}

	// DispatchedAt меняется только через MarkDispatched
	post.DispatchedAt = current.DispatchedAt
	post.Version++
	s.posts[post.ID] = copyPost(post)
	return nil
}

// ListDuePosts возвращает посты, которые пора опубликовать по расписанию.
func (s *Store) ListDuePosts(_ context.Context, now time.Time, limit int) ([]domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Post
	for _, post := range s.posts {
		if post.IsDue(now) {
			out = append(out, *copyPost(post))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Schedule.Before(*out[j].Schedule) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkDispatched отмечает пост запущенным по расписанию.
// Возвращает false, если пост уже был отмечен.
func (s *Store) MarkDispatched(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[id]
	if !ok {
		return false, fmt.Errorf("post %s: %w", id, domain.ErrNotFound)
	}
	if post.DispatchedAt != nil {
		return false, nil
	}
	post.MarkDispatched(now)
	return true, nil
}

// --- Notifications ---

// CreateNotification сохраняет уведомление.
func (s *Store) CreateNotification(_ context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *n
	s.notifications = append(s.notifications, &copied)
	return nil
}

// ListNotifications возвращает уведомления пользователя в порядке создания.
func (s *Store) ListNotifications(_ context.Context, userID uuid.UUID) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	return out, nil
}

// --- Runs ---

// CreateRun сохраняет новый run.
func (s *Store) CreateRun(_ context.Context, run *domain.ActionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

// GetRun возвращает run по ID.
func (s *Store) GetRun(_ context.Context, id uuid.UUID) (*domain.ActionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	copied := *run
	return &copied, nil
}

// UpdateRun атомарно применяет fn к run.
// Если fn возвращает ошибку, run не меняется.
func (s *Store) UpdateRun(_ context.Context, id uuid.UUID, fn func(*domain.ActionRun) error) (*domain.ActionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}

	copied := *run
	if err := fn(&copied); err != nil {
		return nil, err
	}
	s.runs[id] = &copied

	out := copied
	return &out, nil
}

// ListRunsByPost возвращает runs поста в порядке создания.
func (s *Store) ListRunsByPost(_ context.Context, postID uuid.UUID) ([]domain.ActionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ActionRun
	for _, run := range s.runs {
		if run.PostID == postID {
			out = append(out, *run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func copyInstance(inst *domain.PlatformInstance) *domain.PlatformInstance {
	out := *inst
	out.Credentials = make(map[string]string, len(inst.Credentials))
	for k, v := range inst.Credentials {
		out.Credentials[k] = v
	}
	out.Salt = append([]byte(nil), inst.Salt...)
	if len(out.Salt) == 0 {
		out.Salt = nil
	}
	out.Platform = nil
	return &out
}

func copyPost(post *domain.Post) *domain.Post {
	out := *post
	out.InstanceIDs = append([]uuid.UUID(nil), post.InstanceIDs...)
	if post.Configs != nil {
		out.Configs = post.Configs.Clone()
	}
	if post.Schedule != nil {
		t := *post.Schedule
		out.Schedule = &t
	}
	if post.DispatchedAt != nil {
		t := *post.DispatchedAt
		out.DispatchedAt = &t
	}
	return &out
}
