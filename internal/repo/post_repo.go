package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/omnipost/internal/domain"
)

// PostRepo — репозиторий постов.
type PostRepo struct {
	pool *pgxpool.Pool
}

// NewPostRepo создаёт новый PostRepo.
func NewPostRepo(pool *pgxpool.Pool) *PostRepo {
	return &PostRepo{pool: pool}
}

const postColumns = `id, owner_id, kind, created_at, schedule, dispatched_at,
		       instance_ids, content, post_configs, version`

// CreatePost сохраняет новый пост с версией 0.
func (r *PostRepo) CreatePost(ctx context.Context, post *domain.Post) error {
	if post.ID == uuid.Nil {
		post.ID = uuid.New()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}
	if post.InstanceIDs == nil {
		post.InstanceIDs = []uuid.UUID{}
	}
	post.Version = 0

	contentJSON, configsJSON, err := marshalPost(post)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO posts (id, owner_id, kind, created_at, schedule, instance_ids, content, post_configs, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)
	`
	_, err = r.pool.Exec(ctx, query,
		post.ID,
		post.OwnerID,
		post.Kind,
		post.CreatedAt,
		post.Schedule,
		post.InstanceIDs,
		contentJSON,
		configsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// GetPost возвращает пост по ID.
func (r *PostRepo) GetPost(ctx context.Context, id uuid.UUID) (*domain.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	post, err := scanPost(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return post, err
}

// UpdatePost записывает содержимое и Configs с compare-and-swap по Version.
//
// Запись проходит, только если версия в БД равна post.Version;
// после записи post.Version увеличивается. Иначе ErrVersionConflict.
func (r *PostRepo) UpdatePost(ctx context.Context, post *domain.Post) error {
	contentJSON, configsJSON, err := marshalPost(post)
	if err != nil {
		return err
	}

	query := `
		UPDATE posts
		SET content = $3, post_configs = $4, instance_ids = $5, schedule = $6, version = version + 1
		WHERE id = $1 AND version = $2
	`
	result, err := r.pool.Exec(ctx, query,
		post.ID,
		post.Version,
		contentJSON,
		configsJSON,
		post.InstanceIDs,
		post.Schedule,
	)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Различаем отсутствие поста и устаревшую версию
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM posts WHERE id = $1)`, post.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check post: %w", err)
		}
		if !exists {
			return fmt.Errorf("post %s: %w", post.ID, ErrNotFound)
		}
		return ErrVersionConflict
	}

	post.Version++
	return nil
}

// ListDuePosts возвращает посты, которые пора опубликовать по расписанию.
func (r *PostRepo) ListDuePosts(ctx context.Context, now time.Time, limit int) ([]domain.Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM posts
		WHERE schedule IS NOT NULL AND schedule <= $1 AND dispatched_at IS NULL
		ORDER BY schedule ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, nullInt(limit))
	if err != nil {
		return nil, fmt.Errorf("list due posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *post)
	}
	return posts, rows.Err()
}

// MarkDispatched отмечает пост запущенным по расписанию.
// Возвращает false, если пост уже отметил другой scheduler.
func (r *PostRepo) MarkDispatched(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result, err := r.pool.Exec(ctx,
		`UPDATE posts SET dispatched_at = $2 WHERE id = $1 AND dispatched_at IS NULL`,
		id, now,
	)
	if err != nil {
		return false, fmt.Errorf("mark dispatched: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// --- Helpers ---

func marshalPost(post *domain.Post) (content, configs []byte, err error) {
	content, err = json.Marshal(post.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal content: %w", err)
	}

	cfg := post.Configs
	if cfg == nil {
		cfg = domain.PostConfigs{}
	}
	configs, err = json.Marshal(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal post configs: %w", err)
	}
	return content, configs, nil
}

// scanPost сканирует строку в Post.
func scanPost(row pgx.Row) (*domain.Post, error) {
	var (
		post        domain.Post
		contentJSON []byte
		configsJSON []byte
	)

	err := row.Scan(
		&post.ID,
		&post.OwnerID,
		&post.Kind,
		&post.CreatedAt,
		&post.Schedule,
		&post.DispatchedAt,
		&post.InstanceIDs,
		&contentJSON,
		&configsJSON,
		&post.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan post: %w", err)
	}

	if err := json.Unmarshal(contentJSON, &post.Content); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}
	if err := json.Unmarshal(configsJSON, &post.Configs); err != nil {
		return nil, fmt.Errorf("unmarshal post configs: %w", err)
	}
	return &post, nil
}
