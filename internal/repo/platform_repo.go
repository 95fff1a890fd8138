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

// PlatformRepo — репозиторий платформ.
type PlatformRepo struct {
	pool *pgxpool.Pool
}

// NewPlatformRepo создаёт новый PlatformRepo.
func NewPlatformRepo(pool *pgxpool.Pool) *PlatformRepo {
	return &PlatformRepo{pool: pool}
}

// CreatePlatform сохраняет платформу.
func (r *PlatformRepo) CreatePlatform(ctx context.Context, p *domain.Platform) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	query := `
		INSERT INTO platforms (id, name, config, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = r.pool.Exec(ctx, query, p.ID, p.Name, configJSON, p.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("platform %s: %w", p.Name, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert platform: %w", err)
	}
	return nil
}

// GetPlatform возвращает платформу по ID.
func (r *PlatformRepo) GetPlatform(ctx context.Context, id uuid.UUID) (*domain.Platform, error) {
	query := `SELECT id, name, config, created_at FROM platforms WHERE id = $1`
	return scanPlatform(r.pool.QueryRow(ctx, query, id))
}

// GetPlatformByName возвращает платформу по имени.
func (r *PlatformRepo) GetPlatformByName(ctx context.Context, name string) (*domain.Platform, error) {
	query := `SELECT id, name, config, created_at FROM platforms WHERE name = $1`
	return scanPlatform(r.pool.QueryRow(ctx, query, name))
}

// ListPlatforms возвращает все платформы, отсортированные по имени.
func (r *PlatformRepo) ListPlatforms(ctx context.Context) ([]domain.Platform, error) {
	query := `SELECT id, name, config, created_at FROM platforms ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list platforms: %w", err)
	}
	defer rows.Close()

	var platforms []domain.Platform
	for rows.Next() {
		p, err := scanPlatform(rows)
		if err != nil {
			return nil, err
		}
		platforms = append(platforms, *p)
	}
	return platforms, rows.Err()
}

// UpdatePlatformConfig заменяет конфигурацию платформы.
func (r *PlatformRepo) UpdatePlatformConfig(ctx context.Context, id uuid.UUID, cfg domain.PlatformConfig) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	result, err := r.pool.Exec(ctx, `UPDATE platforms SET config = $2 WHERE id = $1`, id, configJSON)
	if err != nil {
		return fmt.Errorf("update platform: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanPlatform сканирует строку (pgx.Row или pgx.Rows) в Platform.
func scanPlatform(row pgx.Row) (*domain.Platform, error) {
	var p domain.Platform
	var configJSON []byte

	err := row.Scan(&p.ID, &p.Name, &configJSON, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan platform: %w", err)
	}

	if err := json.Unmarshal(configJSON, &p.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config of %s: %w", p.Name, err)
	}
	return &p, nil
}
