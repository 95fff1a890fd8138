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

// InstanceRepo — репозиторий экземпляров платформ.
type InstanceRepo struct {
	pool *pgxpool.Pool
}

// NewInstanceRepo создаёт новый InstanceRepo.
func NewInstanceRepo(pool *pgxpool.Pool) *InstanceRepo {
	return &InstanceRepo{pool: pool}
}

// CreateInstance сохраняет экземпляр.
// Credentials записываются как есть: шифрование выполняет posts.SealInstance.
func (r *InstanceRepo) CreateInstance(ctx context.Context, inst *domain.PlatformInstance) error {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now()
	}

	credsJSON, err := json.Marshal(inst.Credentials)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	query := `
		INSERT INTO platform_instances (id, platform_id, owner_id, credentials, salt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.pool.Exec(ctx, query,
		inst.ID,
		inst.PlatformID,
		inst.OwnerID,
		credsJSON,
		inst.Salt,
		inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// GetInstance возвращает экземпляр вместе с платформой.
func (r *InstanceRepo) GetInstance(ctx context.Context, id uuid.UUID) (*domain.PlatformInstance, error) {
	query := `
		SELECT i.id, i.platform_id, i.owner_id, i.credentials, i.salt, i.created_at,
		       p.id, p.name, p.config, p.created_at
		FROM platform_instances i
		JOIN platforms p ON p.id = i.platform_id
		WHERE i.id = $1
	`

	var (
		inst       domain.PlatformInstance
		platform   domain.Platform
		credsJSON  []byte
		configJSON []byte
	)

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&inst.ID,
		&inst.PlatformID,
		&inst.OwnerID,
		&credsJSON,
		&inst.Salt,
		&inst.CreatedAt,
		&platform.ID,
		&platform.Name,
		&configJSON,
		&platform.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan instance: %w", err)
	}

	if err := json.Unmarshal(credsJSON, &inst.Credentials); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	if err := json.Unmarshal(configJSON, &platform.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config of %s: %w", platform.Name, err)
	}
	if len(inst.Salt) == 0 {
		inst.Salt = nil
	}

	inst.Platform = &platform
	return &inst, nil
}

// UpdateCredentials заменяет credentials и соль (пересохранение через SealInstance).
func (r *InstanceRepo) UpdateCredentials(ctx context.Context, inst *domain.PlatformInstance) error {
	credsJSON, err := json.Marshal(inst.Credentials)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	result, err := r.pool.Exec(ctx,
		`UPDATE platform_instances SET credentials = $2, salt = $3 WHERE id = $1`,
		inst.ID, credsJSON, inst.Salt,
	)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
