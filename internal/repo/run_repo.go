package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/omnipost/internal/domain"
)

// RunRepo — репозиторий runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `id, post_id, instance_id, action, status, total_steps, last_completed,
		       in_flight, claimed_at, deferrals, error, created_at, started_at, finished_at`

// CreateRun создаёт новый run.
func (r *RunRepo) CreateRun(ctx context.Context, run *domain.ActionRun) error {
	query := `
		INSERT INTO action_runs (id, post_id, instance_id, action, status, total_steps, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.PostID,
		run.InstanceID,
		run.Action,
		run.Status,
		run.TotalSteps,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun возвращает run по ID.
func (r *RunRepo) GetRun(ctx context.Context, id uuid.UUID) (*domain.ActionRun, error) {
	query := `SELECT ` + runColumns + ` FROM action_runs WHERE id = $1`
	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// UpdateRun атомарно применяет fn к run.
//
// Строка блокируется (SELECT ... FOR UPDATE) до конца транзакции,
// поэтому параллельные исполнители одного run сериализуются.
// Если fn возвращает ошибку, транзакция откатывается.
func (r *RunRepo) UpdateRun(ctx context.Context, id uuid.UUID, fn func(*domain.ActionRun) error) (*domain.ActionRun, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Блокируем строку
	query := `SELECT ` + runColumns + ` FROM action_runs WHERE id = $1 FOR UPDATE`
	run, err := scanRun(tx.QueryRow(ctx, query, id))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	// 2. Применяем изменение
	if err := fn(run); err != nil {
		return nil, err
	}

	// 3. Записываем
	update := `
		UPDATE action_runs
		SET status = $2, last_completed = $3, in_flight = $4, claimed_at = $5,
		    deferrals = $6, error = $7, started_at = $8, finished_at = $9
		WHERE id = $1
	`
	_, err = tx.Exec(ctx, update,
		run.ID,
		run.Status,
		run.LastCompleted,
		nullInt(run.InFlight),
		run.ClaimedAt,
		run.Deferrals,
		nullString(run.Error),
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return run, nil
}

// ListRunsByPost возвращает runs поста в порядке создания.
func (r *RunRepo) ListRunsByPost(ctx context.Context, postID uuid.UUID) ([]domain.ActionRun, error) {
	query := `SELECT ` + runColumns + ` FROM action_runs WHERE post_id = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.ActionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// scanRun сканирует одну строку в ActionRun.
func scanRun(row pgx.Row) (*domain.ActionRun, error) {
	var (
		run      domain.ActionRun
		inFlight *int
		runError *string
	)

	err := row.Scan(
		&run.ID,
		&run.PostID,
		&run.InstanceID,
		&run.Action,
		&run.Status,
		&run.TotalSteps,
		&run.LastCompleted,
		&inFlight,
		&run.ClaimedAt,
		&run.Deferrals,
		&runError,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if inFlight != nil {
		run.InFlight = *inFlight
	}
	if runError != nil {
		run.Error = *runError
	}
	return &run, nil
}
