package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/omnipost/internal/domain"
	"github.com/shaiso/omnipost/internal/telemetry"
)

// DefaultDelay — интервал между шагами по умолчанию.
const DefaultDelay = 5 * time.Second

// Enqueuer ставит задание в очередь на заданное время.
type Enqueuer interface {
	EnqueueAt(ctx context.Context, at time.Time, job *domain.StepJob) error
}

// RunStore — хранилище runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *domain.ActionRun) error
}

// InstanceStore — хранилище экземпляров платформ.
type InstanceStore interface {
	GetInstance(ctx context.Context, id uuid.UUID) (*domain.PlatformInstance, error)
}

// Runner запускает actions.
type Runner struct {
	runs      RunStore
	instances InstanceStore
	enqueuer  Enqueuer
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Config — конфигурация Runner.
type Config struct {
	Runs      RunStore
	Instances InstanceStore

	// Enqueuer — очередь шагов (queue.Local или mq.Publisher).
	Enqueuer Enqueuer

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New создаёт Runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		runs:      cfg.Runs,
		instances: cfg.Instances,
		enqueuer:  cfg.Enqueuer,
		metrics:   cfg.Metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// PlannedStep — шаг с запланированным временем запуска.
type PlannedStep struct {
	Index int
	RunAt time.Time
	Step  domain.ActionStep
}

// Plan возвращает расписание шагов action без запуска.
// delay <= 0 заменяется на DefaultDelay.
func Plan(instance *domain.PlatformInstance, action string, now time.Time, delay time.Duration) ([]PlannedStep, error) {
	if instance.Platform == nil {
		return nil, domain.ErrPlatformNotLoaded
	}

	steps, ok := instance.Platform.Config.Action(action)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", domain.ErrUnknownAction, action, instance.Platform.Name)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSteps, action)
	}

	if delay <= 0 {
		delay = DefaultDelay
	}

	plan := make([]PlannedStep, len(steps))
	for i, step := range steps {
		plan[i] = PlannedStep{
			Index: i + 1,
			RunAt: now.Add(delay * time.Duration(i+1)),
			Step:  step,
		}
	}
	return plan, nil
}

// RunAction запускает action для одного экземпляра.
//
// Создаёт ActionRun и ставит шаг i на now + delay*i. Ошибка конфигурации
// (неизвестный action) возвращается сразу, до создания run. Пароль
// передаётся в задании, расшифровка происходит в worker.
func (r *Runner) RunAction(ctx context.Context, post *domain.Post, instance *domain.PlatformInstance, action, password string, delay time.Duration) (*domain.ActionRun, error) {
	if delay <= 0 {
		delay = DefaultDelay
	}

	// 1. Расписание шагов
	plan, err := Plan(instance, action, r.now(), delay)
	if err != nil {
		return nil, err
	}

	// 2. Run
	run := domain.NewActionRun(post.ID, instance.ID, action, len(plan))
	if err := r.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	logger := telemetry.WithRunID(r.logger, run.ID.String())

	// 3. Шаги в очередь
	for _, p := range plan {
		job := &domain.StepJob{
			ID:         uuid.New(),
			RunID:      run.ID,
			PostID:     post.ID,
			InstanceID: instance.ID,
			Index:      p.Index,
			Step:       p.Step,
			Password:   password,
			Delay:      delay,
		}
		if err := r.enqueuer.EnqueueAt(ctx, p.RunAt, job); err != nil {
			return run, fmt.Errorf("enqueue step %d: %w", p.Index, err)
		}
	}

	r.metrics.IncRun(instance.PlatformName(), action)
	logger.Info("action started",
		"post_id", post.ID,
		"instance_id", instance.ID,
		"platform", instance.PlatformName(),
		"action", action,
		"steps", len(plan),
		"delay", delay,
	)

	return run, nil
}

// RunActionOnAllPlatforms запускает action для каждого экземпляра поста.
//
// Экземпляры независимы: ошибка одного не останавливает остальные.
// Возвращает созданные runs и объединённые ошибки.
func (r *Runner) RunActionOnAllPlatforms(ctx context.Context, post *domain.Post, action, password string, delay time.Duration) ([]*domain.ActionRun, error) {
	if len(post.InstanceIDs) == 0 {
		return nil, ErrNoInstances
	}

	var (
		runs []*domain.ActionRun
		errs []error
	)

	for _, id := range post.InstanceIDs {
		instance, err := r.instances.GetInstance(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("instance %s: %w", id, err))
			continue
		}

		run, err := r.RunAction(ctx, post, instance, action, password, delay)
		if err != nil {
			r.logger.Warn("action not started",
				"post_id", post.ID,
				"instance_id", id,
				"action", action,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("instance %s: %w", id, err))
		}
		if run != nil {
			runs = append(runs, run)
		}
	}

	return runs, errors.Join(errs...)
}
