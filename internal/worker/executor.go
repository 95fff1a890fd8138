package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaiso/omnipost/internal/domain"
	"github.com/shaiso/omnipost/internal/engine"
	"github.com/shaiso/omnipost/internal/posts"
	"github.com/shaiso/omnipost/internal/telemetry"
)

// Default configuration values.
const (
	defaultClaimLease   = time.Minute
	defaultMaxDeferrals = 10
)

// Тексты уведомлений.
const (
	successMessage = "Post created successfully"
	errorPrefix    = "Something went wrong. "
	internalError  = "internal error"
)

// RunStore — хранилище runs.
type RunStore interface {
	// UpdateRun атомарно применяет fn к run.
	UpdateRun(ctx context.Context, id uuid.UUID, fn func(*domain.ActionRun) error) (*domain.ActionRun, error)
}

// InstanceStore — хранилище экземпляров платформ.
type InstanceStore interface {
	// GetInstance возвращает экземпляр с загруженной платформой.
	GetInstance(ctx context.Context, id uuid.UUID) (*domain.PlatformInstance, error)
}

// NotificationStore — хранилище уведомлений.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
}

// PostState — состояние поста по платформам.
type PostState interface {
	GetPlatformState(ctx context.Context, postID uuid.UUID, platform string) (map[string]string, error)
	ApplyPlatformState(ctx context.Context, postID uuid.UUID, platform string, fields map[string]string) error
}

// Enqueuer ставит задание в очередь на заданное время.
type Enqueuer interface {
	EnqueueAt(ctx context.Context, at time.Time, job *domain.StepJob) error
}

// EventPublisher рассылает созданные уведомления (опционально).
type EventPublisher interface {
	PublishNotification(ctx context.Context, n *domain.Notification) error
}

// StepExecutor выполняет один шаг action — единицу работы очереди.
//
// Шаг выполняет ровно один сетевой вызов и не более одной записи
// состояния поста. На финальном исходе run создаётся ровно одно
// уведомление: об успехе или об ошибке.
type StepExecutor struct {
	runs          RunStore
	instances     InstanceStore
	notifications NotificationStore
	state         PostState
	enqueuer      Enqueuer
	events        EventPublisher
	http          *HTTPExecutor
	options       engine.Options
	lease         time.Duration
	maxDeferrals  int
	metrics       *telemetry.Metrics
	logger        *slog.Logger
	now           func() time.Time
}

// ExecutorConfig — конфигурация StepExecutor.
type ExecutorConfig struct {
	Runs          RunStore
	Instances     InstanceStore
	Notifications NotificationStore
	State         PostState

	// Enqueuer — очередь для откладывания шага, если предыдущий не завершён.
	Enqueuer Enqueuer

	// Events — рассылка уведомлений (опционально).
	Events EventPublisher

	// HTTP — исполнитель запросов (если nil — NewHTTPExecutor(30s)).
	HTTP *HTTPExecutor

	// Substitution — режимы подстановки (strict, delimited).
	Substitution engine.Options

	// ClaimLease — через сколько взятый шаг считается брошенным (default: 1m).
	ClaimLease time.Duration

	// MaxDeferrals — сколько раз можно отложить шаг (default: 10).
	MaxDeferrals int

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// NewStepExecutor создаёт StepExecutor.
func NewStepExecutor(cfg ExecutorConfig) *StepExecutor {
	httpExec := cfg.HTTP
	if httpExec == nil {
		httpExec = NewHTTPExecutor(defaultHTTPTimeout)
	}

	lease := cfg.ClaimLease
	if lease <= 0 {
		lease = defaultClaimLease
	}

	maxDeferrals := cfg.MaxDeferrals
	if maxDeferrals <= 0 {
		maxDeferrals = defaultMaxDeferrals
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StepExecutor{
		runs:          cfg.Runs,
		instances:     cfg.Instances,
		notifications: cfg.Notifications,
		state:         cfg.State,
		enqueuer:      cfg.Enqueuer,
		events:        cfg.Events,
		http:          httpExec,
		options:       cfg.Substitution,
		lease:         lease,
		maxDeferrals:  maxDeferrals,
		metrics:       cfg.Metrics,
		logger:        logger,
		now:           time.Now,
	}
}

// claimOutcome — результат попытки взять шаг, включая исчерпание откладываний.
type claimOutcome struct {
	result    domain.ClaimResult
	exhausted bool
}

// Execute выполняет шаг.
//
// Ошибки шага (расшифровка, шаблон, код ответа, сеть) не возвращаются:
// они переводят run в FAILED и создают уведомление. Возвращается только
// ошибка, из-за которой исход не удалось записать (хранилище недоступно),
// чтобы очередь могла доставить задание повторно.
func (e *StepExecutor) Execute(ctx context.Context, job *domain.StepJob) (err error) {
	logger := telemetry.WithStep(e.logger, job.RunID.String(), job.InstanceID.String(), job.Index)

	ctx, span := telemetry.Tracer().Start(ctx, "omnipost.step",
		trace.WithAttributes(
			attribute.String("run_id", job.RunID.String()),
			attribute.String("post_id", job.PostID.String()),
			attribute.Int("step", job.Index),
		),
	)
	defer span.End()
	ctx = telemetry.WithLogger(ctx, logger)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("step panicked", "panic", r, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, "panic")
			err = e.fail(ctx, logger, job, nil, fmt.Errorf("%w: %v", ErrStepPanic, r))
		}
	}()

	// 1. Берём шаг в работу
	claim, err := e.claim(ctx, job)
	if err != nil {
		return fmt.Errorf("claim step: %w", err)
	}

	switch {
	case claim.exhausted:
		return e.fail(ctx, logger, job, nil,
			fmt.Errorf("%w: step %d", ErrPredecessorIncomplete, job.Index-1))

	case claim.result == domain.ClaimDuplicate || claim.result == domain.ClaimFinished:
		logger.Debug("step skipped", "reason", claim.result.String())
		e.metrics.IncStep("", "duplicate")
		return nil

	case claim.result == domain.ClaimEarly:
		return e.deferStep(ctx, logger, job)
	}

	logger.Info("step started")

	// 2. Экземпляр с платформой
	inst, err := e.instances.GetInstance(ctx, job.InstanceID)
	if err != nil {
		return e.fail(ctx, logger, job, nil, fmt.Errorf("get instance: %w", err))
	}
	platform := inst.PlatformName()
	span.SetAttributes(attribute.String("platform", platform))

	// 3. Выполняем
	outcome, err := e.run(ctx, job, inst)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.fail(ctx, logger, job, inst, err)
	}

	// 4. Фиксируем завершение шага
	return e.complete(ctx, logger, job, inst, outcome)
}

// run выполняет шаг от расшифровки до записи извлечённых полей.
func (e *StepExecutor) run(ctx context.Context, job *domain.StepJob, inst *domain.PlatformInstance) (*Outcome, error) {
	platform := inst.PlatformName()

	// 1. Credentials расшифровываются только здесь
	creds, err := posts.GetCredentials(inst, job.Password)
	if err != nil {
		return nil, err
	}

	// 2. Состояние поста для платформы
	state, err := e.state.GetPlatformState(ctx, job.PostID, platform)
	if err != nil {
		return nil, fmt.Errorf("get platform state: %w", err)
	}

	// 3. Подстановка: сначала credentials, затем состояние
	req, err := e.substitutor(inst).Substitute(job.Step.Request, creds, state)
	if err != nil {
		return nil, err
	}

	// 4. Один сетевой вызов
	started := time.Now()
	resp, err := e.http.Do(ctx, req)
	e.metrics.ObserveHTTP(platform, req.Method, started)
	if err != nil {
		return nil, err
	}

	// 5. Проверка ответа
	outcome, err := Evaluate(&job.Step, resp)
	if err != nil {
		return nil, err
	}

	// 6. Одна атомарная запись состояния
	if len(outcome.Extracted) > 0 {
		if err := e.state.ApplyPlatformState(ctx, job.PostID, platform, outcome.Extracted); err != nil {
			return nil, fmt.Errorf("apply platform state: %w", err)
		}
	}

	return outcome, nil
}

// substitutor возвращает Substitutor, знающий ключи INSTANCE платформы.
func (e *StepExecutor) substitutor(inst *domain.PlatformInstance) *engine.Substitutor {
	opts := e.options
	if opts.Strict && inst.Platform != nil {
		declared := make([]string, 0, len(inst.Platform.Config.Instance))
		for key := range inst.Platform.Config.Instance {
			declared = append(declared, key)
		}
		sort.Strings(declared)
		opts.Declared = append(declared, opts.Declared...)
	}
	return engine.NewSubstitutor(opts)
}

// claim атомарно берёт шаг в работу.
func (e *StepExecutor) claim(ctx context.Context, job *domain.StepJob) (claimOutcome, error) {
	var out claimOutcome
	now := e.now()

	_, err := e.runs.UpdateRun(ctx, job.RunID, func(r *domain.ActionRun) error {
		out = claimOutcome{result: r.Claim(job.Index, now, e.lease)}
		if out.result == domain.ClaimEarly {
			if r.Deferrals >= e.maxDeferrals {
				out.exhausted = true
				return nil
			}
			r.Defer()
		}
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		// Run удалён — задание устарело
		return claimOutcome{result: domain.ClaimFinished}, nil
	}
	return out, err
}

// deferStep переносит шаг на ещё один интервал.
func (e *StepExecutor) deferStep(ctx context.Context, logger *slog.Logger, job *domain.StepJob) error {
	next := job.Deferred(e.now())

	if e.enqueuer == nil {
		return e.fail(ctx, logger, job, nil,
			fmt.Errorf("%w: step %d (no queue to defer)", ErrPredecessorIncomplete, job.Index-1))
	}
	if err := e.enqueuer.EnqueueAt(ctx, next.RunAt, next); err != nil {
		return fmt.Errorf("defer step: %w", err)
	}

	logger.Info("step deferred, previous step not completed", "run_at", next.RunAt)
	e.metrics.IncStep("", "deferred")
	return nil
}

// complete фиксирует успешное выполнение шага.
func (e *StepExecutor) complete(ctx context.Context, logger *slog.Logger, job *domain.StepJob, inst *domain.PlatformInstance, outcome *Outcome) error {
	succeeded := false
	_, err := e.runs.UpdateRun(ctx, job.RunID, func(r *domain.ActionRun) error {
		wasFinished := r.IsFinished()
		r.CompleteStep(job.Index, outcome.Terminal)
		succeeded = !wasFinished && r.Status == domain.RunStatusSucceeded
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete step: %w", err)
	}

	e.metrics.IncStep(inst.PlatformName(), "succeeded")
	logger.Info("step succeeded",
		"terminal", outcome.Terminal,
		"extracted", len(outcome.Extracted),
	)

	if !succeeded {
		return nil
	}

	// Уведомление об успехе даёт только шаг с маркером terminal
	if !outcome.Terminal {
		logger.Info("action finished without terminal step")
		return nil
	}

	logger.Info("action succeeded")
	instanceID := inst.ID
	return e.notify(ctx, logger, domain.NewNotification(inst.OwnerID, &instanceID, successMessage))
}

// fail переводит run в FAILED и создаёт одно уведомление об ошибке.
// Если run уже завершён, ничего не делает.
func (e *StepExecutor) fail(ctx context.Context, logger *slog.Logger, job *domain.StepJob, inst *domain.PlatformInstance, cause error) error {
	message := failureMessage(cause)

	transitioned := false
	_, err := e.runs.UpdateRun(ctx, job.RunID, func(r *domain.ActionRun) error {
		if r.IsFinished() {
			return nil
		}
		r.MarkFailed(cause.Error())
		transitioned = true
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("mark run failed: %w", err)
	}

	platform := ""
	if inst != nil {
		platform = inst.PlatformName()
	}
	e.metrics.IncStep(platform, "failed")
	logger.Warn("step failed", "error", cause)

	if !transitioned {
		return nil
	}

	// Уведомление адресуется владельцу экземпляра
	if inst == nil {
		loaded, err := e.instances.GetInstance(ctx, job.InstanceID)
		if err != nil {
			logger.Error("cannot notify about failed run, instance unavailable", "error", err)
			return nil
		}
		inst = loaded
	}

	instanceID := inst.ID
	return e.notify(ctx, logger, domain.NewErrorNotification(inst.OwnerID, &instanceID, message))
}

// notify сохраняет уведомление и рассылает его.
func (e *StepExecutor) notify(ctx context.Context, logger *slog.Logger, n *domain.Notification) error {
	if err := e.notifications.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	e.metrics.IncNotification(n.Error)

	if e.events != nil {
		if err := e.events.PublishNotification(ctx, n); err != nil {
			// Уведомление уже сохранено
			logger.Warn("failed to publish notification event", "notification_id", n.ID, "error", err)
		}
	}
	return nil
}

// failureMessage формирует текст уведомления об ошибке.
// Для UnexpectedStatusError — тело ответа целиком.
func failureMessage(err error) string {
	var statusErr *UnexpectedStatusError
	if errors.As(err, &statusErr) {
		return errorPrefix + statusErr.Body
	}
	if errors.Is(err, ErrStepPanic) {
		return errorPrefix + internalError
	}
	return errorPrefix + err.Error()
}
