package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActionRun — выполнение одного action для пары (post, instance).
//
// ActionRun создаётся Runner'ом при вызове RunAction.
// Шаги выполняются Worker'ом строго по одному: шаг i начинается только
// после завершения шага i-1. Повторные доставки одного шага отбрасываются.
type ActionRun struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// PostID — пост, который публикуется.
	PostID uuid.UUID `json:"post_id"`

	// InstanceID — экземпляр платформы.
	InstanceID uuid.UUID `json:"instance_id"`

	// Action — имя action (например, "POST_TEXT").
	Action string `json:"action"`

	// Status — текущий статус.
	Status RunStatus `json:"status"`

	// TotalSteps — количество шагов action.
	TotalSteps int `json:"total_steps"`

	// LastCompleted — номер последнего завершённого шага (с 1; 0 — ни одного).
	LastCompleted int `json:"last_completed"`

	// InFlight — номер шага, который сейчас выполняется (0 — нет).
	InFlight int `json:"in_flight,omitempty"`

	// ClaimedAt — когда шаг InFlight был взят в работу.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// Deferrals — сколько раз шаги откладывались из-за незавершённого предыдущего.
	Deferrals int `json:"deferrals"`

	// Error — текст ошибки при FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt — когда начал выполняться первый шаг.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время перехода в финальный статус.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewActionRun создаёт run в статусе PENDING.
func NewActionRun(postID, instanceID uuid.UUID, action string, totalSteps int) *ActionRun {
	return &ActionRun{
		ID:         uuid.New(),
		PostID:     postID,
		InstanceID: instanceID,
		Action:     action,
		Status:     RunStatusPending,
		TotalSteps: totalSteps,
		CreatedAt:  time.Now(),
	}
}

// ClaimResult — результат попытки взять шаг в работу.
type ClaimResult int

const (
	// ClaimAcquired — шаг можно выполнять.
	ClaimAcquired ClaimResult = iota

	// ClaimDuplicate — шаг уже выполнен или выполняется (повторная доставка).
	ClaimDuplicate

	// ClaimEarly — предыдущий шаг ещё не завершён.
	ClaimEarly

	// ClaimFinished — run уже в финальном статусе.
	ClaimFinished
)

// String возвращает строковое представление ClaimResult.
func (c ClaimResult) String() string {
	switch c {
	case ClaimAcquired:
		return "acquired"
	case ClaimDuplicate:
		return "duplicate"
	case ClaimEarly:
		return "early"
	case ClaimFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Claim пытается взять шаг index в работу.
//
// Шаг, взятый другим исполнителем, считается дубликатом, пока не истёк lease:
// после этого исполнитель считается упавшим и шаг можно взять снова.
func (r *ActionRun) Claim(index int, now time.Time, lease time.Duration) ClaimResult {
	if r.Status.IsTerminal() {
		return ClaimFinished
	}
	if index <= r.LastCompleted {
		return ClaimDuplicate
	}
	if index > r.LastCompleted+1 {
		return ClaimEarly
	}
	if r.InFlight == index && r.ClaimedAt != nil && now.Sub(*r.ClaimedAt) < lease {
		return ClaimDuplicate
	}

	if r.StartedAt == nil {
		r.StartedAt = &now
	}
	r.Status = RunStatusRunning
	r.InFlight = index
	r.ClaimedAt = &now
	return ClaimAcquired
}

// CompleteStep фиксирует успешное завершение шага.
// Если шаг терминальный (или последний), run переходит в SUCCEEDED.
func (r *ActionRun) CompleteStep(index int, terminal bool) {
	if r.Status.IsTerminal() || index != r.LastCompleted+1 {
		return
	}
	r.LastCompleted = index
	r.InFlight = 0
	r.ClaimedAt = nil
	if terminal || index >= r.TotalSteps {
		r.MarkSucceeded()
	}
}

// Defer учитывает откладывание шага.
func (r *ActionRun) Defer() {
	r.Deferrals++
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *ActionRun) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
	r.InFlight = 0
	r.ClaimedAt = nil
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *ActionRun) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
	r.InFlight = 0
	r.ClaimedAt = nil
}

// IsFinished возвращает true, если run завершён.
func (r *ActionRun) IsFinished() bool {
	return r.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
func (r *ActionRun) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// StepJob — единица отложенной работы: выполнить один шаг action.
//
// Передаётся через очередь. Содержит пароль (если credentials зашифрованы),
// но никогда — расшифрованные credentials: расшифровка выполняется
// внутри Worker'а в момент выполнения шага.
type StepJob struct {
	// ID — уникальный идентификатор задания (для логов и дедупликации сообщений).
	ID uuid.UUID `json:"id"`

	// RunID — run, к которому относится шаг.
	RunID uuid.UUID `json:"run_id"`

	// PostID — пост.
	PostID uuid.UUID `json:"post_id"`

	// InstanceID — экземпляр платформы.
	InstanceID uuid.UUID `json:"instance_id"`

	// Index — номер шага (с 1).
	Index int `json:"index"`

	// Step — определение шага.
	Step ActionStep `json:"step"`

	// Password — пароль для расшифровки credentials (может быть пустым).
	Password string `json:"password,omitempty"`

	// RunAt — время, на которое запланировано выполнение.
	RunAt time.Time `json:"run_at"`

	// Delay — шаг между запусками; на столько откладывается шаг,
	// если предыдущий ещё не завершён.
	Delay time.Duration `json:"delay"`
}

// Deferred возвращает копию задания, перенесённую на ещё один Delay.
func (j StepJob) Deferred(now time.Time) *StepJob {
	j.ID = uuid.New()
	j.RunAt = now.Add(j.Delay)
	return &j
}
