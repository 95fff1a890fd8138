package domain

// RunStatus — статус выполнения action для пары (post, instance).
//
// Жизненный цикл:
//
//	PENDING → RUNNING(шаг i) → RUNNING(шаг i+1) → SUCCEEDED
//	                         ↘ FAILED
//
// Финальные статусы не меняются: повторная доставка шага
// после SUCCEEDED или FAILED игнорируется.
type RunStatus string

const (
	// RunStatusPending — run создан, шаги поставлены в очередь.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — хотя бы один шаг начал выполняться.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — терминальный шаг выполнен успешно.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — шаг завершился ошибкой, остальные шаги не выполняются.
	RunStatusFailed RunStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed:
		return true
	default:
		return false
	}
}
