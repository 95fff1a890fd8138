package engine

import (
	"errors"
	"fmt"

	"github.com/shaiso/omnipost/internal/domain"
)

// Ошибки подстановки.
var (
	// ErrTemplate — после подстановки шаблон перестал быть валидным JSON.
	ErrTemplate = errors.New("template error")

	// ErrUnresolvedPlaceholder — в strict режиме остался неразрешённый плейсхолдер.
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")
)

// ErrInvalidPlatformConfig — конфигурация платформы не прошла валидацию.
// Является ошибкой конфигурации (domain.ErrConfiguration).
var ErrInvalidPlatformConfig = fmt.Errorf("%w: invalid platform config", domain.ErrConfiguration)

// TemplateError — ошибка подстановки с контекстом.
type TemplateError struct {
	Stage string // "encode", "decode", "strict"
	Err   error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *TemplateError) Error() string {
	return "template " + e.Stage + ": " + e.Err.Error()
}

// Unwrap возвращает базовую ошибку.
func (e *TemplateError) Unwrap() error {
	return e.Err
}

// ValidationError — ошибка валидации конфигурации с контекстом.
type ValidationError struct {
	Action  string // имя action (может быть пустым)
	Step    int    // номер шага с 1 (0 — не относится к шагу)
	Message string // описание ошибки
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	switch {
	case e.Action != "" && e.Step > 0:
		return fmt.Sprintf("action %s step %d: %s", e.Action, e.Step, e.Message)
	case e.Action != "":
		return fmt.Sprintf("action %s: %s", e.Action, e.Message)
	default:
		return e.Message
	}
}

// Unwrap возвращает ErrInvalidPlatformConfig.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidPlatformConfig
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(action string, step int, message string) *ValidationError {
	return &ValidationError{
		Action:  action,
		Step:    step,
		Message: message,
	}
}
