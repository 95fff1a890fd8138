package worker

import (
	"errors"
	"fmt"
)

// Ошибки воркера.
var (
	// ErrMissingResponseField — в JSON ответа нет ключа из variable_mapping.
	ErrMissingResponseField = errors.New("missing response field")

	// ErrPredecessorIncomplete — предыдущий шаг так и не завершился
	// за отведённое число откладываний.
	ErrPredecessorIncomplete = errors.New("previous step did not complete")

	// ErrStepPanic — паника при выполнении шага.
	ErrStepPanic = errors.New("step panicked")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")

	// ErrHTTPRequest — не удалось построить HTTP-запрос.
	ErrHTTPRequest = errors.New("http request failed")
)

// UnexpectedStatusError — сторонний API вернул не тот код ответа.
type UnexpectedStatusError struct {
	Expected int
	Actual   int
	Body     string // тело ответа как есть
}

// Error реализует интерфейс error.
func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d (expected %d): %s", e.Actual, e.Expected, truncate(e.Body, 200))
}

// TransportError — сетевая ошибка или таймаут.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

// Error реализует интерфейс error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap возвращает базовую ошибку.
func (e *TransportError) Unwrap() error {
	return e.Err
}
