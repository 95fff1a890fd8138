package lock

import "errors"

// Ошибки блокировок.
var (
	// ErrNotAcquired — блокировку не удалось взять до отмены контекста.
	ErrNotAcquired = errors.New("lock not acquired")
)
