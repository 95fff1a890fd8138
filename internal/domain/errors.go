package domain

import (
	"errors"
	"fmt"
)

// ErrConfiguration — базовая ошибка конфигурации.
// Возвращается вызывающему синхронно и никогда не ретраится.
var ErrConfiguration = errors.New("configuration error")

// Ошибки конфигурации.
var (
	// ErrUnknownAction — action не описано в конфигурации платформы.
	ErrUnknownAction = fmt.Errorf("%w: unknown action", ErrConfiguration)

	// ErrMissingCredential — у экземпляра нет ключа, требуемого INSTANCE.
	ErrMissingCredential = fmt.Errorf("%w: missing instance credential", ErrConfiguration)

	// ErrPlatformNotLoaded — у экземпляра не загружена платформа.
	ErrPlatformNotLoaded = fmt.Errorf("%w: platform not loaded", ErrConfiguration)
)

// Ошибки хранилищ. Возвращаются всеми реализациями (repo, memstore).
var (
	// ErrNotFound — сущность не найдена.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict — запись с устаревшей версией (compare-and-swap не прошёл).
	ErrVersionConflict = errors.New("version conflict")
)
