package repo

import (
	"errors"

	"github.com/shaiso/omnipost/internal/domain"
)

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = domain.ErrNotFound

	// ErrVersionConflict — пост изменён другим писателем.
	ErrVersionConflict = domain.ErrVersionConflict

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")
)
