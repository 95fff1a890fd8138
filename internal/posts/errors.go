package posts

import (
	"errors"
	"fmt"

	"github.com/shaiso/omnipost/internal/vault"
)

// Ошибки сервиса постов.
var (
	// ErrPasswordRequired — credentials зашифрованы, а пароль не передан.
	// Обрабатывается так же, как ошибка расшифровки.
	ErrPasswordRequired = fmt.Errorf("%w: password required", vault.ErrDecryption)

	// ErrConflictRetriesExhausted — запись не прошла CAS за отведённое число попыток.
	ErrConflictRetriesExhausted = errors.New("post update conflict retries exhausted")

	// ErrNoUploader — у поста есть медиа, но загрузчик не настроен.
	ErrNoUploader = errors.New("media uploader not configured")
)
