package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// PlatformInstance — привязка пользователя к платформе с его credentials
// (например, конкретный аккаунт в X).
//
// Credentials хранятся либо открытым текстом, либо зашифрованными
// Fernet-токенами. Если Salt заполнен — значения зашифрованы ключом,
// выведенным из пароля пользователя и этой соли.
type PlatformInstance struct {
	// ID — уникальный идентификатор экземпляра.
	ID uuid.UUID `json:"id"`

	// PlatformID — ссылка на платформу.
	PlatformID uuid.UUID `json:"platform_id"`

	// Platform — загруженная платформа (заполняется репозиторием).
	Platform *Platform `json:"platform,omitempty"`

	// OwnerID — владелец экземпляра.
	OwnerID uuid.UUID `json:"owner_id"`

	// Credentials — ключ → значение (шифротекст или открытый текст).
	Credentials map[string]string `json:"credentials"`

	// Salt — соль для вывода ключа. Nil, если credentials не шифровались.
	Salt []byte `json:"-"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// Encrypted возвращает true, если credentials зашифрованы.
func (i *PlatformInstance) Encrypted() bool {
	return len(i.Salt) > 0
}

// PlatformName возвращает имя платформы или пустую строку.
func (i *PlatformInstance) PlatformName() string {
	if i.Platform == nil {
		return ""
	}
	return i.Platform.Name
}

// ValidateCredentials проверяет, что все ключи из INSTANCE присутствуют.
func (i *PlatformInstance) ValidateCredentials() error {
	if i.Platform == nil {
		return ErrPlatformNotLoaded
	}

	// Сортируем, чтобы ошибка была детерминированной
	keys := make([]string, 0, len(i.Platform.Config.Instance))
	for key := range i.Platform.Config.Instance {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, ok := i.Credentials[key]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingCredential, key)
		}
	}
	return nil
}
