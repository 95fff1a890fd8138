package posts

import (
	"github.com/shaiso/omnipost/internal/domain"
	"github.com/shaiso/omnipost/internal/vault"
)

// GetCredentials возвращает открытые credentials экземпляра.
//
// Без соли credentials хранятся открытым текстом и возвращаются копией.
// С солью — расшифровываются паролем; без пароля ErrPasswordRequired.
func GetCredentials(inst *domain.PlatformInstance, password string) (map[string]string, error) {
	if !inst.Encrypted() {
		out := make(map[string]string, len(inst.Credentials))
		for k, v := range inst.Credentials {
			out[k] = v
		}
		return out, nil
	}

	if password == "" {
		return nil, ErrPasswordRequired
	}
	return vault.DecryptMap(inst.Credentials, password, inst.Salt)
}

// SealInstance подготавливает экземпляр к сохранению.
//
// Проверяет, что все ключи из INSTANCE платформы присутствуют.
// Если передан пароль, весь набор credentials шифруется заново
// со свежей солью. Credentials должны быть открытым текстом.
func SealInstance(inst *domain.PlatformInstance, password string) error {
	if err := inst.ValidateCredentials(); err != nil {
		return err
	}
	if password == "" {
		return nil
	}

	encrypted, salt, err := vault.EncryptMap(inst.Credentials, password, nil)
	if err != nil {
		return err
	}

	inst.Credentials = encrypted
	inst.Salt = salt
	return nil
}
