package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/pbkdf2"
)

// Параметры вывода ключа.
const (
	Iterations = 100_000
	KeyLength  = 32
	SaltLength = 16
)

// DeriveKey выводит Fernet-ключ из пароля.
// Если salt пустой, генерируется новая случайная соль.
func DeriveKey(password string, salt []byte) (*fernet.Key, []byte, error) {
	if password == "" {
		return nil, nil, ErrEmptyPassword
	}

	if len(salt) == 0 {
		salt = make([]byte, SaltLength)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, fmt.Errorf("generate salt: %w", err)
		}
	}

	raw := pbkdf2.Key([]byte(password), salt, Iterations, KeyLength, sha256.New)

	var key fernet.Key
	copy(key[:], raw)
	return &key, salt, nil
}

// Encrypt шифрует строку ключом, выведенным из пароля и соли.
// Возвращает токен и использованную соль (новую, если salt был пустым).
func Encrypt(plaintext, password string, salt []byte) (string, []byte, error) {
	key, salt, err := DeriveKey(password, salt)
	if err != nil {
		return "", nil, err
	}

	token, err := encryptWithKey(plaintext, key)
	if err != nil {
		return "", nil, err
	}
	return token, salt, nil
}

// Decrypt расшифровывает токен.
// Любая ошибка (неверный пароль, повреждённый токен) — ErrDecryption.
func Decrypt(token, password string, salt []byte) (string, error) {
	if len(salt) == 0 {
		return "", ErrDecryption
	}

	key, _, err := DeriveKey(password, salt)
	if err != nil {
		return "", ErrDecryption
	}
	return decryptWithKey(token, key)
}

// EncryptMap шифрует все значения одной солью.
// Ключ выводится один раз на весь набор.
func EncryptMap(values map[string]string, password string, salt []byte) (map[string]string, []byte, error) {
	key, salt, err := DeriveKey(password, salt)
	if err != nil {
		return nil, nil, err
	}

	out := make(map[string]string, len(values))
	for k, v := range values {
		token, err := encryptWithKey(v, key)
		if err != nil {
			return nil, nil, fmt.Errorf("encrypt %s: %w", k, err)
		}
		out[k] = token
	}
	return out, salt, nil
}

// DecryptMap расшифровывает все значения.
// Ошибка на любом значении — ошибка всего набора.
func DecryptMap(values map[string]string, password string, salt []byte) (map[string]string, error) {
	if len(salt) == 0 {
		return nil, ErrDecryption
	}

	key, _, err := DeriveKey(password, salt)
	if err != nil {
		return nil, ErrDecryption
	}

	out := make(map[string]string, len(values))
	for k, v := range values {
		plain, err := decryptWithKey(v, key)
		if err != nil {
			return nil, err
		}
		out[k] = plain
	}
	return out, nil
}

func encryptWithKey(plaintext string, key *fernet.Key) (string, error) {
	token, err := fernet.EncryptAndSign([]byte(plaintext), key)
	if err != nil {
		return "", fmt.Errorf("fernet encrypt: %w", err)
	}
	return string(token), nil
}

// decryptWithKey проверяет подпись и расшифровывает токен.
// TTL отрицательный: срок жизни токена не ограничен.
func decryptWithKey(token string, key *fernet.Key) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(token), -1, []*fernet.Key{key})
	if msg == nil {
		return "", ErrDecryption
	}
	return string(msg), nil
}
