package vault

import "errors"

// Ошибки vault.
var (
	// ErrDecryption — неверный пароль, повреждённый или подделанный токен.
	// Причина намеренно не уточняется.
	ErrDecryption = errors.New("decryption failed")

	// ErrEmptyPassword — пароль не задан.
	ErrEmptyPassword = errors.New("password is empty")
)
