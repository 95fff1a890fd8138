// Package vault шифрует credentials экземпляров платформ.
//
// Ключ выводится из пароля пользователя через PBKDF2-HMAC-SHA256
// (100 000 итераций, 32 байта) и соли, которая хранится рядом с экземпляром.
// Значения шифруются Fernet-токенами (версия, timestamp, AES-CBC, HMAC-SHA256).
//
// Все функции чистые: пароль нигде не сохраняется, состояние отсутствует.
package vault
