// Package posts — контракт изменения агрегата Post/PlatformInstance.
//
// Post.Configs — память между шагами action, разделённая по платформам.
// Все записи проходят через Service: блокировка по ID поста
// (lock.Locker) плюс compare-and-swap по Post.Version в хранилище.
// При конфликте версии запись перечитывается и повторяется.
//
// Здесь же доступ к credentials экземпляра (GetCredentials, SealInstance)
// и загрузка медиа поста в объектное хранилище (AttachMedia).
package posts
