// Package repo — хранилища на PostgreSQL (pgx/v5).
//
// Store объединяет репозитории и удовлетворяет портам хранилищ из
// runner, worker, posts и scheduler. Ошибки ErrNotFound и
// ErrVersionConflict совпадают с domain, поэтому вызывающий код
// проверяет их одинаково для repo и memstore.
//
// Запись Post.Configs — compare-and-swap по столбцу version.
// Изменение run — SELECT ... FOR UPDATE внутри транзакции.
package repo
