// Package memstore — хранилище в памяти для одного процесса и тестов.
//
// Реализует те же операции, что и internal/repo, с теми же ошибками
// (domain.ErrNotFound, domain.ErrVersionConflict). Все значения
// копируются на входе и выходе, поэтому вызывающий не может
// изменить хранимое состояние в обход UpdatePost/UpdateRun.
package memstore
