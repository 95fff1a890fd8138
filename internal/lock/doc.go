// Package lock сериализует запись состояния одного поста.
//
// Реализации:
//   - KeyedMutex — мьютекс на ключ внутри одного процесса
//   - RedisLocker — SET NX PX в Redis для нескольких процессов worker'а
//
// Lock не заменяет compare-and-swap на уровне хранилища:
// lease Redis может истечь, версия поста — нет.
package lock
