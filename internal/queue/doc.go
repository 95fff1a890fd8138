// Package queue — очередь отложенных шагов в памяти процесса.
//
// Используется, когда RabbitMQ не настроен (локальный запуск, CLI, тесты).
// Задания хранятся в min-heap по RunAt; один таймер будит диспетчер
// к ближайшему, готовые задания выполняет ограниченный пул горутин.
// При остановке процесса невыполненные задания теряются.
package queue
