// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с переподключением, канал publisher confirms
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — EnqueueAt: публикация шагов с задержкой
//   - consumer.go   — параллельное выполнение шагов из steps.ready
//
// Типы сообщений:
//   - step.ready — шаг action готов к выполнению (payload: domain.StepJob)
//
// Отложенные шаги публикуются в очереди ожидания steps.delay.* (1s, 10s,
// 1m, 10m, 1h). У каждой свой TTL, потребителей нет: истёкшие сообщения
// через dead-letter-exchange попадают в steps.ready. Шаг кладётся в самую
// длинную очередь, TTL которой не больше задержки; если после доставки
// RunAt ещё не наступил, consumer откладывает шаг снова на остаток.
//
// Exchanges:
//   - omnipost.steps — шаги (ready и delayed)
//   - omnipost.dlq   — dead letter queue
package mq
