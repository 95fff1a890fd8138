// Package worker выполняет шаги action.
//
// # Обзор
//
// Шаг (domain.StepJob) — единица работы очереди. Worker получает шаги
// из RabbitMQ (steps.ready) или из in-process очереди (queue.Local)
// и передаёт их StepExecutor'у.
//
// # Выполнение шага
//
//  1. Claim: run не завершён, шаг следующий по порядку и не взят другим исполнителем
//  2. Загрузка экземпляра и платформы
//  3. Расшифровка credentials (только здесь, пароль приходит в задании)
//  4. Подстановка: credentials, затем состояние поста для платформы
//  5. Один HTTP-вызов (HTTPExecutor.Do)
//  6. Проверка кода и извлечение полей (Evaluate)
//  7. Атомарная запись извлечённых полей (posts.Service)
//  8. CompleteStep; на терминальном шаге — уведомление об успехе
//
// Любая ошибка на шагах 2–7 переводит run в FAILED и создаёт ровно одно
// уведомление об ошибке. Остальные шаги run после этого пропускаются.
//
// # Порядок
//
// Шаги ставятся в очередь с фиксированным интервалом. Если шаг i+1
// пришёл раньше, чем завершился шаг i, он откладывается ещё на один
// интервал (не более MaxDeferrals раз, затем run падает).
//
// # Повторные доставки
//
// Очередь доставляет задания at-least-once. Шаг, уже завершённый
// или выполняющийся в пределах lease, пропускается.
//
// # Ошибки
//
//   - UnexpectedStatusError — код ответа не совпал; тело попадает в уведомление
//   - TransportError — сеть или таймаут; автоматического retry нет
//   - ErrMissingResponseField — в ответе нет ключа из variable_mapping
//   - vault.ErrDecryption, engine.ErrTemplate — как и остальные, фатальны для run
package worker
