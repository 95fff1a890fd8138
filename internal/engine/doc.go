// Package engine понимает декларативное описание платформы.
//
// Включает:
//   - parser.go   — разбор и валидация PlatformConfig (JSON Schema + структурные проверки)
//   - template.go — подстановка credentials и состояния поста в шаблон запроса
//
// Engine не выполняет запросы: он превращает RequestTemplate в конкретный
// Request, который исполняет worker.
package engine
