// Package telemetry — логи, метрики и трассировка omnipost.
//
//   - logging.go — slog с атрибутом service; логгер шага передаётся через context
//   - metrics.go — шаги по исходу, длительность вызовов API, уведомления, runs, глубина очереди
//   - tracing.go — span на каждый шаг (stdout exporter, включается OMNIPOST_TRACING)
//
// Методы Metrics безопасны на nil: компоненты работают и без метрик.
package telemetry
