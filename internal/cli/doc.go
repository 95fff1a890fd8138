// Package cli реализует офлайн-утилиту командной строки omnipost.
//
// CLI не ходит в базу и очередь: все команды работают с локальными
// файлами и аргументами. Это инструменты оператора, который пишет
// конфигурации платформ и готовит credentials.
//
// # Команды
//
//   - platform validate FILE — проверить конфигурацию (JSON Schema + структура)
//   - platform credentials FILE — ключи, которые нужны экземпляру
//   - vault encrypt|decrypt — шифрование credentials паролем
//   - action plan FILE ACTION — расписание шагов action
//
// # Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: omnipost platform validate x.json --json | jq .
//
// Каждая группа создаётся фабричной функцией (NewPlatformCmd и т.д.),
// принимающей outputFn — замыкание для ленивого создания Output
// после парсинга PersistentFlags.
package cli
