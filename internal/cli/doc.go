// Package cli реализует инструмент командной строки Relay.
//
// # Обзор
//
// CLI — клиент операционного API. Работает через HTTP, не импортирует
// внутренние пакеты системы. Одни команды обращаются к relay-api
// (очередь, сводки runs, удаление jobs), другие — к endpoints
// конкретного воркера (circuits, http-client, log-writer).
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API. Разбирает конверты {"data": ...} и
// {"error": {"code", "message"}}.
//
//	client := cli.NewClient("http://localhost:3000")
//	summary, err := client.RunSummary(cli.KindRun, 42)
//
// ## Output
//
// Таблицы (text/tabwriter) по умолчанию, JSON с флагом --json.
// Данные выводятся в stdout, сообщения — в stderr:
// relay stats queue --json | jq .
//
// ## Commands
//
//   - health
//   - stats: queue, circuits, log-writer, http-client, performance, rate-limit
//   - circuit reset, rate-limit reset
//   - run summary, trigger summary
//   - jobs purge
package cli
