// Package api содержит операционный HTTP API.
//
// Структура:
//   - handler.go        — Handler и интерфейсы зависимостей
//   - routes.go         — регистрация маршрутов
//   - middleware.go     — middleware (logging, recovery)
//   - response.go       — унифицированные JSON-ответы и обработка ошибок
//   - dto.go            — структуры ответов
//   - health_handler.go — /health
//   - stats_handler.go  — /stats, ручной сброс circuit и rate limit
//   - run_handler.go    — сводки runs и удаление jobs
//
// Один и тот же Handler обслуживает relay-api и локальные endpoints
// воркера: маршрут регистрируется, только если процесс передал
// соответствующую зависимость.
package api
