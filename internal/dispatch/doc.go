// Package dispatch доставляет jobs провайдеру.
//
// Порядок проверок для каждого job:
//
//  1. run снят администратором — job подтверждается без лога;
//  2. circuit страницы открыт — auth_error с кодом CIRCUIT_OPEN, без повтора;
//  3. rate limiter страницы отказал — повтор через окно, попытка не считается;
//  4. вызов провайдера и классификация ответа.
//
// Повторы: rate limit и временные ошибки повторяются до MaxAttempts
// с задержкой Backoff*2^attempt; запись в лог делается один раз, по
// итогу. Auth ошибки не повторяются и считаются circuit breaker.
// Ошибка 551 деактивирует получателя в фоне.
package dispatch
