package dispatch

import "errors"

// Ошибки dispatch worker.
var (
	// ErrCircuitOpen — circuit страницы открыт, job не отправляется.
	ErrCircuitOpen = errors.New("circuit breaker is open for this page")

	// ErrInvalidJob — payload job не разбирается или не содержит получателя.
	ErrInvalidJob = errors.New("invalid job")
)

// Коды ошибок, которые worker пишет в лог сам.
const (
	CodeCircuitOpen = "CIRCUIT_OPEN"
)
