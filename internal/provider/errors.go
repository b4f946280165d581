package provider

import "strconv"

// Коды ошибок, которые формирует сам клиент.
const (
	CodeNetworkError = "NETWORK_ERROR"
	CodeUnknown      = "UNKNOWN"
)

// Error — структурированная ошибка провайдера.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	return "provider error " + e.Code + ": " + e.Message
}

// Class — класс ошибки, определяющий политику обработки job.
type Class int

const (
	// ClassTransient — временная ошибка: повтор с backoff.
	ClassTransient Class = iota

	// ClassRateLimit — провайдер ограничил частоту: повтор с backoff.
	ClassRateLimit

	// ClassAuth — проблема с токеном или правами страницы: без повтора, сигнал circuit breaker.
	ClassAuth

	// ClassPermanent — получатель недоступен: без повтора.
	ClassPermanent
)

// String возвращает имя класса для логов.
func (c Class) String() string {
	switch c {
	case ClassRateLimit:
		return "rate_limit"
	case ClassAuth:
		return "auth"
	case ClassPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// Retryable возвращает true, если job с такой ошибкой повторяется.
func (c Class) Retryable() bool {
	return c == ClassTransient || c == ClassRateLimit
}

var (
	rateLimitCodes = map[string]bool{"4": true, "17": true, "32": true, "613": true}
	authCodes      = map[string]bool{"190": true, "200": true}
	permanentCodes = map[string]bool{"10": true, "100": true, "551": true, "230": true, "368": true}
)

// Classify определяет класс ошибки по коду провайдера.
// Auth проверяется раньше permanent: 190 и 200 не повторяются, но
// дополнительно учитываются circuit breaker.
func Classify(code string) Class {
	switch {
	case rateLimitCodes[code] || isBusinessRateLimit(code):
		return ClassRateLimit
	case authCodes[code]:
		return ClassAuth
	case permanentCodes[code]:
		return ClassPermanent
	default:
		return ClassTransient
	}
}

// isBusinessRateLimit — коды 80000–80008.
func isBusinessRateLimit(code string) bool {
	n, err := strconv.Atoi(code)
	return err == nil && n >= 80000 && n <= 80008
}

// ShouldDeactivateSubscriber возвращает true для ошибки «получатель недоступен».
func ShouldDeactivateSubscriber(code string) bool {
	return code == "551"
}
