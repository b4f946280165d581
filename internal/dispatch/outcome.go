package dispatch

import (
	"time"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/provider"
)

// OutcomeKind — решение по job после одной попытки.
type OutcomeKind int

const (
	// OutcomeSuccess — доставлено.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeRetry — повторить позже.
	OutcomeRetry

	// OutcomeTerminal — не повторять, записать итог.
	OutcomeTerminal

	// OutcomeDrop — job снят администратором: подтвердить без лога.
	OutcomeDrop
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeTerminal:
		return "terminal"
	case OutcomeDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// Outcome — результат Process.
type Outcome struct {
	Kind OutcomeKind

	// Entry — запись лога. Для Retry пишется, только если попытки кончились.
	Entry *domain.LogEntry

	// Throttled — отказ rate limiter. Такой повтор не расходует попытку.
	Throttled bool

	// Delay — задержка повтора при Throttled.
	Delay time.Duration

	// Err — ошибка провайдера, если вызов был.
	Err *provider.Error
}

func success(entry domain.LogEntry) Outcome {
	return Outcome{Kind: OutcomeSuccess, Entry: &entry}
}

func terminal(entry domain.LogEntry, err *provider.Error) Outcome {
	return Outcome{Kind: OutcomeTerminal, Entry: &entry, Err: err}
}

func retry(entry domain.LogEntry, err *provider.Error) Outcome {
	return Outcome{Kind: OutcomeRetry, Entry: &entry, Err: err}
}

func throttled(delay time.Duration) Outcome {
	return Outcome{Kind: OutcomeRetry, Throttled: true, Delay: delay}
}
