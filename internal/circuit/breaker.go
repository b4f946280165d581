// Package circuit изолирует страницы с повторяющимися ошибками авторизации.
//
// Состояние хранится в памяти процесса: каждый воркер ведёт свой набор
// circuits, общий для всех его goroutine.
package circuit

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Relay/internal/telemetry"
)

// Config — параметры breaker.
type Config struct {
	Enabled bool

	// Threshold — число подряд идущих auth ошибок до открытия.
	Threshold int

	// Timeout — время после последней ошибки, через которое circuit
	// закрывается сам.
	Timeout time.Duration

	Logger *slog.Logger

	// Now — источник времени. По умолчанию time.Now.
	Now func() time.Time
}

// State — снимок circuit одной страницы.
type State struct {
	PageID      string    `json:"page_id"`
	Failures    int       `json:"failures"`
	IsOpen      bool      `json:"is_open"`
	LastFailure time.Time `json:"last_failure"`
}

type circuitState struct {
	failures    int
	lastFailure time.Time
	open        bool
}

// Breaker — per-page circuit breaker.
//
// closed → (Threshold ошибок) → open → (Timeout с последней ошибки) → closed.
// Успех в любой момент удаляет состояние страницы.
type Breaker struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuitState
}

// New создаёт Breaker.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	b := &Breaker{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "circuit_breaker"),
		now:      cfg.Now,
		circuits: make(map[string]*circuitState),
	}
	if cfg.Enabled {
		b.logger.Info("circuit breaker enabled",
			"threshold", cfg.Threshold,
			"timeout", cfg.Timeout,
		)
	}
	return b
}

// IsOpen возвращает true, если отправка для страницы приостановлена.
// Истёкший по таймауту circuit удаляется и считается закрытым.
func (b *Breaker) IsOpen(pageID string) bool {
	if !b.cfg.Enabled {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[pageID]
	if !ok || !c.open {
		return false
	}

	elapsed := b.now().Sub(c.lastFailure)
	if elapsed > b.cfg.Timeout {
		delete(b.circuits, pageID)
		b.logger.Info("circuit closed after timeout",
			"page_id", pageID,
			"elapsed", elapsed,
		)
		return false
	}
	return true
}

// RecordFailure учитывает ошибку авторизации страницы.
func (b *Breaker) RecordFailure(pageID string) {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[pageID]
	if !ok {
		c = &circuitState{}
		b.circuits[pageID] = c
	}
	c.failures++
	c.lastFailure = b.now()

	if c.failures >= b.cfg.Threshold && !c.open {
		c.open = true
		telemetry.CircuitOpened.Inc()
		b.logger.Warn("circuit opened",
			"page_id", pageID,
			"failures", c.failures,
			"threshold", b.cfg.Threshold,
		)
		return
	}

	b.logger.Debug("circuit failure recorded",
		"page_id", pageID,
		"failures", c.failures,
	)
}

// RecordSuccess сбрасывает счётчик ошибок страницы.
func (b *Breaker) RecordSuccess(pageID string) {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[pageID]; ok {
		delete(b.circuits, pageID)
		b.logger.Debug("circuit reset on success",
			"page_id", pageID,
			"previous_failures", c.failures,
		)
	}
}

// Reset вручную закрывает circuit страницы.
// Возвращает false, если состояния для страницы нет.
func (b *Breaker) Reset(pageID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.circuits[pageID]; !ok {
		return false
	}
	delete(b.circuits, pageID)
	b.logger.Info("circuit manually reset", "page_id", pageID)
	return true
}

// States возвращает снимок всех отслеживаемых circuits, отсортированный по page_id.
func (b *Breaker) States() []State {
	b.mu.Lock()
	defer b.mu.Unlock()

	states := make([]State, 0, len(b.circuits))
	for pageID, c := range b.circuits {
		states = append(states, State{
			PageID:      pageID,
			Failures:    c.failures,
			IsOpen:      c.open,
			LastFailure: c.lastFailure,
		})
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].PageID < states[j].PageID
	})
	return states
}

// Settings возвращает действующую конфигурацию для stats endpoint.
func (b *Breaker) Settings() (enabled bool, threshold int, timeout time.Duration) {
	return b.cfg.Enabled, b.cfg.Threshold, b.cfg.Timeout
}
