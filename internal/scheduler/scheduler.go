package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Relay/internal/telemetry"
)

// Poller запускает Cycle по расписанию.
//
// Циклы одного Poller не перекрываются: если предыдущий цикл ещё
// идёт, очередной пропускается с предупреждением. Ошибка цикла
// логируется, опрос продолжается.
type Poller struct {
	// Name — метка в логах и метриках (run, trigger).
	Name string

	Schedule cron.Schedule
	Cycle    func(ctx context.Context) error
	Logger   *slog.Logger

	// Now — источник времени; по умолчанию time.Now.
	Now func() time.Time

	busy    atomic.Bool
	running sync.WaitGroup
}

// Run выполняет первый цикл сразу и дальше по расписанию до отмены ctx.
// Перед возвратом дожидается текущего цикла.
func (p *Poller) Run(ctx context.Context) error {
	logger := p.logger()
	logger.Info("poller started")
	defer p.running.Wait()

	p.fire(ctx)

	for {
		next := p.Schedule.Next(p.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("poller stopped")
			return ctx.Err()
		case <-timer.C:
			p.fire(ctx)
		}
	}
}

// fire запускает цикл в фоне, если предыдущий завершён.
func (p *Poller) fire(ctx context.Context) {
	if !p.busy.CompareAndSwap(false, true) {
		telemetry.PollCyclesSkipped.WithLabelValues(p.Name).Inc()
		p.logger().Warn("previous cycle still in progress, skipping")
		return
	}

	p.running.Add(1)
	go func() {
		defer p.running.Done()
		defer p.busy.Store(false)
		p.runCycle(ctx)
	}()
}

// TryCycle выполняет цикл синхронно. Возвращает false, если цикл уже идёт.
func (p *Poller) TryCycle(ctx context.Context) bool {
	if !p.busy.CompareAndSwap(false, true) {
		telemetry.PollCyclesSkipped.WithLabelValues(p.Name).Inc()
		return false
	}
	defer p.busy.Store(false)

	p.runCycle(ctx)
	return true
}

func (p *Poller) runCycle(ctx context.Context) {
	start := time.Now()
	err := p.Cycle(ctx)
	telemetry.PollCycleDuration.WithLabelValues(p.Name).Observe(time.Since(start).Seconds())

	if err != nil && ctx.Err() == nil {
		p.logger().Error("poll cycle failed", "error", err, "duration", time.Since(start))
	}
}

// Busy сообщает, идёт ли сейчас цикл.
func (p *Poller) Busy() bool {
	return p.busy.Load()
}

func (p *Poller) logger() *slog.Logger {
	l := p.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("poller", p.Name)
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
