package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shaiso/Relay/internal/circuit"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/mq"
	"github.com/shaiso/Relay/internal/provider"
)

const (
	defaultConcurrency       = 50
	defaultJobsPerSecond     = 100
	defaultMaxAttempts       = 3
	defaultBackoff           = 2 * time.Second
	defaultSideEffectTimeout = 30 * time.Second
)

// Зависимости Worker. Реализуются provider, circuit, ratelimit, purge,
// logwriter, mq и repo.
type (
	Sender interface {
		Send(ctx context.Context, accessToken, recipientID string, msg json.RawMessage) provider.Result
	}

	CircuitBreaker interface {
		IsOpen(pageID string) bool
		RecordFailure(pageID string)
		RecordSuccess(pageID string)
	}

	RateLimiter interface {
		Allow(ctx context.Context, pageID string) (bool, error)
		Window() time.Duration
	}

	PurgeChecker interface {
		IsPurged(ctx context.Context, kind domain.JobKind, runID int64) (bool, error)
	}

	LogSink interface {
		Add(ctx context.Context, entry domain.LogEntry) error
	}

	Requeuer interface {
		Requeue(ctx context.Context, job domain.Job, delay time.Duration) error
	}

	SubscriberDeactivator interface {
		Deactivate(ctx context.Context, pageID, userID string) error
	}

	TriggerCanceller interface {
		CancelActiveForRecipient(ctx context.Context, pageID, userID, reason string) (int64, error)
	}
)

// Config — конфигурация Worker.
type Config struct {
	// Conn — соединение с RabbitMQ. Нужно только для Start.
	Conn  *mq.Connection
	Queue string

	Sender   Sender
	Breaker  CircuitBreaker
	Logs     LogSink
	Requeuer Requeuer

	// Опциональные зависимости.
	Limiter     RateLimiter
	Purges      PurgeChecker
	Subscribers SubscriberDeactivator
	TriggerRuns TriggerCanceller

	// Concurrency — одновременно обрабатываемые jobs (default: 50).
	Concurrency int

	// JobsPerSecond — общий потолок скорости процесса (default: 100).
	JobsPerSecond int

	// MaxAttempts — попыток на job, включая первую (default: 3).
	MaxAttempts int

	// Backoff — задержка первого повтора, дальше удваивается (default: 2s).
	Backoff time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Worker доставляет jobs провайдеру.
//
// Каждый job проходит проверки (снят ли run, открыт ли circuit,
// пропускает ли rate limiter), затем один вызов провайдера. Решение
// о повторе принимает Worker, а не очередь: повтор публикуется заново
// через delay-очередь с увеличенным attempt.
type Worker struct {
	conn        *mq.Connection
	queue       string
	sender      Sender
	breaker     CircuitBreaker
	logs        LogSink
	requeuer    Requeuer
	limiter     RateLimiter
	purges      PurgeChecker
	subscribers SubscriberDeactivator
	triggerRuns TriggerCanceller

	concurrency int
	maxAttempts int
	backoff     time.Duration
	throughput  *rate.Limiter

	logger *slog.Logger
	now    func() time.Time

	consumer    *mq.Consumer
	cancelFunc  context.CancelFunc
	wg          sync.WaitGroup
	sideEffects sync.WaitGroup
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	w := &Worker{
		conn:        cfg.Conn,
		queue:       cfg.Queue,
		sender:      cfg.Sender,
		breaker:     cfg.Breaker,
		logs:        cfg.Logs,
		requeuer:    cfg.Requeuer,
		limiter:     cfg.Limiter,
		purges:      cfg.Purges,
		subscribers: cfg.Subscribers,
		triggerRuns: cfg.TriggerRuns,
		concurrency: cfg.Concurrency,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}

	if w.queue == "" {
		w.queue = mq.QueueReady
	}
	if w.breaker == nil {
		w.breaker = circuit.New(circuit.Config{Enabled: false})
	}
	if w.concurrency <= 0 {
		w.concurrency = defaultConcurrency
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	if w.backoff <= 0 {
		w.backoff = defaultBackoff
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("component", "dispatch")
	if w.now == nil {
		w.now = time.Now
	}

	jps := cfg.JobsPerSecond
	if jps <= 0 {
		jps = defaultJobsPerSecond
	}
	w.throughput = rate.NewLimiter(rate.Limit(jps), jps)

	return w
}

// Start запускает потребление jobs.ready в фоне.
func (w *Worker) Start(ctx context.Context) error {
	if w.conn == nil {
		return errors.New("dispatch: no amqp connection")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:       w.queue,
		Handler:     w.handle,
		Concurrency: w.concurrency,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("job consumer error", "error", err)
		}
	}()

	w.logger.Info("dispatch worker started",
		"queue", w.queue,
		"concurrency", w.concurrency,
		"jobs_per_second", w.throughput.Limit(),
		"max_attempts", w.maxAttempts,
	)
	return nil
}

// Stop прекращает приём jobs и ждёт начатые, включая фоновые
// побочные эффекты. Log writer закрывает вызывающий после Stop.
func (w *Worker) Stop() {
	w.logger.Info("stopping dispatch worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}
	w.wg.Wait()
	w.sideEffects.Wait()

	w.logger.Info("dispatch worker stopped")
}

// Backoff возвращает задержку перед повтором после попытки attempt.
func (w *Worker) Backoff(attempt int) time.Duration {
	return w.backoff << attempt
}
