package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Relay/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// MessageTypeJobSend — одна доставка одному получателю.
const MessageTypeJobSend MessageType = "job.send"

// HeaderAttempt — номер попытки job.
const HeaderAttempt = "x-attempt"

// Message — конверт сообщения в очереди.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrUnroutable — брокер вернул job: нет очереди под ключ маршрутизации.
var ErrUnroutable = errors.New("job returned by broker as unroutable")

// confirmBatch — сколько jobs публикуется до ожидания подтверждений.
// Буфер возвратов не меньше пачки, поэтому диспетчер канала не блокируется.
const confirmBatch = 256

// Publisher публикует jobs в RabbitMQ.
//
// Публикация идёт через собственный канал в режиме подтверждений с
// mandatory: job, которую брокер не смог маршрутизировать, возвращается
// вызывающему как ErrUnroutable, а не теряется.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger

	mu       sync.Mutex
	ch       *amqp.Channel
	returns  chan amqp.Return
	declared map[string]bool // delay-очереди, объявленные на ch
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:     conn,
		logger:   logger.With("component", "publisher"),
		declared: make(map[string]bool),
	}
}

// PublishJobs ставит jobs в очередь. Job с Delay от 1 мс проходит через
// delay-очередь и попадает в jobs.ready по истечении задержки.
// Возвращается после подтверждения брокером каждой пачки.
// При ошибке часть jobs может быть уже опубликована.
func (p *Publisher) PublishJobs(ctx context.Context, jobs []domain.Job) error {
	for start := 0; start < len(jobs); start += confirmBatch {
		end := min(start+confirmBatch, len(jobs))
		if err := p.publishBatch(ctx, jobs[start:end]); err != nil {
			return fmt.Errorf("publish jobs %d-%d of %d: %w", start+1, end, len(jobs), err)
		}
	}
	return nil
}

// Requeue повторно ставит job в очередь через delay.
// Attempt выставляет вызывающий.
func (p *Publisher) Requeue(ctx context.Context, job domain.Job, delay time.Duration) error {
	job.Delay = delay
	return p.publishBatch(ctx, []domain.Job{job})
}

// Close закрывает канал публикации.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		return nil
	}
	return p.ch.Close()
}

func (p *Publisher) publishBatch(ctx context.Context, jobs []domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	confirms := make([]*amqp.DeferredConfirmation, 0, len(jobs))
	for i := range jobs {
		job := &jobs[i]
		dc, err := p.publish(ctx, ch, job)
		if err != nil {
			return err
		}
		confirms = append(confirms, dc)
	}

	for i, dc := range confirms {
		if dc == nil {
			continue
		}
		acked, err := dc.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("wait confirm for job %s: %w", jobs[i].ID, err)
		}
		if !acked {
			return fmt.Errorf("job %s nacked by broker", jobs[i].ID)
		}
	}

	// Брокер присылает basic.return раньше basic.ack, поэтому после
	// подтверждений все возвраты пачки уже лежат в буфере.
	return p.collectReturns()
}

func (p *Publisher) publish(ctx context.Context, ch *amqp.Channel, job *domain.Job) (*amqp.DeferredConfirmation, error) {
	pub, err := NewJobPublishing(job, time.Now())
	if err != nil {
		return nil, err
	}

	exchange, key := ExchangeJobs, RoutingKeyReady
	if job.Delay >= time.Millisecond {
		exchange = ""
		key = DelayQueueName(job.Delay)
		if err := p.ensureDelayQueue(ch, job.Delay); err != nil {
			return nil, err
		}
	}

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, true, false, pub)
	if err != nil {
		return nil, fmt.Errorf("publish to %q/%s: %w", exchange, key, err)
	}

	p.logger.Debug("job published",
		"job_id", job.ID,
		"kind", job.Kind,
		"run_id", job.RunID,
		"user_id", job.UserID,
		"attempt", job.Attempt,
		"delay", job.Delay,
	)
	return dc, nil
}

// channel возвращает канал публикации, открывая новый после разрыва.
// Вызывается под p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	ch, err := p.conn.OpenChannel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	p.ch = ch
	p.returns = ch.NotifyReturn(make(chan amqp.Return, confirmBatch))
	p.declared = make(map[string]bool)
	return ch, nil
}

// collectReturns забирает возвраты из буфера. Delay-очередь вернувшейся
// job забывается, чтобы следующая публикация объявила её заново.
// Вызывается под p.mu.
func (p *Publisher) collectReturns() error {
	var returned []amqp.Return
	for {
		select {
		case r, ok := <-p.returns:
			if !ok {
				return unroutableError(returned)
			}
			returned = append(returned, r)
			delete(p.declared, r.RoutingKey)
			p.logger.Warn("job returned by broker",
				"message_id", r.MessageId,
				"exchange", r.Exchange,
				"routing_key", r.RoutingKey,
				"reply", r.ReplyText,
			)
		default:
			return unroutableError(returned)
		}
	}
}

func unroutableError(returned []amqp.Return) error {
	if len(returned) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d job(s), first %s via %q",
		ErrUnroutable, len(returned), returned[0].MessageId, returned[0].RoutingKey)
}

// ensureDelayQueue объявляет delay-очередь один раз на канал.
// Вызывается под p.mu.
func (p *Publisher) ensureDelayQueue(ch *amqp.Channel, delay time.Duration) error {
	name := DelayQueueName(delay)
	if p.declared[name] {
		return nil
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, delayArgs(delay)); err != nil {
		return fmt.Errorf("declare delay queue %s: %w", name, err)
	}
	p.declared[name] = true
	return nil
}

// NewJobPublishing собирает AMQP сообщение для job.
func NewJobPublishing(job *domain.Job, now time.Time) (amqp.Publishing, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal job: %w", err)
	}

	body, err := json.Marshal(Message{
		ID:        job.ID.String(),
		Type:      MessageTypeJobSend,
		Payload:   payload,
		Timestamp: now,
	})
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal message: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     min(job.Priority, MaxPriority),
		MessageId:    job.ID.String(),
		Timestamp:    now,
		Type:         string(MessageTypeJobSend),
		Headers:      amqp.Table{HeaderAttempt: int32(job.Attempt)},
		Body:         body,
	}, nil
}
