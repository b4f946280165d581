package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrReject — обработчик отказывается от сообщения: оно уходит в DLQ
// без возврата в очередь.
var ErrReject = errors.New("reject message")

// Handler обрабатывает сообщение.
// nil — ack; ошибка с ErrReject — nack в DLQ; любая другая — nack с возвратом.
type Handler func(ctx context.Context, d *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// Attempt возвращает номер попытки из заголовка x-attempt.
func (d *Delivery) Attempt() int {
	return AttemptFromHeaders(d.Raw.Headers)
}

// AttemptFromHeaders читает x-attempt; отсутствующий или некорректный — 0.
func AttemptFromHeaders(h amqp.Table) int {
	switch v := h[HeaderAttempt].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int16:
		return int(v)
	case int8:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// ConsumerConfig — параметры Consumer.
type ConsumerConfig struct {
	Queue   string
	Handler Handler

	// Concurrency — сколько сообщений обрабатывается одновременно.
	// Он же prefetch: брокер не отдаёт больше неподтверждённых.
	Concurrency int
}

// Consumer читает очередь и раздаёт сообщения обработчику в пуле горутин.
// Неподтверждённые сообщения возвращаются брокером в очередь при разрыве
// канала.
type Consumer struct {
	conn        *Connection
	logger      *slog.Logger
	queue       string
	handler     Handler
	concurrency int

	sem        chan struct{}
	inflight   sync.WaitGroup
	cancelFunc context.CancelFunc
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:        conn,
		logger:      logger.With("component", "consumer", "queue", cfg.Queue),
		queue:       cfg.Queue,
		handler:     cfg.Handler,
		concurrency: concurrency,
		sem:         make(chan struct{}, concurrency),
	}
}

// Start читает очередь до отмены ctx или Stop. Блокирует.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "error", err)
			if !c.waitReconnect(ctx) {
				return ctx.Err()
			}
			continue
		}

		c.logger.Info("consumer started", "concurrency", c.concurrency)

		if err := c.processDeliveries(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, waiting for reconnect")
			if !c.waitReconnect(ctx) {
				return ctx.Err()
			}
		}
	}
}

func (c *Consumer) waitReconnect(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.conn.ReconnectNotify():
		return true
	}
}

func (c *Consumer) setupConsume() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil || ch.IsClosed() {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return deliveries, nil
}

func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c.sem <- struct{}{}:
		}

		select {
		case <-ctx.Done():
			<-c.sem
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				<-c.sem
				return errors.New("deliveries channel closed")
			}

			c.inflight.Add(1)
			go func() {
				defer c.inflight.Done()
				defer func() { <-c.sem }()
				// Начатая доставка доводится до конца и при остановке.
				c.handleDelivery(context.WithoutCancel(ctx), raw)
			}()
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic", "panic", r, "message_id", raw.MessageId)
			c.nack(raw, false)
		}
	}()

	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("failed to unmarshal message", "error", err, "body", string(raw.Body))
		c.nack(raw, false)
		return
	}

	d := &Delivery{Message: msg, Raw: raw}

	if err := c.handler(ctx, d); err != nil {
		requeue := !errors.Is(err, ErrReject)
		c.logger.Error("handler failed",
			"message_id", msg.ID,
			"type", msg.Type,
			"requeue", requeue,
			"error", err,
		)
		c.nack(raw, requeue)
		return
	}

	if err := raw.Ack(false); err != nil {
		c.logger.Warn("ack failed", "message_id", msg.ID, "error", err)
	}
}

func (c *Consumer) nack(raw amqp.Delivery, requeue bool) {
	if err := raw.Nack(false, requeue); err != nil {
		c.logger.Warn("nack failed", "message_id", raw.MessageId, "error", err)
	}
}

// Stop прекращает чтение и ждёт завершения начатых обработчиков.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.inflight.Wait()
}

// ParsePayload разбирает payload сообщения в T.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
