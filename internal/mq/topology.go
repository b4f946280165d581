package mq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Имена обменников, очередей и ключей маршрутизации.
const (
	ExchangeJobs = "relay.jobs"
	ExchangeDLQ  = "relay.dlq"

	QueueReady = "jobs.ready"
	QueueDLQ   = "dlq.jobs"

	RoutingKeyReady = "ready"
	RoutingKeyDLQ   = "jobs"

	delayQueuePrefix = "jobs.delay."
)

// MaxPriority — x-max-priority очереди jobs.ready.
const MaxPriority = 10

// SetupTopology объявляет обменники, очереди и привязки.
// Delay-очереди объявляются при публикации.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, name := range []string{ExchangeJobs, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(name, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", name, err)
			}
		}

		queues := []struct {
			name string
			args amqp.Table
		}{
			{QueueReady, readyArgs()},
			{QueueDLQ, nil},
		}
		for _, q := range queues {
			if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		bindings := []struct{ queue, key, exchange string }{
			{QueueReady, RoutingKeyReady, ExchangeJobs},
			{QueueDLQ, RoutingKeyDLQ, ExchangeDLQ},
		}
		for _, b := range bindings {
			if err := ch.QueueBind(b.queue, b.key, b.exchange, false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

func readyArgs() amqp.Table {
	return amqp.Table{
		"x-max-priority":            int32(MaxPriority),
		"x-dead-letter-exchange":    ExchangeDLQ,
		"x-dead-letter-routing-key": RoutingKeyDLQ,
	}
}

// DelayQueueName возвращает имя delay-очереди для задержки.
// Задержка округляется до миллисекунд.
func DelayQueueName(delay time.Duration) string {
	return delayQueuePrefix + strconv.FormatInt(delay.Milliseconds(), 10)
}

// delayArgs — сообщения лежат ttl и уходят в jobs.ready через relay.jobs.
// Один TTL на очередь: сообщения истекают строго по порядку.
// x-expires не задаётся: у delay-очередей нет потребителей, и брокер
// удалил бы очередь вместе с ожидающими сообщениями.
func delayArgs(delay time.Duration) amqp.Table {
	ttl := delay.Milliseconds()
	return amqp.Table{
		"x-message-ttl":             ttl,
		"x-dead-letter-exchange":    ExchangeJobs,
		"x-dead-letter-routing-key": RoutingKeyReady,
	}
}

// TopologyInfo — схема для логов при старте.
func TopologyInfo() string {
	return `
  Relay RabbitMQ topology:

    relay.jobs (direct)
    └── jobs.ready [routing: ready, x-max-priority=10]
            Consumer: relay-worker
            DLQ: dlq.jobs

    (default exchange)
    └── jobs.delay.<ms> [x-message-ttl=<ms>]
            dead-letter → relay.jobs / ready

    relay.dlq (direct)
    └── dlq.jobs [routing: jobs]
            Manual processing
`
}
