package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueStats — глубина очереди и число потребителей.
type QueueStats struct {
	Name      string `json:"name"`
	Messages  int    `json:"messages"`
	Consumers int    `json:"consumers"`
}

// Stats — состояние очередей jobs.
type Stats struct {
	Ready QueueStats `json:"ready"`
	DLQ   QueueStats `json:"dlq"`
}

// Inspector читает состояние очередей через passive declare.
type Inspector struct {
	conn *Connection
}

// NewInspector создаёт Inspector.
func NewInspector(conn *Connection) *Inspector {
	return &Inspector{conn: conn}
}

// Stats возвращает глубину jobs.ready и dlq.jobs.
func (i *Inspector) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats

	err := i.conn.WithTempChannel(ctx, func(ch *amqp.Channel) error {
		for _, q := range []struct {
			name string
			dst  *QueueStats
			args amqp.Table
		}{
			{QueueReady, &stats.Ready, readyArgs()},
			{QueueDLQ, &stats.DLQ, nil},
		} {
			info, err := ch.QueueDeclarePassive(q.name, true, false, false, false, q.args)
			if err != nil {
				return fmt.Errorf("inspect queue %s: %w", q.name, err)
			}
			*q.dst = QueueStats{Name: info.Name, Messages: info.Messages, Consumers: info.Consumers}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
