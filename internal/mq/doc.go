// Package mq — очередь доставки на RabbitMQ.
//
//   - connection.go — соединение с переподключением
//   - topology.go   — обменники, очереди, delay-очереди
//   - publisher.go  — публикация jobs с приоритетом и задержкой
//   - consumer.go   — конкурентное потребление с ручным ack
//   - inspector.go  — глубина очередей для операторов
//
// Trigger jobs публикуются с приоритетом 9, bulk jobs с приоритетом 1,
// поэтому trigger-сообщения не ждут за большой рассылкой.
// Отложенная доставка сделана через очереди jobs.delay.<ms> с TTL,
// которые по истечении перекладывают сообщение в jobs.ready.
package mq
