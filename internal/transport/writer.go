// Package transport connects the pipeline to Kafka: a kafka-go writer for
// producers and a confluent-kafka-go consumer that hands out batches.
package transport

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// NewWriter returns a synchronous writer that waits for all in-sync replicas
// to acknowledge each write. Messages are hashed to partitions by key.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		BatchSize:              1,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}
}
