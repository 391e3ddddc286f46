package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"

	"clickstream/internal/ingest"
)

// consumer is the subset of *ck.Consumer the batch source needs.
type consumer interface {
	ReadMessage(timeout time.Duration) (*ck.Message, error)
	Commit() ([]ck.TopicPartition, error)
	Seek(partition ck.TopicPartition, ignoredTimeoutMs int) error
	Close() error
}

// Handler processes one batch and returns one outcome per record, in order.
type Handler func(ctx context.Context, batch []ingest.Record) []ingest.Outcome

// BatchSource groups consumed messages into ingest batches of at most size
// records, waiting at most wait for a batch to fill.
type BatchSource struct {
	c    consumer
	size int
	wait time.Duration
	log  zerolog.Logger

	// positions[i] is where the i-th record of the last batch was read.
	positions []ck.TopicPartition
}

// NewBatchSource subscribes a manual-commit consumer group to topic.
func NewBatchSource(brokers, groupID, topic string, size int, wait time.Duration, log zerolog.Logger) (*BatchSource, error) {
	c, err := ck.NewConsumer(&ck.ConfigMap{
		"bootstrap.servers":  brokers,
		"group.id":           groupID,
		"enable.auto.commit": false,
		"auto.offset.reset":  "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("consumer: %w", err)
	}
	if err := c.SubscribeTopics([]string{topic}, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return NewBatchSourceWith(c, size, wait, log), nil
}

// NewBatchSourceWith is only for tests to inject a fake consumer.
func NewBatchSourceWith(c consumer, size int, wait time.Duration, log zerolog.Logger) *BatchSource {
	if size <= 0 {
		size = 100
	}
	if wait <= 0 {
		wait = time.Second
	}
	return &BatchSource{c: c, size: size, wait: wait, log: log}
}

func (b *BatchSource) Close() error { return b.c.Close() }

func isTimeout(err error) bool {
	var kerr ck.Error
	return errors.As(err, &kerr) && kerr.Code() == ck.ErrTimedOut
}

// Next blocks until a batch is ready, wait elapses, or ctx ends. An empty
// batch with a nil error means nothing arrived in time.
func (b *BatchSource) Next(ctx context.Context) ([]ingest.Record, error) {
	deadline := time.Now().Add(b.wait)
	batch := make([]ingest.Record, 0, b.size)
	b.positions = b.positions[:0]
	for len(batch) < b.size {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		msg, err := b.c.ReadMessage(remaining)
		if err != nil {
			if isTimeout(err) {
				break
			}
			if len(batch) > 0 {
				b.log.Warn().Err(err).Int("records", len(batch)).Msg("read failed, flushing partial batch")
				break
			}
			return nil, fmt.Errorf("read message: %w", err)
		}
		batch = append(batch, ingest.EncodeRecord(recordID(msg), msg.Value))
		b.positions = append(b.positions, msg.TopicPartition)
	}
	return batch, nil
}

func partitionID(tp ck.TopicPartition) string {
	topic := ""
	if tp.Topic != nil {
		topic = *tp.Topic
	}
	return fmt.Sprintf("%s-%d", topic, tp.Partition)
}

func recordID(msg *ck.Message) string {
	return fmt.Sprintf("%s-%d", partitionID(msg.TopicPartition), int64(msg.TopicPartition.Offset))
}

// rewind seeks each partition back to its first record whose outcome asked
// for redelivery. Records without an outcome count as retryable.
func (b *BatchSource) rewind(out []ingest.Outcome) error {
	done := make(map[string]bool)
	var errs []error
	for i, tp := range b.positions {
		if i < len(out) && !out[i].Retry {
			continue
		}
		id := partitionID(tp)
		if done[id] {
			continue
		}
		done[id] = true
		if err := b.c.Seek(tp, 0); err != nil {
			errs = append(errs, fmt.Errorf("seek %s to %d: %w", id, int64(tp.Offset), err))
		}
	}
	return errors.Join(errs...)
}

// Run pulls batches and hands them to h until ctx ends, committing offsets
// after each handled batch. Malformed records are reported in the outcomes
// and committed. A batch with retryable failures is rewound and redelivered
// after wait, and a batch cut short by ctx is left uncommitted, so delivery
// is at-least-once.
func (b *BatchSource) Run(ctx context.Context, h Handler) error {
	for {
		batch, err := b.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Error().Err(err).Msg("batch read failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.wait):
			}
			continue
		}
		if len(batch) == 0 {
			continue
		}
		out := h(ctx, batch)
		if ctx.Err() != nil {
			b.log.Warn().Int("records", len(batch)).Msg("stopped mid-batch, offsets left uncommitted")
			return nil
		}
		if len(out) < len(batch) || ingest.Retryable(out) {
			b.log.Warn().Int("records", len(batch)).Msg("retryable failures in batch, rewinding")
			if err := b.rewind(out); err != nil {
				b.log.Error().Err(err).Msg("rewind failed")
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.wait):
			}
			continue
		}
		if _, err := b.c.Commit(); err != nil {
			var kerr ck.Error
			if errors.As(err, &kerr) && kerr.Code() == ck.ErrNoOffset {
				continue
			}
			b.log.Error().Err(err).Int("records", len(batch)).Msg("offset commit failed")
		}
	}
}
