package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Notification is the envelope written by sinks that persist or forward messages.
type Notification struct {
	Subject string    `json:"subject"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// Sink is a publish-only notification channel. Delivery is not confirmed.
type Sink interface {
	Publish(ctx context.Context, subject, message string) error
}

// MultiSink fans out to every sink; one failing sink does not stop the others.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Publish(ctx context.Context, subject, message string) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, subject, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes notifications to the structured log.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink { return &LogSink{log: log} }

func (l *LogSink) Publish(_ context.Context, subject, message string) error {
	l.log.Warn().Str("subject", subject).Msg(message)
	return nil
}

// FileSink appends notifications as JSON lines.
type FileSink struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &FileSink{path: path, now: time.Now}, nil
}

func (w *FileSink) Publish(_ context.Context, subject, message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	n := Notification{Subject: subject, Message: message, SentAt: w.now().UTC()}
	if err := json.NewEncoder(f).Encode(&n); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// KafkaSink publishes notifications to a Kafka topic keyed by subject.
type KafkaSink struct {
	writer kafkaMessageWriter
	now    func() time.Time
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaSink creates a Kafka sink. bootstrap can be a comma-separated list of host:port.
func NewKafkaSink(bootstrap string, topic string) *KafkaSink {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			brokers = append(brokers, a)
		}
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}, now: time.Now}
}

// NewKafkaSinkWith is only for tests to inject a fake writer.
func NewKafkaSinkWith(w kafkaMessageWriter) *KafkaSink {
	return &KafkaSink{writer: w, now: time.Now}
}

func (k *KafkaSink) Publish(ctx context.Context, subject, message string) error {
	b, err := json.Marshal(Notification{Subject: subject, Message: message, SentAt: k.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(subject), Value: b}); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// Close releases the underlying writer when it supports closing.
func (k *KafkaSink) Close() error {
	if c, ok := k.writer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
