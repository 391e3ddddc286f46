package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"clickstream/internal/model"
)

// Archive stores generated reports under a key. Writes are whole-object.
type Archive interface {
	Put(ctx context.Context, key string, r model.Report) error
}

// Key returns the archive key for a report: reports/<brand>_report_<generated_at>.json.
// Path separators in the brand are replaced so the key stays one level deep.
func Key(brand string, at time.Time) string {
	safe := strings.NewReplacer("/", "_", `\`, "_").Replace(brand)
	return fmt.Sprintf("reports/%s_report_%s.json", safe, at.UTC().Format(time.RFC3339Nano))
}

// FilesystemArchive writes each report as an indented JSON file below baseDir.
type FilesystemArchive struct {
	baseDir string
}

func NewFilesystemArchive(baseDir string) *FilesystemArchive {
	return &FilesystemArchive{baseDir: baseDir}
}

func (f *FilesystemArchive) Put(_ context.Context, key string, r model.Report) error {
	file := filepath.Join(f.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	// write-then-rename so a reader never sees a partial report
	tmp := file + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		out.Close()
		return fmt.Errorf("encode: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp, file); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Get reads an archived report back.
func (f *FilesystemArchive) Get(key string) (model.Report, error) {
	data, err := os.ReadFile(filepath.Join(f.baseDir, filepath.FromSlash(key)))
	if err != nil {
		return model.Report{}, fmt.Errorf("read report: %w", err)
	}
	var r model.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return model.Report{}, fmt.Errorf("unmarshal report: %w", err)
	}
	return r, nil
}

// KafkaArchive publishes each report as a record keyed by its archive key.
type KafkaArchive struct {
	writer kafkaMessageWriter
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaArchive creates a Kafka archive. brokers are host:port addresses.
func NewKafkaArchive(brokers []string, topic string) *KafkaArchive {
	return &KafkaArchive{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

// NewKafkaArchiveWith is only for tests to inject a fake writer.
func NewKafkaArchiveWith(w kafkaMessageWriter) *KafkaArchive {
	return &KafkaArchive{writer: w}
}

func (k *KafkaArchive) Put(ctx context.Context, key string, r model.Report) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b}); err != nil {
		return fmt.Errorf("kafka archive: %w", err)
	}
	return nil
}

func (k *KafkaArchive) Close() error {
	if c, ok := k.writer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// OpenArchive builds the archive named by kind: "file" (default) or "kafka".
func OpenArchive(kind, dir string, brokers []string, topic string) (Archive, func() error, error) {
	switch kind {
	case "", "file":
		return NewFilesystemArchive(dir), func() error { return nil }, nil
	case "kafka":
		if len(brokers) == 0 {
			return nil, nil, fmt.Errorf("kafka archive needs bootstrap servers")
		}
		ka := NewKafkaArchive(brokers, topic)
		return ka, ka.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown report archive %q", kind)
	}
}
