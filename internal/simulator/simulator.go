// Package simulator replays a clickstream CSV dataset onto the transport.
//
// A reader goroutine fills a bounded queue with rows; the sender drains it,
// stamps txn_timestamp, and waits for the broker ack before the next send.
package simulator

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"clickstream/internal/metrics"
)

const (
	DefaultDelay = time.Second
	DefaultQueue = 64
	DefaultLoops = 5

	keyColumn = "category_id"
)

// messageWriter is satisfied by *kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Config controls pacing. Delay 0 paces on broker acks only.
type Config struct {
	Delay time.Duration
	Queue int
	Loops int
}

// Stats counts rows per outcome across a replay.
type Stats struct {
	Sent    int
	Failed  int
	Skipped int
}

func (s *Stats) add(o Stats) {
	s.Sent += o.Sent
	s.Failed += o.Failed
	s.Skipped += o.Skipped
}

type row struct {
	line   int
	fields map[string]string
}

// Simulator sends dataset rows as JSON payloads keyed by category_id.
type Simulator struct {
	w       messageWriter
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Registry

	// Now stamps txn_timestamp. Split for testability.
	Now func() time.Time
}

// New returns a Simulator. Negative Delay, a non-positive Queue or Loops fall back to defaults; m may be nil.
func New(w messageWriter, cfg Config, log zerolog.Logger, m *metrics.Registry) *Simulator {
	if cfg.Delay < 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Queue <= 0 {
		cfg.Queue = DefaultQueue
	}
	if cfg.Loops <= 0 {
		cfg.Loops = DefaultLoops
	}
	return &Simulator{w: w, cfg: cfg, log: log, metrics: m, Now: time.Now}
}

// ReplayFile replays the dataset at path Loops times.
func (s *Simulator) ReplayFile(ctx context.Context, path string) (Stats, error) {
	var total Stats
	for i := 0; i < s.cfg.Loops; i++ {
		f, err := os.Open(path)
		if err != nil {
			return total, fmt.Errorf("open dataset: %w", err)
		}
		st, err := s.Replay(ctx, f)
		f.Close()
		total.add(st)
		s.log.Info().Int("loop", i+1).Int("sent", st.Sent).Int("failed", st.Failed).Int("skipped", st.Skipped).Msg("replay pass done")
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Replay sends every row of one CSV stream. Send failures are logged and
// skipped; only a header read error or ctx cancellation ends it early.
func (s *Simulator) Replay(ctx context.Context, r io.Reader) (Stats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Stats{}, nil
		}
		return Stats{}, fmt.Errorf("read header: %w", err)
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan row, s.cfg.Queue)
	skipped := make(chan int, 1)
	go s.read(ctx, cr, header, queue, skipped)

	var st Stats
	var tick <-chan time.Time
	if s.cfg.Delay > 0 {
		t := time.NewTicker(s.cfg.Delay)
		defer t.Stop()
		tick = t.C
	}
	first := true
	for rw := range queue {
		if !first && tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
			}
		}
		first = false
		if ctx.Err() != nil {
			break
		}
		if err := s.send(ctx, rw); err != nil {
			st.Failed++
			s.log.Error().Err(err).Int("line", rw.line).Msg("send failed")
			if s.metrics != nil {
				s.metrics.ReplayFailed.Inc()
			}
			continue
		}
		st.Sent++
		if s.metrics != nil {
			s.metrics.ReplaySent.Inc()
		}
	}
	cancel()
	for range queue {
		// drain so the reader can exit
	}
	st.Skipped = <-skipped
	return st, parent.Err()
}

// read feeds rows into queue until EOF or ctx ends, then reports how many malformed rows it skipped.
func (s *Simulator) read(ctx context.Context, cr *csv.Reader, header []string, queue chan<- row, skipped chan<- int) {
	defer close(queue)
	n := 0
	defer func() { skipped <- n }()
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil || len(rec) != len(header) {
			n++
			s.log.Warn().Err(err).Int("line", line).Int("fields", len(rec)).Msg("skipping malformed row")
			continue
		}
		fields := make(map[string]string, len(header))
		for i, h := range header {
			fields[h] = rec[i]
		}
		select {
		case queue <- row{line: line, fields: fields}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Simulator) send(ctx context.Context, rw row) error {
	payload := make(map[string]string, len(rw.fields)+1)
	for k, v := range rw.fields {
		payload[k] = v
	}
	payload["txn_timestamp"] = s.Now().UTC().Format(time.RFC3339Nano)
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	msg := kafka.Message{Key: []byte(rw.fields[keyColumn]), Value: b}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	s.log.Debug().Int("line", rw.line).Str(keyColumn, rw.fields[keyColumn]).Msg("row sent")
	return nil
}
